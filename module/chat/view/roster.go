package view

import (
	"context"
	"sync"
	"time"

	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/module/chat/model"

	"go.uber.org/zap"
)

type RosterEntry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	FaceURL     string `json:"face_url,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
	IsViceAdmin bool   `json:"is_vice_admin"`
}

// ProfileResolver 按用户ID取展示资料（昵称/头像）
type ProfileResolver interface {
	Resolve(ctx context.Context, userID string) (*model.UserProfile, error)
}

// StoreProfiles 直接点读 user 集合
type StoreProfiles struct {
	Store docstore.Store
}

func (p StoreProfiles) Resolve(ctx context.Context, userID string) (*model.UserProfile, error) {
	rec, err := p.Store.Get(ctx, model.CollUser, userID)
	if err != nil {
		return nil, docstore.Classify(err, "get profile", "user_id", userID)
	}
	var out model.UserProfile
	if err := docstore.Decode(rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type cached struct {
	p   *model.UserProfile
	exp time.Time
}

// MemoryCache 进程内 TTL 缓存；只缓存成功结果，失败下次重查
type MemoryCache struct {
	next ProfileResolver
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]cached
	now     func() time.Time
}

func NewMemoryCache(next ProfileResolver, ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{next: next, ttl: ttl, entries: make(map[string]cached), now: time.Now}
}

func (c *MemoryCache) Resolve(ctx context.Context, userID string) (*model.UserProfile, error) {
	c.mu.Lock()
	e, ok := c.entries[userID]
	c.mu.Unlock()
	if ok && c.now().Before(e.exp) {
		return e.p, nil
	}
	p, err := c.next.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[userID] = cached{p: p, exp: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return p, nil
}

// Invalidate 资料变更时主动失效
func (c *MemoryCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// BuildRoster 逐个解析成员资料（N 次点读）；单个失败降级为 "Unknown User"，不影响整体
func BuildRoster(ctx context.Context, conv *model.Conversation, profiles ProfileResolver) []RosterEntry {
	if conv == nil {
		return []RosterEntry{}
	}
	out := make([]RosterEntry, 0, len(conv.Members))
	for _, mem := range conv.Members {
		e := RosterEntry{
			UserID:      mem.UserID,
			IsAdmin:     conv.IsAdmin(mem.UserID),
			IsViceAdmin: conv.IsViceAdmin(mem.UserID),
		}
		p, err := profiles.Resolve(ctx, mem.UserID)
		switch {
		case err != nil:
			logger.Debug("[view] profile lookup failed", zap.String("user_id", mem.UserID), zap.Error(err))
			e.DisplayName = model.UnknownUser
		case p.Nickname != "":
			e.DisplayName, e.FaceURL = p.Nickname, p.FaceURL
		case mem.DisplayName != "":
			e.DisplayName, e.FaceURL = mem.DisplayName, p.FaceURL
		default:
			e.DisplayName, e.FaceURL = model.UnknownUser, p.FaceURL
		}
		out = append(out, e)
	}
	return out
}
