package redis

import (
	"context"
	"time"

	"PPChatSync/logger"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/chat/view"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const profileKeyPrefix = "ppsync:profile:"

func ProfileKey(userID string) string { return profileKeyPrefix + userID }

// ProfileCache 多进程共享的资料缓存：hash ppsync:profile:<uid> {nickname, face_url}，带 TTL。
// Redis 不可用时直接回源，缓存只是加速。
type ProfileCache struct {
	rdb  redis.Cmdable
	next view.ProfileResolver
	ttl  time.Duration
}

var _ view.ProfileResolver = (*ProfileCache)(nil)

func NewProfileCache(rdb redis.Cmdable, next view.ProfileResolver, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ProfileCache{rdb: rdb, next: next, ttl: ttl}
}

func (c *ProfileCache) Resolve(ctx context.Context, userID string) (*model.UserProfile, error) {
	key := ProfileKey(userID)
	vals, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		logger.Warn("[redis] profile cache read failed", zap.String("user_id", userID), zap.Error(err))
	} else if p, ok := decodeProfile(userID, vals); ok {
		return p, nil
	}

	p, err := c.next.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeProfile(p))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("[redis] profile cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return p, nil
}

func (c *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, ProfileKey(userID)).Err()
}

func encodeProfile(p *model.UserProfile) map[string]any {
	return map[string]any{"nickname": p.Nickname, "face_url": p.FaceURL}
}

func decodeProfile(userID string, vals map[string]string) (*model.UserProfile, bool) {
	nick, ok := vals["nickname"]
	if !ok {
		return nil, false
	}
	return &model.UserProfile{UserID: userID, Nickname: nick, FaceURL: vals["face_url"]}, true
}
