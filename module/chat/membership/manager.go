// Package membership owns conversation creation and every change to who is in
// a conversation. Each mutation is a sequence of independent store writes
// (conversation document, link index, system notice) with no transaction: the
// first failing step is surfaced and nothing already committed is rolled back.
package membership

import (
	"context"
	"time"

	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"
	"PPChatSync/tools/errs"
	"PPChatSync/tools/safe"

	"go.uber.org/zap"
)

// Messages 成员变更需要的消息侧能力：系统旁白 + 整会话消息清理（message.Manager 实现）
type Messages interface {
	SendSystemNotice(ctx context.Context, convID, text string, action model.Action) (*model.Message, error)
	PurgeConversation(ctx context.Context, convID string) (int, error)
}

type Manager struct {
	store docstore.Store
	ident session.Identity
	msgs  Messages
	sink  event.Sink
	now   func() time.Time
}

type Option func(*Manager)

func WithEventSink(s event.Sink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store docstore.Store, ident session.Identity, msgs Messages, opts ...Option) *Manager {
	safe.MustNotNil(store, "store")
	safe.MustNotNil(ident, "identity")
	safe.MustNotNil(msgs, "messages")
	m := &Manager{store: store, ident: ident, msgs: msgs, sink: event.Nop, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) nowMS() int64 { return m.now().UnixMilli() }

func (m *Manager) getConversation(ctx context.Context, convID string) (*model.Conversation, error) {
	rec, err := m.store.Get(ctx, model.CollConversation, convID)
	if err != nil {
		return nil, docstore.Classify(err, "get conversation", "conversation_id", convID)
	}
	var conv model.Conversation
	if err := docstore.Decode(rec, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (m *Manager) putConversation(ctx context.Context, conv *model.Conversation) error {
	rec, err := docstore.Encode(conv)
	if err != nil {
		return err
	}
	if _, err := m.store.Put(ctx, model.CollConversation, conv.ConversationID, rec); err != nil {
		return docstore.Classify(err, "put conversation", "conversation_id", conv.ConversationID)
	}
	return nil
}

func (m *Manager) putLink(ctx context.Context, userID string, conv *model.Conversation) error {
	link := model.NewLink(userID, conv.ConversationID, conv.IsGroup, m.nowMS())
	rec, err := docstore.Encode(link)
	if err != nil {
		return err
	}
	if _, err := m.store.Put(ctx, model.CollUserConversation, link.LinkID, rec); err != nil {
		return docstore.Classify(err, "put link", "user_id", userID, "conversation_id", conv.ConversationID)
	}
	return nil
}

func (m *Manager) deleteLink(ctx context.Context, userID, convID string) error {
	if err := m.store.Delete(ctx, model.CollUserConversation, model.LinkID(userID, convID)); err != nil {
		return docstore.Classify(err, "delete link", "user_id", userID, "conversation_id", convID)
	}
	return nil
}

// memberSnapshot 取加入时的昵称快照；资料查不到不算错误
func (m *Manager) memberSnapshot(ctx context.Context, mem model.Member) model.Member {
	if mem.DisplayName != "" {
		return mem
	}
	rec, err := m.store.Get(ctx, model.CollUser, mem.UserID)
	if err != nil {
		if !docstore.IsNotFound(err) {
			logger.Debug("[membership] profile lookup failed", zap.String("user_id", mem.UserID), zap.Error(err))
		}
		return mem
	}
	var p model.UserProfile
	if err := docstore.Decode(rec, &p); err == nil {
		mem.DisplayName = p.Nickname
	}
	return mem
}

// areFriends a、b 之间是否存在已通过的好友申请（任一方向）
func (m *Manager) areFriends(ctx context.Context, a, b string) (bool, error) {
	for _, q := range []docstore.Query{
		docstore.Q().Eq("from", a).Eq("to", b).Eq("status", string(model.FriendAccepted)),
		docstore.Q().Eq("from", b).Eq("to", a).Eq("status", string(model.FriendAccepted)),
	} {
		recs, err := m.store.Query(ctx, model.CollFriendRequest, q.WithLimit(1))
		if err != nil {
			return false, docstore.Classify(err, "query friend request")
		}
		if len(recs) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) publish(ctx context.Context, ev event.Event) {
	ev.At = m.nowMS()
	if err := m.sink.Publish(ctx, ev); err != nil {
		logger.Warn("[membership] publish event failed", zap.String("type", string(ev.Type)),
			zap.String("conversation_id", ev.ConversationID), zap.Error(err))
	}
}

// partial 多步写入中途失败：step 标明卡在哪一步
func partial(err error, step string, kv ...any) error {
	return errs.ErrPartialWrite.WrapErr(err, "step "+step, kv...)
}

func displayName(mem model.Member) string {
	if mem.DisplayName != "" {
		return mem.DisplayName
	}
	return mem.UserID
}

func requireGroup(conv *model.Conversation) error {
	if !conv.IsGroup {
		return errs.ErrValidation.WrapMsg("not a group conversation", "conversation_id", conv.ConversationID)
	}
	return nil
}

func requireAdmin(conv *model.Conversation, actor string) error {
	if !conv.IsAdmin(actor) {
		return errs.ErrPermissionDenied.WrapMsg("admin only", "conversation_id", conv.ConversationID, "actor", actor)
	}
	return nil
}
