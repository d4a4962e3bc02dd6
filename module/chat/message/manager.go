// Package message owns the lifecycle of a chat message: creation, reply
// snapshots, forwarding, seen advancement, sender-only revocation and per-user
// soft delete. Ordering is left to readers (created_at is a client clock).
package message

import (
	"context"
	"time"

	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"
	"PPChatSync/tools/ids"
	"PPChatSync/tools/safe"

	"go.uber.org/zap"
)

type Manager struct {
	store docstore.Store
	ident session.Identity
	sink  event.Sink

	now func() time.Time
	seq func() int64
}

type Option func(*Manager)

func WithEventSink(s event.Sink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithClock 替换时间源（测试用来模拟客户端时钟偏差）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithSeq(seq func() int64) Option {
	return func(m *Manager) { m.seq = seq }
}

func NewManager(store docstore.Store, ident session.Identity, opts ...Option) *Manager {
	safe.MustNotNil(store, "store")
	safe.MustNotNil(ident, "identity")
	m := &Manager{
		store: store,
		ident: ident,
		sink:  event.Nop,
		now:   time.Now,
		seq:   ids.NextSeq,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) nowMS() int64 {
	return m.now().UnixMilli()
}

// Get 读取单条消息
func (m *Manager) Get(ctx context.Context, messageID string) (*model.Message, error) {
	if _, err := session.Require(m.ident, ""); err != nil {
		return nil, err
	}
	return m.getMessage(ctx, messageID)
}

func (m *Manager) getMessage(ctx context.Context, messageID string) (*model.Message, error) {
	rec, err := m.store.Get(ctx, model.CollMessage, messageID)
	if err != nil {
		return nil, docstore.Classify(err, "get message", "message_id", messageID)
	}
	var msg model.Message
	if err := docstore.Decode(rec, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

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

func (m *Manager) publish(ctx context.Context, ev event.Event) {
	ev.At = m.nowMS()
	if err := m.sink.Publish(ctx, ev); err != nil {
		logger.Warn("[message] publish event failed", zap.String("type", string(ev.Type)),
			zap.String("conversation_id", ev.ConversationID), zap.Error(err))
	}
}
