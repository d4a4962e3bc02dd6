package view

import (
	"context"
	"sync"

	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/module/chat/model"
	"PPChatSync/service/metrics"
	"PPChatSync/tools/errs"
	"PPChatSync/tools/safe"

	"go.uber.org/zap"
)

// DefaultWindow 订阅只看最近 N 条；是硬上限，不是分页游标
const DefaultWindow = 100

// SeenMarker 每次消息快照刷新后回调（message.Manager 实现）
type SeenMarker interface {
	MarkSeen(ctx context.Context, convID, readerID string) (int, error)
}

// UpdateFunc 消息或成员任一侧变化时回调；同一订阅的回调不会并发
type UpdateFunc func(messages []RenderedMessage, roster []RosterEntry)

type Synchronizer struct {
	store    docstore.Store
	seen     SeenMarker
	profiles ProfileResolver
	window   int
	onEnded  func()
}

type Option func(*Synchronizer)

func WithWindow(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.window = n
		}
	}
}

func WithProfiles(p ProfileResolver) Option {
	return func(s *Synchronizer) {
		if p != nil {
			s.profiles = p
		}
	}
}

// WithOnEnded 会话文档消失（解散/拆除）时回调一次；之后订阅仍需 Close
func WithOnEnded(fn func()) Option {
	return func(s *Synchronizer) {
		s.onEnded = fn
	}
}

func NewSynchronizer(store docstore.Store, seen SeenMarker, opts ...Option) *Synchronizer {
	safe.MustNotNil(store, "store")
	safe.MustNotNil(seen, "seen marker")
	s := &Synchronizer{store: store, seen: seen, window: DefaultWindow}
	s.profiles = NewMemoryCache(StoreProfiles{Store: store}, 0)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscription 一次会话视图订阅；持有者必须 Close，否则底层订阅一直存活
type Subscription struct {
	convID   string
	viewerID string
	sync     *Synchronizer
	onUpdate UpdateFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	messages []RenderedMessage
	roster   []RosterEntry
	unsubs   []docstore.Unsubscribe
	ended    bool

	emitMu sync.Mutex
}

// SubscribeToConversation 同时订阅消息（最近 window 条）和会话文档：
// 消息快照 → Materialize → MarkSeen；会话快照 → 解析成员资料；任一侧变化都回调 onUpdate。
func (s *Synchronizer) SubscribeToConversation(ctx context.Context, convID, viewerID string, onUpdate UpdateFunc) (*Subscription, error) {
	if convID == "" || viewerID == "" {
		return nil, errs.ErrValidation.WrapMsg("conversation_id and viewer_id required")
	}
	if onUpdate == nil {
		return nil, errs.ErrValidation.WrapMsg("onUpdate required")
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		convID:   convID,
		viewerID: viewerID,
		sync:     s,
		onUpdate: onUpdate,
		ctx:      subCtx,
		cancel:   cancel,
	}

	msgQuery := docstore.Q().Eq("conversation_id", convID).Sort("created_at", true).WithLimit(s.window)
	unsubMsgs, err := s.store.Subscribe(ctx, model.CollMessage, msgQuery, sub.onMessages)
	if err != nil {
		cancel()
		return nil, docstore.Classify(err, "subscribe messages", "conversation_id", convID)
	}

	unsubConv, err := s.store.Subscribe(ctx, model.CollConversation, docstore.Q().Eq(docstore.IDField, convID), sub.onConversation)
	if err != nil {
		unsubMsgs()
		cancel()
		return nil, docstore.Classify(err, "subscribe conversation", "conversation_id", convID)
	}
	sub.addUnsub(unsubMsgs)
	sub.addUnsub(unsubConv)

	metrics.ActiveSubscriptions.Inc()
	return sub, nil
}

func (sub *Subscription) addUnsub(u docstore.Unsubscribe) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		u()
		return
	}
	sub.unsubs = append(sub.unsubs, u)
}

// Close 释放两条底层订阅；可重复调用，回调内调用也安全
func (sub *Subscription) Close() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	unsubs := sub.unsubs
	sub.unsubs = nil
	sub.mu.Unlock()

	sub.cancel()
	for _, u := range unsubs {
		u()
	}
	metrics.ActiveSubscriptions.Dec()
}

func (sub *Subscription) Closed() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.closed
}

func (sub *Subscription) onMessages(recs []docstore.Record) {
	if sub.Closed() {
		return
	}
	raw, err := docstore.DecodeAll[model.Message](recs)
	if err != nil {
		logger.Warn("[view] decode message snapshot", zap.String("conversation_id", sub.convID), zap.Error(err))
		return
	}
	rendered := Materialize(raw, sub.viewerID)
	metrics.SnapshotRefreshes.WithLabelValues("messages").Inc()

	sub.mu.Lock()
	sub.messages = rendered
	sub.mu.Unlock()
	sub.emit()

	if sub.Ended() {
		return
	}
	// 每次刷新都无条件 MarkSeen；它是幂等的，失败只记日志，订阅继续
	if _, err := sub.sync.seen.MarkSeen(sub.ctx, sub.convID, sub.viewerID); err != nil && sub.ctx.Err() == nil {
		logger.Warn("[view] mark seen failed", zap.String("conversation_id", sub.convID),
			zap.String("viewer_id", sub.viewerID), zap.Error(err))
	}
}

func (sub *Subscription) onConversation(recs []docstore.Record) {
	if sub.Closed() {
		return
	}
	var conv *model.Conversation
	if len(recs) > 0 {
		var c model.Conversation
		if err := docstore.Decode(recs[0], &c); err != nil {
			logger.Warn("[view] decode conversation snapshot", zap.String("conversation_id", sub.convID), zap.Error(err))
			return
		}
		conv = &c
	}
	roster := BuildRoster(sub.ctx, conv, sub.sync.profiles)
	metrics.SnapshotRefreshes.WithLabelValues("conversation").Inc()

	sub.mu.Lock()
	sub.roster = roster
	endedNow := conv == nil && !sub.ended
	if conv == nil {
		sub.ended = true
	}
	sub.mu.Unlock()
	sub.emit()

	if endedNow && sub.sync.onEnded != nil {
		logger.Info("[view] conversation gone", zap.String("conversation_id", sub.convID), zap.String("viewer_id", sub.viewerID))
		safe.Call("view.onEnded", sub.sync.onEnded)
	}
}

// Ended 会话文档已不存在
func (sub *Subscription) Ended() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.ended
}

func (sub *Subscription) emit() {
	sub.emitMu.Lock()
	defer sub.emitMu.Unlock()

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	msgs := append([]RenderedMessage(nil), sub.messages...)
	roster := append([]RosterEntry(nil), sub.roster...)
	sub.mu.Unlock()

	safe.Call("view.onUpdate", func() { sub.onUpdate(msgs, roster) })
}

// Snapshot 最近一次物化结果
func (sub *Subscription) Snapshot() ([]RenderedMessage, []RosterEntry) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return append([]RenderedMessage(nil), sub.messages...), append([]RosterEntry(nil), sub.roster...)
}
