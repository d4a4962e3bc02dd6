package docstore

import (
	"context"
	"sync"

	"PPChatSync/logger"
	"PPChatSync/tools/safe"

	"go.uber.org/zap"
)

// Feed 是一条订阅的推送协程：Kick 标记“集合有写入”，协程重新查询并把全量快照交给回调。
// 连续多次 Kick 会合并成一次推送（快照是全量的，合并不会丢信息）。
type Feed struct {
	name  string
	query func(ctx context.Context) ([]Record, error)
	fn    SnapshotFunc

	ctx    context.Context
	cancel context.CancelFunc
	dirty  chan struct{}

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewFeed(name string, query func(ctx context.Context) ([]Record, error), fn SnapshotFunc) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		name:   name,
		query:  query,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		dirty:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go f.loop()
	f.Kick() // 首次快照
	return f
}

func (f *Feed) Kick() {
	select {
	case f.dirty <- struct{}{}:
	default:
	}
}

// Stop 停止推送；回调内调用也安全（不等待协程退出）
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	f.cancel()
}

// Done 协程退出后关闭
func (f *Feed) Done() <-chan struct{} { return f.done }

func (f *Feed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Feed) loop() {
	defer close(f.done)
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.dirty:
		}
		recs, err := f.query(f.ctx)
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			// 查询失败不终止订阅，等下一次写入再推
			logger.Warn("[docstore] snapshot query failed", zap.String("feed", f.name), zap.Error(err))
			continue
		}
		if f.isClosed() {
			return
		}
		safe.Call("docstore.feed."+f.name, func() { f.fn(recs) })
	}
}
