// Package natsx fans docstore change signals out over NATS so that every
// process subscribed to a Mongo-backed collection re-runs its snapshot query.
package natsx

import (
	"context"
	"sync"

	"PPChatSync/data/docstore"
	"PPChatSync/logger"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultSubjectPrefix = "ppsync.changes"
	headerOrigin         = "Ppsync-Origin"
)

// ChangeNotifier 本进程的写入直接唤醒本地 watcher，同时广播到 <prefix>.<collection>；
// 收到自己发出的广播时跳过
type ChangeNotifier struct {
	nc     *nats.Conn
	prefix string
	origin string
	local  *docstore.LocalNotifier

	mu   sync.Mutex
	subs map[string]*nats.Subscription // collection -> 订阅
	refs map[string]int
}

var _ docstore.Notifier = (*ChangeNotifier)(nil)

func NewChangeNotifier(nc *nats.Conn, prefix string) *ChangeNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &ChangeNotifier{
		nc:     nc,
		prefix: prefix,
		origin: uuid.NewString(),
		local:  docstore.NewLocalNotifier(),
		subs:   make(map[string]*nats.Subscription),
		refs:   make(map[string]int),
	}
}

func (n *ChangeNotifier) Subject(collection string) string {
	return n.prefix + "." + collection
}

func (n *ChangeNotifier) Notify(ctx context.Context, collection string) error {
	_ = n.local.Notify(ctx, collection)
	msg := nats.NewMsg(n.Subject(collection))
	msg.Header.Set(headerOrigin, n.origin)
	if err := n.nc.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "natsx: publish change %s", collection)
	}
	return nil
}

// Watch 同一集合只建一个 NATS 订阅，按引用计数释放
func (n *ChangeNotifier) Watch(collection string, fn func()) (docstore.Unsubscribe, error) {
	n.mu.Lock()
	if n.refs[collection] == 0 {
		sub, err := n.nc.Subscribe(n.Subject(collection), func(m *nats.Msg) {
			if m.Header.Get(headerOrigin) == n.origin {
				return
			}
			_ = n.local.Notify(context.Background(), collection)
		})
		if err != nil {
			n.mu.Unlock()
			return nil, errors.Wrapf(err, "natsx: subscribe %s", collection)
		}
		n.subs[collection] = sub
		logger.Debug("[natsx] watching collection", zap.String("subject", sub.Subject))
	}
	n.refs[collection]++
	n.mu.Unlock()

	stopLocal, _ := n.local.Watch(collection, fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			stopLocal()
			n.release(collection)
		})
	}, nil
}

func (n *ChangeNotifier) release(collection string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refs[collection]--
	if n.refs[collection] > 0 {
		return
	}
	delete(n.refs, collection)
	if sub, ok := n.subs[collection]; ok {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("[natsx] unsubscribe failed", zap.String("collection", collection), zap.Error(err))
		}
		delete(n.subs, collection)
	}
}

// Watching 当前持有 NATS 订阅的集合数
func (n *ChangeNotifier) Watching() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
