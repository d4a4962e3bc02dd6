package docstore

import (
	"context"
	"sync"
)

// Notifier 传播“某集合发生了写入”的信号，供没有原生推送能力的后端（Mongo）触发订阅刷新。
// 进程内用 LocalNotifier，多进程用 natsx.ChangeNotifier。
type Notifier interface {
	Notify(ctx context.Context, collection string) error
	Watch(collection string, fn func()) (Unsubscribe, error)
}

type LocalNotifier struct {
	mu       sync.RWMutex
	nextID   int
	watchers map[string]map[int]func()
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{watchers: make(map[string]map[int]func())}
}

func (n *LocalNotifier) Notify(_ context.Context, collection string) error {
	n.mu.RLock()
	fns := make([]func(), 0, len(n.watchers[collection]))
	for _, fn := range n.watchers[collection] {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

func (n *LocalNotifier) Watch(collection string, fn func()) (Unsubscribe, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	if n.watchers[collection] == nil {
		n.watchers[collection] = make(map[int]func())
	}
	n.watchers[collection][id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.watchers[collection], id)
			n.mu.Unlock()
		})
	}, nil
}
