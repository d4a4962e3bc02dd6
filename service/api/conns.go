package api

import (
	"sync"
	"time"

	"PPChatSync/tools/ids"

	"github.com/gorilla/websocket"
)

// streamConn 一条会话订阅连接；发送队列只保留最新一帧（每帧都是完整视图，旧帧无意义）
type streamConn struct {
	ConnID         string
	UserID         string
	ConversationID string
	WS             *websocket.Conn
	CreatedAt      time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newStreamConn(userID, convID string, ws *websocket.Conn) *streamConn {
	return &streamConn{
		ConnID:         ids.NewID(),
		UserID:         userID,
		ConversationID: convID,
		WS:             ws,
		CreatedAt:      time.Now(),
		send:           make(chan []byte, 1),
		done:           make(chan struct{}),
	}
}

// push 非阻塞：队列里有未发出的旧帧时替换掉
func (c *streamConn) push(frame []byte) {
	for {
		select {
		case <-c.done:
			return
		case c.send <- frame:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

// shutdown 通知写协程退出；可重复调用
func (c *streamConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// connRegistry connID → conn 主索引 + userID 辅助索引
type connRegistry struct {
	mu         sync.RWMutex
	byID       map[string]*streamConn
	byUser     map[string]map[string]*streamConn
	maxPerUser int // <=0 不限制；超限淘汰最老连接
}

func newConnRegistry(maxPerUser int) *connRegistry {
	return &connRegistry{
		byID:       make(map[string]*streamConn),
		byUser:     make(map[string]map[string]*streamConn),
		maxPerUser: maxPerUser,
	}
}

func (r *connRegistry) add(c *streamConn) {
	var evict *streamConn
	r.mu.Lock()
	r.byID[c.ConnID] = c
	set := r.byUser[c.UserID]
	if set == nil {
		set = make(map[string]*streamConn)
		r.byUser[c.UserID] = set
	}
	set[c.ConnID] = c
	if r.maxPerUser > 0 && len(set) > r.maxPerUser {
		for _, x := range set {
			if x != c && (evict == nil || x.CreatedAt.Before(evict.CreatedAt)) {
				evict = x
			}
		}
	}
	r.mu.Unlock()
	if evict != nil {
		evict.shutdown()
	}
}

func (r *connRegistry) remove(c *streamConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, c.ConnID)
	if set := r.byUser[c.UserID]; set != nil {
		delete(set, c.ConnID)
		if len(set) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
}

func (r *connRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *connRegistry) UserConns(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// CloseAll 服务关闭时让所有写协程发 Close 帧退出
func (r *connRegistry) CloseAll() {
	r.mu.RLock()
	all := make([]*streamConn, 0, len(r.byID))
	for _, c := range r.byID {
		all = append(all, c)
	}
	r.mu.RUnlock()
	for _, c := range all {
		c.shutdown()
	}
}
