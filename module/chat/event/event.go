// Package event describes the lifecycle facts the chat managers emit after a
// committed write. Sinks fan them out (Kafka in production, nothing in tests).
package event

import (
	"context"
	"sync"
)

type Type string

const (
	MessageSent     Type = "message.sent"
	MessageSeen     Type = "message.seen"
	MessageRevoked  Type = "message.revoked"
	MessageDeleted  Type = "message.deleted_for_user"
	MemberAdded     Type = "member.added"
	MemberRemoved   Type = "member.removed"
	AdminChanged    Type = "admin.changed"
	ConversationNew Type = "conversation.created"
	ConversationEnd Type = "conversation.deleted"
)

type Event struct {
	Type           Type   `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	TargetID       string `json:"target_id,omitempty"`
	Count          int    `json:"count,omitempty"`
	At             int64  `json:"at"` // ms
}

// Key 分区键：同一会话的事件落到同一分区，保持会话内顺序
func (e Event) Key() string {
	return e.ConversationID
}

// Sink 事件出口；发布失败只记日志，不影响已提交的写入
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

type nop struct{}

func (nop) Publish(context.Context, Event) error { return nil }

// Nop 丢弃所有事件
var Nop Sink = nop{}

// Recorder 记录事件，测试用
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType 按类型过滤
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
