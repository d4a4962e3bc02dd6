// Package view turns raw store snapshots into what one viewer sees: ordered,
// filtered for their own soft deletes, with revoked payloads replaced.
package view

import (
	"sort"

	"PPChatSync/module/chat/model"
)

// RenderedMessage 是交给渲染层的消息；撤回的消息不携带 content/url/reply
type RenderedMessage struct {
	MessageID      string          `json:"message_id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	SenderSeq      int64           `json:"sender_seq"`
	Type           model.MsgType   `json:"type"`
	Content        string          `json:"content"`
	URL            string          `json:"url,omitempty"`
	Action         model.Action    `json:"action,omitempty"`
	CreatedAt      int64           `json:"created_at"`
	Seen           bool            `json:"seen"`
	Revoked        bool            `json:"revoked"`
	ReplyTo        *model.ReplyRef `json:"reply_to,omitempty"`
	ForwardedFrom  string          `json:"forwarded_from,omitempty"`
}

func (r *RenderedMessage) IsSystem() bool {
	return r.SenderID == model.SystemSender
}

// Materialize (raw snapshot, viewer) → 渲染序列，纯函数，不修改 raw。
//
// 排序按 created_at 升序；created_at 是客户端时钟，设备间偏差会造成可见的乱序，这是接受的。
// 同一毫秒按 sender_id、sender_seq 兜底，保证同一输入总是同一输出。
func Materialize(raw []model.Message, viewerID string) []RenderedMessage {
	msgs := make([]*model.Message, 0, len(raw))
	revoked := make(map[string]bool, len(raw))
	for i := range raw {
		m := &raw[i]
		if m.Revoked {
			revoked[m.MessageID] = true
		}
		if viewerID != "" && m.IsDeletedFor(viewerID) {
			continue
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		if a.SenderID != b.SenderID {
			return a.SenderID < b.SenderID
		}
		return a.SenderSeq < b.SenderSeq
	})

	out := make([]RenderedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, render(m, revoked))
	}
	return out
}

func render(m *model.Message, revoked map[string]bool) RenderedMessage {
	r := RenderedMessage{
		MessageID:      m.MessageID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderSeq:      m.SenderSeq,
		Type:           m.Type,
		Action:         m.Action,
		CreatedAt:      m.CreatedAt,
		Seen:           m.Seen,
		Revoked:        m.Revoked,
		ForwardedFrom:  m.ForwardedFrom,
	}
	if m.Revoked {
		r.Content = model.RevokedPlaceholder
		return r
	}
	r.Content, r.URL = m.Content, m.URL
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		// 被回复的消息撤回了：引用快照不再露出，原消息不在窗口内时靠 ref.Revoked
		if ref.Revoked || revoked[ref.MessageID] {
			ref.Content = model.RevokedPlaceholder
			ref.Revoked = true
		}
		r.ReplyTo = &ref
	}
	return r
}
