package model

import (
	"unicode/utf8"
)

type MsgType string

const (
	MsgText   MsgType = "text"
	MsgImage  MsgType = "image"
	MsgVideo  MsgType = "video"
	MsgFile   MsgType = "file"
	MsgSystem MsgType = "system"
)

// IsAttachment image/video/file 必须带 url
func (t MsgType) IsAttachment() bool {
	return t == MsgImage || t == MsgVideo || t == MsgFile
}

func (t MsgType) Valid() bool {
	switch t {
	case MsgText, MsgImage, MsgVideo, MsgFile, MsgSystem:
		return true
	}
	return false
}

// Action 系统消息的动作标签，仅供展示层选图标
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionLeave   Action = "leave"
	ActionUpdate  Action = "update"
	ActionDisband Action = "disband"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionRemove, ActionLeave, ActionUpdate, ActionDisband:
		return true
	}
	return false
}

// SystemSender 系统消息的发送者哨兵值
const SystemSender = "system"

// RevokedPlaceholder 撤回消息的固定占位文案
const RevokedPlaceholder = "message revoked"

// ReplyRef 被回复消息的快照；原消息撤回后 Revoked 置位、Content 清空
type ReplyRef struct {
	MessageID string  `bson:"message_id" json:"message_id"`
	SenderID  string  `bson:"sender_id" json:"sender_id"`
	Type      MsgType `bson:"type" json:"type"`
	Content   string  `bson:"content" json:"content"`
	Revoked   bool    `bson:"revoked,omitempty" json:"revoked,omitempty"`
}

// Message 一条消息。
// CreatedAt 是客户端时间（ms），只做尽力排序；SenderSeq 是发送端进程内单调序号，用于同毫秒兜底。
// DeletedFor 只增不减；Seen 只能 false→true；Revoked 后 Content/URL 保留在库里但不得渲染。
type Message struct {
	MessageID      string    `bson:"_id" json:"message_id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	SenderID       string    `bson:"sender_id" json:"sender_id"`
	SenderSeq      int64     `bson:"sender_seq" json:"sender_seq"`
	Type           MsgType   `bson:"type" json:"type"`
	Content        string    `bson:"content" json:"content"`
	URL            string    `bson:"url,omitempty" json:"url,omitempty"`
	Action         Action    `bson:"action,omitempty" json:"action,omitempty"`
	CreatedAt      int64     `bson:"created_at" json:"created_at"`
	Seen           bool      `bson:"seen" json:"seen"`
	SeenAt         int64     `bson:"seen_at,omitempty" json:"seen_at,omitempty"`
	Revoked        bool      `bson:"revoked" json:"revoked"`
	RevokedAt      int64     `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
	DeletedFor     []string  `bson:"deleted_for" json:"deleted_for"`
	ReplyToID      string    `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"` // 顶层冗余，撤回时按它找引用方
	ReplyTo        *ReplyRef `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	ForwardedFrom  string    `bson:"forwarded_from,omitempty" json:"forwarded_from,omitempty"`
}

func (m *Message) GetTableName() string {
	return CollMessage
}

func (m *Message) IsDeletedFor(userID string) bool {
	for _, u := range m.DeletedFor {
		if u == userID {
			return true
		}
	}
	return false
}

func (m *Message) IsSystem() bool {
	return m.SenderID == SystemSender
}

const previewMaxRunes = 30

// PreviewText 会话列表里的一行预览
func PreviewText(m *Message) string {
	if m.Revoked {
		return RevokedPlaceholder
	}
	switch m.Type {
	case MsgImage:
		return "[image]"
	case MsgVideo:
		return "[video]"
	case MsgFile:
		return "[file] " + truncate(m.Content, previewMaxRunes)
	}
	return truncate(m.Content, previewMaxRunes)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
