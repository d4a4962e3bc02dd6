package model

import (
	"PPChatSync/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 集合名
const (
	CollConversation     = "conversation"
	CollMessage          = "message"
	CollUserConversation = "user_conversation"
	CollFriendRequest    = "friend_request"
	CollUser             = "user"
)

// MinGroupMembers 建群最少人数（群主 + 至少 2 人）
const MinGroupMembers = 3

// Member 会话成员；DisplayName 是加入时的昵称快照，不随资料变更
type Member struct {
	UserID      string `bson:"user_id" json:"user_id"`
	DisplayName string `bson:"display_name" json:"display_name"`
}

// Conversation 单聊 / 群聊会话。
// LastMessagePreview 是按成员下标对齐的遗留预览槽，任何变更后都必须保持 len == len(Members)。
type Conversation struct {
	ConversationID     string   `bson:"_id" json:"conversation_id"`
	IsGroup            bool     `bson:"is_group" json:"is_group"`
	Name               string   `bson:"name" json:"name"`                                 // 单聊为空
	Members            []Member `bson:"members" json:"members"`                           // 插入顺序
	Admin              string   `bson:"admin,omitempty" json:"admin,omitempty"`           // 单聊无群主
	ViceAdmin          string   `bson:"vice_admin,omitempty" json:"vice_admin,omitempty"` // 空 = 未设置
	LastMessagePreview []string `bson:"last_message_preview" json:"last_message_preview"`
	CreateTime         int64    `bson:"create_time" json:"create_time"` // ms
	UpdateTime         int64    `bson:"update_time" json:"update_time"` // ms
}

func (c *Conversation) GetTableName() string {
	return CollConversation
}

func (c *Conversation) MemberIDs() []string {
	out := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		out = append(out, m.UserID)
	}
	return out
}

// IndexOf 成员下标，不存在返回 -1
func (c *Conversation) IndexOf(userID string) int {
	for i, m := range c.Members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

func (c *Conversation) HasMember(userID string) bool {
	return c.IndexOf(userID) >= 0
}

func (c *Conversation) IsAdmin(userID string) bool {
	return c.Admin != "" && c.Admin == userID
}

func (c *Conversation) IsViceAdmin(userID string) bool {
	return c.ViceAdmin != "" && c.ViceAdmin == userID
}

// PreviewAligned 预览槽与成员是否对齐
func (c *Conversation) PreviewAligned() bool {
	return len(c.LastMessagePreview) == len(c.Members)
}

// AlignPreview 补齐/截断预览槽，修复历史数据（reconcile 使用）
func (c *Conversation) AlignPreview() {
	switch {
	case len(c.LastMessagePreview) < len(c.Members):
		c.LastMessagePreview = append(c.LastMessagePreview, make([]string, len(c.Members)-len(c.LastMessagePreview))...)
	case len(c.LastMessagePreview) > len(c.Members):
		c.LastMessagePreview = c.LastMessagePreview[:len(c.Members)]
	}
}

// NormalizeMember 把边界上来的成员表示统一成 Member：
// 裸字符串 ID，或 {user_id, user_name | display_name} 结构。
func NormalizeMember(raw any) (Member, error) {
	var m Member
	switch v := raw.(type) {
	case Member:
		m = v
	case *Member:
		if v != nil {
			m = *v
		}
	case string:
		m = Member{UserID: v}
	case map[string]any:
		m = memberFromMap(v)
	case bson.M:
		m = memberFromMap(v)
	case bson.D:
		m = memberFromMap(v.Map())
	case map[string]string:
		m = Member{UserID: v["user_id"], DisplayName: firstNonEmpty(v["display_name"], v["user_name"])}
	default:
		return Member{}, errs.ErrValidation.WrapMsg("unsupported member shape", "type", typeName(raw))
	}
	if m.UserID == "" {
		return Member{}, errs.ErrValidation.WrapMsg("member without user_id")
	}
	return m, nil
}

// NormalizeMembers 逐个规整并按 user_id 去重（保留首次出现的位置）
func NormalizeMembers(raws []any) ([]Member, error) {
	out := make([]Member, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, r := range raws {
		m, err := NormalizeMember(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

func memberFromMap(v map[string]any) Member {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	return Member{UserID: str("user_id"), DisplayName: firstNonEmpty(str("display_name"), str("user_name"))}
}

func firstNonEmpty(vals ...string) string {
	for _, s := range vals {
		if s != "" {
			return s
		}
	}
	return ""
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	switch v.(type) {
	case primitive.A, []any:
		return "array"
	}
	return "object"
}
