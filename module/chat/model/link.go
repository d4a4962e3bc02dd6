package model

// UserConversationLink 用户→会话 的索引，列出某用户的全部会话时不必扫会话表。
// 每个 (成员, 会话) 恰好一条；ID 由两者拼出，重复写入是幂等的。
type UserConversationLink struct {
	LinkID         string `bson:"_id" json:"link_id"`
	UserID         string `bson:"user_id" json:"user_id"`
	ConversationID string `bson:"conversation_id" json:"conversation_id"`
	IsGroup        bool   `bson:"is_group" json:"is_group"`
	CreateTime     int64  `bson:"create_time" json:"create_time"`
}

func (l *UserConversationLink) GetTableName() string {
	return CollUserConversation
}

func LinkID(userID, conversationID string) string {
	return userID + ":" + conversationID
}

func NewLink(userID, conversationID string, isGroup bool, now int64) *UserConversationLink {
	return &UserConversationLink{
		LinkID:         LinkID(userID, conversationID),
		UserID:         userID,
		ConversationID: conversationID,
		IsGroup:        isGroup,
		CreateTime:     now,
	}
}
