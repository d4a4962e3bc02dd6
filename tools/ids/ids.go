package ids

import "github.com/google/uuid"

// NewID 文档ID（会话、消息、link 以外的记录），客户端生成的 UUID
func NewID() string {
	return uuid.NewString()
}
