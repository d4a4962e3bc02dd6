package model

type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
)

// FriendRequest 好友申请；accepted 的申请（任一方向）授权“发起单聊”和“拉人进群”
type FriendRequest struct {
	RequestID  string       `bson:"_id" json:"request_id"`
	FromUserID string       `bson:"from" json:"from"`
	ToUserID   string       `bson:"to" json:"to"`
	Status     FriendStatus `bson:"status" json:"status"`
	CreateTime int64        `bson:"create_time,omitempty" json:"create_time,omitempty"`
}

func (r *FriendRequest) GetTableName() string {
	return CollFriendRequest
}

// Connects 是否是 a、b 之间的申请（不区分方向）
func (r *FriendRequest) Connects(a, b string) bool {
	return (r.FromUserID == a && r.ToUserID == b) || (r.FromUserID == b && r.ToUserID == a)
}
