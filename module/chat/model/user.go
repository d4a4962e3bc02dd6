package model

// UserProfile 用户主档里展示相关的部分；核心只读
type UserProfile struct {
	UserID   string `bson:"_id" json:"user_id"`
	Nickname string `bson:"nickname" json:"nickname"`
	FaceURL  string `bson:"face_url" json:"face_url"`
}

func (u *UserProfile) GetTableName() string {
	return CollUser
}

// UnknownUser 资料查询失败时的占位名
const UnknownUser = "Unknown User"
