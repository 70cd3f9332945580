package models

import "time"

// GroupMember 群组成员模型
type GroupMember struct {
	GroupID  string    `json:"group_id" gorm:"primaryKey;type:varchar(36)"`
	UserID   string    `json:"user_id" gorm:"primaryKey;type:varchar(36)"`
	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`
}
