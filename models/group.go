package models

import "time"

// Group 群组模型
type Group struct {
	GroupID   string    `json:"group_id" gorm:"primaryKey;type:varchar(36)"`
	GroupName string    `json:"group_name" gorm:"not null"`
	OwnerID   string    `json:"owner_id" gorm:"type:varchar(36);index"`
	CreatedAt time.Time `json:"created_at"`
}
