package models

import "time"

// Message is one row of the messages table. Exactly one of ReceiverID and
// GroupID is set: direct messages carry the receiver, group messages the
// group. ClientID echoes the client-generated provisional id of the send that
// created the row, so clients can match their optimistic entry without
// guessing by content.
type Message struct {
	MessageID  string    `gorm:"primaryKey;type:varchar(36)" json:"message_id"`
	ClientID   string    `gorm:"type:varchar(48);index" json:"client_id,omitempty"`
	SenderID   string    `gorm:"type:varchar(36);index" json:"sender_id"`
	ReceiverID string    `gorm:"type:varchar(36);index" json:"receiver_id,omitempty"`
	GroupID    string    `gorm:"type:varchar(36);index" json:"group_id,omitempty"`
	Content    string    `gorm:"type:text" json:"content"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
