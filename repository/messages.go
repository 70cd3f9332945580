// Package repository binds the sync engine's store boundary to the gorm
// message table.
package repository

import (
	"context"
	"time"

	"chat-sync/engine"
	"chat-sync/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Messages implements engine.Backend on top of the messages table.
type Messages struct {
	db *gorm.DB
}

func NewMessages(db *gorm.DB) *Messages {
	return &Messages{db: db}
}

// History runs the single scoped query for a conversation: direct threads
// match both directions of the pair with no group tag, group threads match
// the group id with no receiver. Results come back ascending by created_at.
func (r *Messages) History(ctx context.Context, c engine.Conversation) ([]engine.Message, error) {
	q := r.db.WithContext(ctx).Model(&models.Message{})
	if c.Kind() == engine.KindGroup {
		q = q.Where("group_id = ? AND receiver_id = ''", c.Group().ID)
	} else {
		a, b := c.Participants()
		q = q.Where("group_id = '' AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))",
			a, b, b, a)
	}

	var rows []models.Message
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	msgs := make([]engine.Message, len(rows))
	for i, row := range rows {
		msgs[i] = toEngine(row)
	}
	return msgs, nil
}

// Insert persists one outgoing message, assigning the server id and echoing
// the client's provisional id back on the stored row.
func (r *Messages) Insert(ctx context.Context, m engine.Message) (engine.Message, error) {
	row := models.Message{
		MessageID:  uuid.NewString(),
		ClientID:   m.ClientID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return engine.Message{}, err
	}
	return toEngine(row), nil
}

func toEngine(row models.Message) engine.Message {
	return engine.Message{
		ID:         row.MessageID,
		ClientID:   row.ClientID,
		SenderID:   row.SenderID,
		ReceiverID: row.ReceiverID,
		GroupID:    row.GroupID,
		Content:    row.Content,
		CreatedAt:  row.CreatedAt,
	}
}
