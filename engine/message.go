// Package engine implements the client-side message synchronization core: an
// ordered per-conversation transcript reconciling history loads, optimistic
// local sends and asynchronous push events into one deduplicated view.
package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// tempIDPrefix marks client-generated provisional ids. A message id moves
// from temporary to server-assigned at most once.
const tempIDPrefix = "temp-"

// Message is the engine's view of one chat message. Exactly one of
// ReceiverID and GroupID is set. ClientID is the provisional id the sending
// client attached to the payload, echoed back by the server so confirmation
// matching is an exact lookup rather than a content heuristic.
type Message struct {
	ID         string    `json:"message_id"`
	ClientID   string    `json:"client_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	GroupID    string    `json:"group_id,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Temporary reports whether the message still carries a provisional id.
func (m Message) Temporary() bool {
	return strings.HasPrefix(m.ID, tempIDPrefix)
}

// NewTempID returns a fresh provisional message id.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}
