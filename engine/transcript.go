package engine

import "sort"

// Transcript is the ordered message store for the active conversation. It is
// always sorted ascending by CreatedAt (stable, so equal timestamps keep
// their relative order) and never holds two entries with the same persisted
// id. Not goroutine-safe; the owning Session serializes access.
type Transcript struct {
	msgs []Message
}

// Messages returns a copy of the current entries.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Transcript) Len() int { return len(t.msgs) }

// Clear drops all entries.
func (t *Transcript) Clear() {
	t.msgs = nil
}

// Replace swaps in a freshly loaded history, enforcing ascending order
// locally rather than trusting the source.
func (t *Transcript) Replace(msgs []Message) {
	t.msgs = make([]Message, len(msgs))
	copy(t.msgs, msgs)
	t.resort()
}

// Merge incorporates one incoming message, from either a send confirmation
// or a push event. The operation is idempotent: applying the same message
// twice leaves the transcript unchanged after the first application.
//
//  1. An entry with the same id is replaced in place.
//  2. A confirmed own message retires its optimistic entry: by exact
//     ClientID when the server echoed it, otherwise the oldest temporary
//     entry with the same sender and content.
//  3. Anything else is appended.
func (t *Transcript) Merge(m Message, selfID string) {
	defer t.resort()

	for i := range t.msgs {
		if t.msgs[i].ID == m.ID {
			t.msgs[i] = m
			return
		}
	}

	if m.SenderID == selfID && !m.Temporary() {
		if m.ClientID != "" {
			for i := range t.msgs {
				if t.msgs[i].ID == m.ClientID {
					t.msgs[i] = m
					return
				}
			}
		} else {
			for i := range t.msgs {
				if t.msgs[i].Temporary() && t.msgs[i].SenderID == m.SenderID && t.msgs[i].Content == m.Content {
					t.msgs[i] = m
					return
				}
			}
		}
	}

	t.msgs = append(t.msgs, m)
}

// RemoveTemp deletes the temporary entry with exactly the given id, for
// rollback of a failed send. Matching is by id only so a rollback can never
// remove a different provisional message with the same text.
func (t *Transcript) RemoveTemp(id string) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == id && t.msgs[i].Temporary() {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Transcript) resort() {
	sort.SliceStable(t.msgs, func(i, j int) bool {
		return t.msgs[i].CreatedAt.Before(t.msgs[j].CreatedAt)
	})
}
