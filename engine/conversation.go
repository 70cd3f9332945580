package engine

import (
	"fmt"
	"sort"
)

// Kind distinguishes the two conversation variants.
type Kind int

const (
	KindDirect Kind = iota
	KindGroup
)

// Profile is read-only display data for a user.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Group is read-only display data for a group.
type Group struct {
	ID   string `json:"group_id"`
	Name string `json:"group_name"`
}

// Conversation is a closed variant: either a direct thread with one
// counterpart or a group thread. Construct via NewDirect or NewGroup so the
// kind-specific fields are always consistent.
type Conversation struct {
	kind  Kind
	self  string
	peer  Profile
	group Group
}

// NewDirect returns the direct conversation between the current user and peer.
func NewDirect(selfID string, peer Profile) Conversation {
	return Conversation{kind: KindDirect, self: selfID, peer: peer}
}

// NewGroup returns the group conversation for g, with the current user as a
// member.
func NewGroup(selfID string, g Group) Conversation {
	return Conversation{kind: KindGroup, self: selfID, group: g}
}

func (c Conversation) Kind() Kind { return c.kind }

// Peer returns the counterpart profile of a direct conversation.
func (c Conversation) Peer() Profile { return c.peer }

// Group returns the group record of a group conversation.
func (c Conversation) Group() Group { return c.group }

// Participants returns the two user ids of a direct conversation in
// canonical order.
func (c Conversation) Participants() (string, string) {
	ids := []string{c.self, c.peer.ID}
	sort.Strings(ids)
	return ids[0], ids[1]
}

// Key is the deterministic channel key for this conversation. Both
// participants of a direct thread derive the same key because the pair is
// ordered canonically.
func (c Conversation) Key() string {
	if c.kind == KindGroup {
		return fmt.Sprintf("group_%s", c.group.ID)
	}
	a, b := c.Participants()
	return fmt.Sprintf("%s_%s", a, b)
}

// Matches reports whether m belongs to this conversation: the direct pair in
// either direction with no group tag, or the group tag with no receiver.
// Push events failing this check are out of scope and must be dropped.
func (c Conversation) Matches(m Message) bool {
	if c.kind == KindGroup {
		return m.ReceiverID == "" && m.GroupID == c.group.ID
	}
	if m.GroupID != "" {
		return false
	}
	return (m.SenderID == c.self && m.ReceiverID == c.peer.ID) ||
		(m.SenderID == c.peer.ID && m.ReceiverID == c.self)
}
