package engine

import "context"

// Backend is the persistent store boundary.
type Backend interface {
	// History returns all messages of the conversation, ascending by
	// CreatedAt. Direct: both directions between the two participants with
	// no group tag. Group: all messages of the group with no receiver.
	History(ctx context.Context, c Conversation) ([]Message, error)

	// Insert persists an outgoing message. The payload carries the client's
	// provisional id in ClientID and no server id; the returned record has
	// the server-assigned id and echoes ClientID.
	Insert(ctx context.Context, m Message) (Message, error)
}

// Subscription is a live push-feed registration. Close is idempotent.
type Subscription interface {
	Close() error
}

// FeedHandler receives the callbacks of one subscription.
type FeedHandler struct {
	// OnInsert delivers one newly inserted record.
	OnInsert func(Message)
	// OnError reports that the subscription broke and will deliver nothing
	// further until reopened.
	OnError func(error)
}

// Feed is the push channel boundary. Delivery is at-least-once and ordering
// across distinct inserts is not guaranteed; the merge absorbs both.
type Feed interface {
	Subscribe(ctx context.Context, channelKey string, h FeedHandler) (Subscription, error)
}
