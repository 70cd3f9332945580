package engine

import "errors"

// Failure classes surfaced to the caller. Wrapped with the underlying cause;
// test with errors.Is. Out-of-scope push events are absorbed internally and
// never surface as errors.
var (
	// ErrLoadFailure: history fetch failed; the transcript is left empty and
	// no automatic retry is made.
	ErrLoadFailure = errors.New("history load failed")

	// ErrSendFailure: persisting an optimistic message failed; its temporary
	// entry has been rolled back.
	ErrSendFailure = errors.New("message send failed")

	// ErrSendInFlight: a send was attempted while another one was still
	// awaiting confirmation. The queue holds at most one in-flight send.
	ErrSendInFlight = errors.New("another send is in flight")

	// ErrSubscriptionFailure: the push channel could not be (re)opened.
	ErrSubscriptionFailure = errors.New("push subscription failed")

	// ErrNoConversation: the operation needs an active conversation.
	ErrNoConversation = errors.New("no active conversation")
)
