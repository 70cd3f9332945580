package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State of the conversation switch controller.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSubscribed
	// StateDisconnected: the push channel is gone and resubscribe attempts
	// are exhausted. History and sends still work; push events do not.
	StateDisconnected
)

// HandleStatus of the push subscription handle.
type HandleStatus int

const (
	HandleConnecting HandleStatus = iota
	HandleActive
	HandleClosed
)

// handle is the single live push subscription. Zero or one exists at any
// time, always for the active conversation or in the process of closing.
type handle struct {
	key    string
	status HandleStatus
	sub    Subscription
}

// close is idempotent.
func (h *handle) close() {
	if h.status == HandleClosed {
		return
	}
	h.status = HandleClosed
	if h.sub != nil {
		_ = h.sub.Close()
	}
}

// Config wires a Session to its collaborators.
type Config struct {
	Backend Backend
	Feed    Feed
	Logger  zerolog.Logger
	Backoff BackoffConfig

	// OnUpdate receives a transcript snapshot after every change.
	OnUpdate func([]Message)
	// OnError receives asynchronous failures (push channel loss after all
	// retries). Errors of synchronous calls are returned directly instead.
	OnError func(error)
}

// Session owns the transcript and push subscription of the single active
// conversation and serializes every mutation behind one mutex, so send
// confirmations, push events and history loads interleave but never run the
// merge concurrently. Each async operation is tagged with the epoch current
// at its start; a completion whose epoch no longer matches arrives after a
// conversation switch and is discarded rather than leaked into the new
// transcript.
type Session struct {
	selfID  string
	backend Backend
	feed    Feed
	log     zerolog.Logger
	boCfg   BackoffConfig

	onUpdate func([]Message)
	onError  func(error)

	// ctx spans the session lifetime and scopes subscriptions; Close
	// cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	epoch      uint64
	state      State
	conv       Conversation
	active     bool
	transcript Transcript
	handle     *handle
	inFlight   string // temp id of the one in-flight send, "" if none
	retrying   bool
	retryEpoch uint64

	now func() time.Time
}

// NewSession creates a session for the given user. Call Close when done.
func NewSession(selfID string, cfg Config) *Session {
	cfg.Backoff.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		selfID:   selfID,
		backend:  cfg.Backend,
		feed:     cfg.Feed,
		log:      cfg.Logger,
		boCfg:    cfg.Backoff,
		onUpdate: cfg.OnUpdate,
		onError:  cfg.OnError,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Select makes c the active conversation: any previous subscription is
// closed, the transcript is cleared and reloaded from history, and a new
// subscription scoped to c is opened. Selecting the already-active
// conversation is a no-op only while its select is still loading or has
// completed; after a load failure or a lost push channel, reselecting the
// same conversation runs the full switch again. On a load failure the
// conversation stays selected with an empty transcript and no subscription;
// no automatic retry is made.
func (s *Session) Select(ctx context.Context, c Conversation) error {
	s.mu.Lock()
	if s.active && s.conv.Key() == c.Key() &&
		(s.state == StateLoading || s.state == StateSubscribed) {
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	e := s.epoch
	s.inFlight = ""
	s.closeHandleLocked()
	s.transcript.Clear()
	s.conv = c
	s.active = true
	s.state = StateLoading
	s.mu.Unlock()
	s.notify()

	msgs, err := s.backend.History(ctx, c)

	s.mu.Lock()
	if e != s.epoch {
		// Switched away while loading; the result belongs to a conversation
		// that is no longer active.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrLoadFailure, err)
	}
	s.transcript.Replace(msgs)
	s.mu.Unlock()
	s.notify()

	s.subscribe(e, c)
	return nil
}

// Deselect closes any subscription and empties the transcript.
func (s *Session) Deselect() {
	s.mu.Lock()
	s.epoch++
	s.inFlight = ""
	s.closeHandleLocked()
	s.transcript.Clear()
	s.active = false
	s.state = StateIdle
	s.mu.Unlock()
	s.notify()
}

// Close tears the session down.
func (s *Session) Close() {
	s.Deselect()
	s.cancel()
}

// Send appends an optimistic entry for content and persists it. The
// confirmed record and an eventual push event for the same message both go
// through Merge, so whichever arrives first retires the optimistic entry and
// the other is absorbed as a duplicate. On failure exactly the one
// provisional entry is removed; the text is not resubmitted.
func (s *Session) Send(ctx context.Context, content string) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrNoConversation
	}
	if s.inFlight != "" {
		s.mu.Unlock()
		return ErrSendInFlight
	}

	temp := Message{
		ID:        NewTempID(),
		SenderID:  s.selfID,
		Content:   content,
		CreatedAt: s.now(),
	}
	temp.ClientID = temp.ID
	if s.conv.Kind() == KindDirect {
		temp.ReceiverID = s.conv.Peer().ID
	} else {
		temp.GroupID = s.conv.Group().ID
	}

	e := s.epoch
	s.inFlight = temp.ID
	s.transcript.Merge(temp, s.selfID)
	s.mu.Unlock()
	s.notify()

	// The server assigns the id; the provisional one travels as ClientID.
	payload := temp
	payload.ID = ""
	rec, err := s.backend.Insert(ctx, payload)

	s.mu.Lock()
	if e != s.epoch {
		// The conversation changed mid-send. The old transcript is gone, so
		// there is nothing to confirm or roll back here.
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSendFailure, err)
		}
		return nil
	}
	s.inFlight = ""
	if err != nil {
		s.transcript.RemoveTemp(temp.ID)
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	s.transcript.Merge(rec, s.selfID)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Messages returns a snapshot of the active transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Messages()
}

// State returns the controller state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the selected conversation, if any.
func (s *Session) Active() (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv, s.active
}

// SubscriptionStatus reports the push handle, if one exists.
func (s *Session) SubscriptionStatus() (HandleStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return HandleClosed, false
	}
	return s.handle.status, true
}

func (s *Session) closeHandleLocked() {
	if s.handle != nil {
		s.handle.close()
		s.handle = nil
	}
}

func (s *Session) notify() {
	if s.onUpdate == nil {
		return
	}
	s.mu.Lock()
	snap := s.transcript.Messages()
	s.mu.Unlock()
	s.onUpdate(snap)
}

func (s *Session) emitError(err error) {
	if s.onError != nil {
		s.onError(err)
		return
	}
	s.log.Error().Err(err).Msg("session error")
}
