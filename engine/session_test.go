package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu           sync.Mutex
	history      []Message
	historyErr   error
	insertErr    error
	insertGate   chan struct{} // when set, Insert blocks until it is closed
	beforeReturn func(Message) // runs with the confirmed record before Insert returns
	seq          int
}

func (b *fakeBackend) History(ctx context.Context, c Conversation) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyErr != nil {
		return nil, b.historyErr
	}
	out := make([]Message, len(b.history))
	copy(out, b.history)
	return out, nil
}

func (b *fakeBackend) Insert(ctx context.Context, m Message) (Message, error) {
	b.mu.Lock()
	gate := b.insertGate
	b.seq++
	rec := m
	rec.ID = fmt.Sprintf("srv-%d", b.seq)
	insertErr := b.insertErr
	hook := b.beforeReturn
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if insertErr != nil {
		return Message{}, insertErr
	}
	if hook != nil {
		hook(rec)
	}
	return rec, nil
}

type fakeSub struct {
	key     string
	handler FeedHandler
	closed  atomic.Bool
}

func (s *fakeSub) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeFeed struct {
	mu       sync.Mutex
	subs     []*fakeSub
	failures int // upcoming Subscribe calls that fail
}

func (f *fakeFeed) Subscribe(ctx context.Context, key string, h FeedHandler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("feed down")
	}
	sub := &fakeSub{key: key, handler: h}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeFeed) sub(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func (f *fakeFeed) last() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

// push delivers an event through the most recent subscription, like the
// server would.
func (f *fakeFeed) push(m Message) {
	f.last().handler.OnInsert(m)
}

func newTestSession(t *testing.T, backend *fakeBackend, feed *fakeFeed, onError func(error)) *Session {
	t.Helper()
	s := NewSession("1", Config{
		Backend: backend,
		Feed:    feed,
		Logger:  zerolog.Nop(),
		OnError: onError,
		Backoff: BackoffConfig{
			BaseDelay:   time.Millisecond,
			MaxDelay:    4 * time.Millisecond,
			MaxAttempts: 3,
		},
	})
	t.Cleanup(s.Close)
	return s
}

func directWithBob(selfID string) Conversation {
	return NewDirect(selfID, Profile{ID: "2", Username: "bob"})
}

func TestSession_SelectLoadsHistoryAndSubscribes(t *testing.T) {
	backend := &fakeBackend{history: []Message{
		direct("m1", "1", "2", "late", t0.Add(10*time.Second)),
		direct("m2", "2", "1", "early", t0.Add(5*time.Second)),
	}}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)

	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, "m1", msgs[1].ID)

	require.Equal(t, 1, feed.count())
	assert.Equal(t, "1_2", feed.sub(0).key)
	assert.Equal(t, StateSubscribed, s.State())
	status, ok := s.SubscriptionStatus()
	require.True(t, ok)
	assert.Equal(t, HandleActive, status)
}

func TestSession_SelectSameConversationIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)

	conv := directWithBob("1")
	require.NoError(t, s.Select(context.Background(), conv))
	require.NoError(t, s.Select(context.Background(), conv))

	assert.Equal(t, 1, feed.count(), "reselecting must not reopen the subscription")
}

func TestSession_SwitchClosesPreviousSubscription(t *testing.T) {
	backend := &fakeBackend{history: []Message{direct("m1", "1", "2", "hi", t0)}}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)

	require.NoError(t, s.Select(context.Background(), directWithBob("1")))
	require.NoError(t, s.Select(context.Background(), NewGroup("1", Group{ID: "g7", Name: "ops"})))

	require.Equal(t, 2, feed.count())
	assert.True(t, feed.sub(0).closed.Load(), "previous subscription must be closed")
	assert.False(t, feed.sub(1).closed.Load())
	assert.Equal(t, "group_g7", feed.sub(1).key)
}

func TestSession_LoadFailureLeavesTranscriptEmpty(t *testing.T) {
	backend := &fakeBackend{historyErr: errors.New("db gone")}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)

	err := s.Select(context.Background(), directWithBob("1"))
	require.ErrorIs(t, err, ErrLoadFailure)
	assert.Empty(t, s.Messages())
	assert.Zero(t, feed.count(), "no subscription on load failure")
}

func TestSession_ReselectAfterLoadFailureRetries(t *testing.T) {
	backend := &fakeBackend{historyErr: errors.New("db gone")}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)

	conv := directWithBob("1")
	require.ErrorIs(t, s.Select(context.Background(), conv), ErrLoadFailure)
	require.Empty(t, s.Messages())

	// The backend recovers; reselecting the same conversation must run the
	// full switch again instead of hitting the no-op guard.
	backend.mu.Lock()
	backend.historyErr = nil
	backend.history = []Message{direct("m1", "2", "1", "hello again", t0)}
	backend.mu.Unlock()

	require.NoError(t, s.Select(context.Background(), conv))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, 1, feed.count(), "retry must open a subscription")
	assert.Equal(t, StateSubscribed, s.State())
}

func TestSession_ReselectAfterDisconnectResubscribes(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	errCh := make(chan error, 1)
	s := newTestSession(t, backend, feed, func(err error) { errCh <- err })

	conv := directWithBob("1")
	require.NoError(t, s.Select(context.Background(), conv))

	feed.mu.Lock()
	feed.failures = 3
	feed.mu.Unlock()
	feed.sub(0).handler.OnError(errors.New("connection reset"))
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("expected the disconnection to surface")
	}
	require.Equal(t, StateDisconnected, s.State())

	// Reselecting the disconnected conversation reopens the channel.
	require.NoError(t, s.Select(context.Background(), conv))
	assert.Equal(t, StateSubscribed, s.State())
	assert.Equal(t, "1_2", feed.last().key)
}

func TestSession_SendOptimisticThenConfirmed(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	gate := make(chan struct{})
	backend.mu.Lock()
	backend.insertGate = gate
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "hi") }()

	// Optimistic echo appears before the server answers.
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)
	msgs := s.Messages()
	assert.True(t, msgs[0].Temporary())
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "1", msgs[0].SenderID)
	assert.Equal(t, "2", msgs[0].ReceiverID)
	assert.Empty(t, msgs[0].GroupID)

	close(gate)
	require.NoError(t, <-done)

	msgs = s.Messages()
	require.Len(t, msgs, 1, "confirmation must replace the optimistic entry")
	assert.False(t, msgs[0].Temporary())
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestSession_PushArrivesBeforeSendConfirmation(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	// The push event for the inserted row overtakes the send response.
	backend.mu.Lock()
	backend.beforeReturn = func(rec Message) { feed.push(rec) }
	backend.mu.Unlock()

	require.NoError(t, s.Send(context.Background(), "hi"))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.False(t, msgs[0].Temporary())

	// Replaying the same event is absorbed by the id match.
	feed.push(msgs[0])
	assert.Len(t, s.Messages(), 1)
}

func TestSession_SendFailureRollsBackTempEntry(t *testing.T) {
	backend := &fakeBackend{history: []Message{direct("m1", "2", "1", "yo", t0)}}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	backend.mu.Lock()
	backend.insertErr = errors.New("network down")
	backend.mu.Unlock()

	before := s.Messages()
	err := s.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrSendFailure)
	assert.Equal(t, before, s.Messages(), "transcript must return to its pre-send state")
}

func TestSession_SecondSendWhileInFlightRejected(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	gate := make(chan struct{})
	backend.mu.Lock()
	backend.insertGate = gate
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "first") }()
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)

	require.ErrorIs(t, s.Send(context.Background(), "second"), ErrSendInFlight)

	close(gate)
	require.NoError(t, <-done)
	assert.Len(t, s.Messages(), 1)
}

func TestSession_OutOfScopePushDropped(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	// A group event while a direct chat is active must not land.
	feed.push(Message{ID: "srv-7", SenderID: "3", GroupID: "g7", Content: "offtopic", CreatedAt: t0})
	assert.Empty(t, s.Messages())

	// An unrelated direct pair is dropped too.
	feed.push(Message{ID: "srv-8", SenderID: "3", ReceiverID: "4", Content: "not ours", CreatedAt: t0})
	assert.Empty(t, s.Messages())
}

func TestSession_StaleSendResultDiscardedAfterSwitch(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	gate := make(chan struct{})
	backend.mu.Lock()
	backend.insertGate = gate
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "hi") }()
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)

	// Switch away while the send is still in flight.
	backend.mu.Lock()
	backend.insertGate = nil
	backend.mu.Unlock()
	require.NoError(t, s.Select(context.Background(), NewGroup("1", Group{ID: "g7", Name: "ops"})))
	require.Empty(t, s.Messages())

	close(gate)
	require.NoError(t, <-done)
	assert.Empty(t, s.Messages(), "a send confirmed after switching must not leak into the new transcript")
}

func TestSession_StalePushDiscardedAfterSwitch(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))
	old := feed.sub(0)

	require.NoError(t, s.Select(context.Background(), NewGroup("1", Group{ID: "g7", Name: "ops"})))

	// A late event from the torn-down subscription, even one that would
	// match the new conversation, is dropped by the epoch guard.
	old.handler.OnInsert(Message{ID: "srv-9", SenderID: "3", GroupID: "g7", Content: "late", CreatedAt: t0})
	assert.Empty(t, s.Messages())
}

func TestSession_DeselectClosesAndClears(t *testing.T) {
	backend := &fakeBackend{history: []Message{direct("m1", "1", "2", "hi", t0)}}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	s.Deselect()

	assert.Empty(t, s.Messages())
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, feed.sub(0).closed.Load())
	_, ok := s.SubscriptionStatus()
	assert.False(t, ok)

	require.ErrorIs(t, s.Send(context.Background(), "hi"), ErrNoConversation)
}

func TestSession_FeedErrorTriggersResubscribe(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := newTestSession(t, backend, feed, nil)
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	feed.sub(0).handler.OnError(errors.New("connection reset"))

	require.Eventually(t, func() bool { return feed.count() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == StateSubscribed }, time.Second, time.Millisecond)
	assert.Equal(t, "1_2", feed.sub(1).key, "resubscribe reuses the same channel key")
	require.Eventually(t, func() bool { return feed.sub(0).closed.Load() }, time.Second, time.Millisecond,
		"the superseded connection must be released")

	// The replacement subscription delivers normally.
	feed.push(direct("srv-3", "2", "1", "back", t0))
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)
}

func TestSession_ResubscribeExhaustionDisconnects(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	errCh := make(chan error, 1)
	s := newTestSession(t, backend, feed, func(err error) { errCh <- err })
	require.NoError(t, s.Select(context.Background(), directWithBob("1")))

	feed.mu.Lock()
	feed.failures = 3 // every retry fails
	feed.mu.Unlock()
	feed.sub(0).handler.OnError(errors.New("connection reset"))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrSubscriptionFailure)
	case <-time.After(time.Second):
		t.Fatal("expected a subscription failure to surface")
	}
	assert.Equal(t, StateDisconnected, s.State())

	// The transcript itself stays intact and usable.
	require.NoError(t, s.Send(context.Background(), "still works"))
	assert.Len(t, s.Messages(), 1)
}
