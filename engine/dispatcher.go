package engine

import (
	"fmt"
	"time"
)

// subscribe opens the push subscription for conversation c under epoch e.
// Repeated subscriptions to the same logical conversation reuse the same
// deterministic channel key, so the feed can address and cancel them.
func (s *Session) subscribe(e uint64, c Conversation) {
	s.mu.Lock()
	if e != s.epoch {
		s.mu.Unlock()
		return
	}
	h := &handle{key: c.Key(), status: HandleConnecting}
	s.handle = h
	s.mu.Unlock()

	sub, err := s.feed.Subscribe(s.ctx, c.Key(), s.feedHandler(e))

	s.mu.Lock()
	if e != s.epoch {
		s.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.handleFeedError(e, err)
		return
	}
	h.sub = sub
	h.status = HandleActive
	s.state = StateSubscribed
	s.mu.Unlock()
}

func (s *Session) feedHandler(e uint64) FeedHandler {
	return FeedHandler{
		OnInsert: func(m Message) { s.handleInsert(e, m) },
		OnError:  func(err error) { s.handleFeedError(e, err) },
	}
}

// handleInsert routes one push event into the merge. Server-side narrowing
// is not trusted: every event is re-validated against the conversation and
// user active right now, and out-of-scope events are dropped without error.
func (s *Session) handleInsert(e uint64, m Message) {
	s.mu.Lock()
	if e != s.epoch {
		s.mu.Unlock()
		return
	}
	if !s.conv.Matches(m) {
		key := s.conv.Key()
		s.mu.Unlock()
		s.log.Debug().
			Str("message_id", m.ID).
			Str("channel", key).
			Msg("dropping out-of-scope push event")
		return
	}
	s.transcript.Merge(m, s.selfID)
	s.mu.Unlock()
	s.notify()
}

// handleFeedError reacts to a broken subscription: mark the handle as
// reconnecting and start one bounded backoff loop for this epoch.
func (s *Session) handleFeedError(e uint64, err error) {
	s.mu.Lock()
	if e != s.epoch {
		s.mu.Unlock()
		return
	}
	if s.retrying && s.retryEpoch == e {
		s.mu.Unlock()
		return
	}
	s.retrying = true
	s.retryEpoch = e
	if s.handle != nil {
		s.handle.status = HandleConnecting
	}
	c := s.conv
	s.mu.Unlock()

	s.log.Warn().Err(err).Str("channel", c.Key()).Msg("push subscription failed")
	go s.resubscribe(e, c)
}

// resubscribe retries the subscription with the same channel key under
// exponential backoff. When the attempts are exhausted the session reports a
// persistent disconnection and stays usable without push delivery.
func (s *Session) resubscribe(e uint64, c Conversation) {
	bo := &backoff{cfg: s.boCfg}
	for !bo.exhausted() {
		select {
		case <-s.ctx.Done():
			s.clearRetry(e)
			return
		case <-time.After(bo.next()):
		}

		s.mu.Lock()
		if e != s.epoch {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		sub, err := s.feed.Subscribe(s.ctx, c.Key(), s.feedHandler(e))

		s.mu.Lock()
		if e != s.epoch {
			s.mu.Unlock()
			if err == nil {
				_ = sub.Close()
			}
			return
		}
		if err == nil {
			if s.handle == nil {
				s.handle = &handle{key: c.Key()}
			} else if s.handle.sub != nil {
				// The broken connection may still be half-open; release it
				// before adopting the replacement.
				_ = s.handle.sub.Close()
			}
			s.handle.sub = sub
			s.handle.status = HandleActive
			s.state = StateSubscribed
			s.retrying = false
			s.mu.Unlock()
			s.log.Info().
				Str("channel", c.Key()).
				Int("attempt", bo.attempt).
				Msg("push subscription reopened")
			return
		}
		s.mu.Unlock()
		s.log.Warn().Err(err).
			Str("channel", c.Key()).
			Int("attempt", bo.attempt).
			Msg("resubscribe attempt failed")
	}

	s.mu.Lock()
	if e != s.epoch {
		s.mu.Unlock()
		return
	}
	s.closeHandleLocked()
	s.state = StateDisconnected
	s.retrying = false
	s.mu.Unlock()
	s.emitError(fmt.Errorf("%w: gave up after %d attempts", ErrSubscriptionFailure, s.boCfg.MaxAttempts))
}

func (s *Session) clearRetry(e uint64) {
	s.mu.Lock()
	if s.retryEpoch == e {
		s.retrying = false
	}
	s.mu.Unlock()
}
