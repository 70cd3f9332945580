// Package realtime implements the engine's push feed boundary over the
// server's websocket endpoint.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"chat-sync/engine"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// event mirrors the server's push envelope.
type event struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Message *engine.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Feed dials one websocket connection per subscription. Closing the
// subscription releases the channel key so a later switch back to the same
// conversation can reopen it.
type Feed struct {
	url   string // ws endpoint, e.g. ws://localhost:8082/ws
	token string
	log   zerolog.Logger
}

func NewFeed(url, token string, log zerolog.Logger) *Feed {
	return &Feed{url: url, token: token, log: log}
}

// Subscribe opens the connection, registers for channelKey and starts the
// read loop. Events arrive on h.OnInsert; a broken connection is reported
// once on h.OnError unless the subscription was closed locally.
func (f *Feed) Subscribe(ctx context.Context, channelKey string, h engine.FeedHandler) (engine.Subscription, error) {
	url := fmt.Sprintf("%s?token=%s", f.url, f.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial push feed: %w", err)
	}

	cmd := map[string]string{"type": "subscribe", "channel": channelKey}
	if err := conn.WriteJSON(cmd); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe command: %w", err)
	}

	// The server acks before delivering events.
	var ack event
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read subscribe ack: %w", err)
	}
	if ack.Type != "subscribed" {
		conn.Close()
		return nil, fmt.Errorf("subscribe rejected: %s", ack.Error)
	}

	sub := &subscription{conn: conn}
	go sub.readLoop(f.log.With().Str("channel", channelKey).Logger(), h)
	return sub, nil
}

type subscription struct {
	conn   *websocket.Conn
	closed atomic.Bool
	once   sync.Once
	mu     sync.Mutex
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.conn.Close()
	})
	return nil
}

func (s *subscription) readLoop(log zerolog.Logger, h engine.FeedHandler) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && h.OnError != nil {
				h.OnError(err)
			}
			return
		}
		if string(data) == "ping" {
			s.mu.Lock()
			err = s.conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			s.mu.Unlock()
			if err != nil && !s.closed.Load() {
				if h.OnError != nil {
					h.OnError(err)
				}
				return
			}
			continue
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug().Err(err).Msg("undecodable push frame")
			continue
		}
		if ev.Type == "insert" && ev.Message != nil && h.OnInsert != nil {
			h.OnInsert(*ev.Message)
		}
	}
}
