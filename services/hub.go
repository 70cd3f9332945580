package services

import (
	"encoding/json"
	"sync"
	"time"

	"chat-sync/config"
	"chat-sync/models"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 10 * time.Second // 发送 Ping 的间隔
	pongTimeout  = 15 * time.Second // 超过 15 秒未收到 Pong 断开连接
)

// Event 推送事件的统一信封
type Event struct {
	Type    string          `json:"type"` // "subscribed" / "insert" / "error"
	Channel string          `json:"channel,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Subscriber 一条推送订阅：一个连接、一个用户、一个会话频道
type Subscriber struct {
	Conn      *websocket.Conn
	Send      chan []byte
	UserID    string
	Channel   string
	LastPong  time.Time
	mu        sync.Mutex
	closeOnce sync.Once
}

// Hub 按会话频道分发消息插入事件
type Hub struct {
	subscribers map[*Subscriber]struct{}
	register    chan *Subscriber
	unregister  chan *Subscriber
	inserts     chan models.Message
	mu          sync.Mutex
}

var PushHub = &Hub{
	subscribers: make(map[*Subscriber]struct{}),
	register:    make(chan *Subscriber),
	unregister:  make(chan *Subscriber),
	inserts:     make(chan models.Message, 64),
}

func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			h.mu.Unlock()
			config.Logger.Info().
				Str("user_id", sub.UserID).
				Str("channel", sub.Channel).
				Msg("subscriber registered")
			go sub.startHeartbeat()

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				sub.closeSend()
				config.Logger.Info().
					Str("user_id", sub.UserID).
					Str("channel", sub.Channel).
					Msg("subscriber unregistered")
			}
			h.mu.Unlock()

		case msg := <-h.inserts:
			h.dispatch(msg)
		}
	}
}

// Publish 在消息入库后广播插入事件
func (h *Hub) Publish(msg models.Message) {
	h.inserts <- msg
}

// dispatch fans one inserted row out to subscribers. Group events are
// narrowed to the exact group channel. Direct events go to every subscription
// held by either participant regardless of its channel; the receiving client
// validates against its own active conversation.
func (h *Hub) dispatch(msg models.Message) {
	event := Event{Type: "insert", Message: &msg}
	if msg.GroupID != "" {
		event.Channel = GenerateGroupConversationID(msg.GroupID)
	} else {
		event.Channel = GenerateConversationID(msg.SenderID, msg.ReceiverID)
	}

	data, err := json.Marshal(event)
	if err != nil {
		config.Logger.Error().Err(err).Msg("failed to marshal insert event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if msg.GroupID != "" {
			if sub.Channel != event.Channel {
				continue
			}
		} else if sub.UserID != msg.SenderID && sub.UserID != msg.ReceiverID {
			continue
		}
		select {
		case sub.Send <- data:
		default:
			config.Logger.Warn().
				Str("user_id", sub.UserID).
				Msg("subscriber send buffer full, dropping event")
		}
	}
}

func (s *Subscriber) startHeartbeat() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		if s.Conn == nil {
			s.mu.Unlock()
			return
		}
		err := s.Conn.WriteMessage(websocket.TextMessage, []byte("ping"))
		stale := time.Since(s.LastPong) > pongTimeout
		s.mu.Unlock()

		if err != nil || stale {
			config.Logger.Info().
				Str("user_id", s.UserID).
				Bool("timeout", stale).
				Msg("heartbeat failed, closing subscriber")
			s.close()
			return
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	if s.Conn != nil {
		s.Conn.Close()
		s.Conn = nil
	}
	s.mu.Unlock()
	PushHub.unregister <- s
}

func (s *Subscriber) closeSend() {
	s.closeOnce.Do(func() {
		close(s.Send)
	})
}
