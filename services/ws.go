package services

import (
	"encoding/json"
	"net/http"
	"time"

	"chat-sync/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeCommand 客户端订阅指令
type subscribeCommand struct {
	Type    string `json:"type"` // "subscribe"
	Channel string `json:"channel"`
}

// HandleWebSocket 建立推送连接：先鉴权，再等待订阅指令
func HandleWebSocket(ctx *gin.Context) {
	claims, err := ParseToken(ctx.Query("token"))
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upgrade connection"})
		return
	}

	// 第一条消息必须是订阅指令
	var cmd subscribeCommand
	if err := conn.ReadJSON(&cmd); err != nil || cmd.Type != "subscribe" || cmd.Channel == "" {
		ack, _ := json.Marshal(Event{Type: "error", Error: "expected subscribe command"})
		_ = conn.WriteMessage(websocket.TextMessage, ack)
		conn.Close()
		return
	}

	sub := &Subscriber{
		Conn:     conn,
		Send:     make(chan []byte, 16),
		UserID:   claims.UserID,
		Channel:  cmd.Channel,
		LastPong: time.Now(),
	}
	PushHub.register <- sub

	ack, _ := json.Marshal(Event{Type: "subscribed", Channel: cmd.Channel})
	sub.Send <- ack

	go sub.readLoop()
	go sub.writeLoop()
}

func (s *Subscriber) readLoop() {
	defer s.close()
	for {
		s.mu.Lock()
		conn := s.Conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "pong" {
			s.mu.Lock()
			s.LastPong = time.Now()
			s.mu.Unlock()
		}
	}
}

func (s *Subscriber) writeLoop() {
	for msg := range s.Send {
		s.mu.Lock()
		conn := s.Conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			config.Logger.Debug().Err(err).Str("user_id", s.UserID).Msg("write to subscriber failed")
			return
		}
	}
}
