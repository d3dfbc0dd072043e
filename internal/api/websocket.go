package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"challenge-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteWait = 10 * time.Second

// websocket streams bus envelopes. ?topics=a,b narrows the topics and
// ?account_id= narrows to one account.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	var topics []events.Event
	for _, t := range strings.Split(c.Query("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, events.Event(t))
		}
	}
	accountID := c.Query("account_id")

	stream, unsub := s.bus.Subscribe(100, topics...)
	defer unsub()

	// Reader detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			if accountID != "" && env.AccountID != accountID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				s.log.Debug("ws write", zap.Error(err))
				return
			}
		}
	}
}
