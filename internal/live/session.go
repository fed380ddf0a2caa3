package live

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stockpulse/alert-engine/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Session is one authenticated client connection: a socket plus the
// set of instruments it currently views as "watching" (distinct from
// the persistent alert subscriptions tracked in cachestore).
type Session struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *slog.Logger

	watching map[domain.Symbol]struct{}
}

func newSession(userID int64, conn *websocket.Conn, hub *Hub) *Session {
	return &Session{
		userID:   userID,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		hub:      hub,
		logger:   slog.Default().With("component", "live_session", "user_id", userID),
		watching: make(map[domain.Symbol]struct{}),
	}
}

// readPump processes inbound addStock/removeStock commands until the
// connection closes, then unregisters the session from the hub.
func (s *Session) readPump() {
	defer s.hub.unregister(s)
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd inboundCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			s.logger.Warn("dropping malformed client frame", "err", err)
			continue
		}
		switch cmd.Type {
		case CommandAddStock:
			s.hub.addStock(s, cmd.Symbol)
		case CommandRemoveStock:
			s.hub.removeStock(s, cmd.Symbol)
		default:
			s.logger.Warn("unknown command type", "type", cmd.Type)
		}
	}
}

// writePump drains s.send to the socket and keeps the connection alive
// with periodic pings, exiting when the hub closes the channel.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue non-blockingly queues an outbound frame, dropping it and
// logging if the session's buffer is saturated (§1's "best-effort,
// no strong delivery guarantee" applies equally to the live fan-out).
func (s *Session) enqueue(msg []byte) {
	select {
	case s.send <- msg:
	default:
		s.logger.Warn("session send buffer full, dropping frame")
	}
}
