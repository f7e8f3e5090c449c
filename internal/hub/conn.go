package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/emergency-dispatch/internal/models"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// wsSession wraps a gorilla connection with a write mutex so the run loop
// and the ping path never interleave frames.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSession) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *wsSession) Close() error { return s.conn.Close() }

// ServeConn registers the connection and blocks reading frames until the
// peer goes away. Call from the HTTP upgrade handler's goroutine.
func (h *Hub) ServeConn(ws *websocket.Conn, userID int64, role models.Role) {
	s := &wsSession{conn: ws}
	id := h.Register(s, userID, role)
	defer h.Unregister(id)

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		h.Touch(id)
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		h.HandleInbound(id, data)
	}
}
