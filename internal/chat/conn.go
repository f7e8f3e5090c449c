package chat

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/emergency-dispatch/internal/models"
)

const writeWait = 10 * time.Second

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

func (s *wsSession) Close() error { return s.conn.Close() }

// ServeConn runs the read loop for an admitted chat connection; it blocks
// until the peer disconnects. The caller has already verified the token.
func (r *Router) ServeConn(ctx context.Context, ws *websocket.Conn, p models.Principal) {
	s := &wsSession{conn: ws}
	id := r.Connect(s, p)
	defer r.Disconnect(id)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		r.HandleMessage(ctx, id, data)
	}
}

// RejectConn closes an upgraded connection whose token failed validation
// with the policy-violation close code, before any message exchange.
func RejectConn(ws *websocket.Conn) {
	deadline := time.Now().Add(writeWait)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
	_ = ws.Close()
}
