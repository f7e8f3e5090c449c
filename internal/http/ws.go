package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/emergency-dispatch/internal/chat"
	"github.com/example/emergency-dispatch/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWS is the general fan-out channel. The transport-level accept is
// unauthenticated; a token, when supplied, ties the connection to a
// principal so alert broadcasts can reach the owner.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var userID int64
	role := models.RoleUser
	if token := r.URL.Query().Get("token"); token != "" && s.Verifier != nil {
		if p, err := s.Verifier.Verify(r.Context(), token); err == nil {
			userID = p.UserID
			role = p.Role
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the error response
	}
	s.Hub.ServeConn(conn, userID, role)
}

// handleChatWS admits chat connections only with a valid token; failures
// are closed with the policy-violation close code before any exchange.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p, err := s.Verifier.Verify(r.Context(), token)
	if err != nil {
		s.logger.Info("chat connection rejected", "remote_addr", remoteIP(r), "error", err)
		chat.RejectConn(conn)
		return
	}
	s.Chat.ServeConn(r.Context(), conn, p)
}
