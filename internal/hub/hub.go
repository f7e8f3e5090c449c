// Package hub is the single fan-out point for realtime traffic: location
// telemetry and emergency broadcasts. All membership state is owned by one
// run loop; handlers never touch the maps from other goroutines.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/observability"
	"github.com/example/emergency-dispatch/internal/storage"
)

// Topic names. Every connection subscribes to TopicLocations; alert
// broadcasts go to the dispatch-role topics plus the alert owner. This is
// narrower than the historical send-to-everyone behavior; the old behavior
// leaked every alert to every connected user.
const (
	TopicLocations    = "locations"
	TopicRoleResponse = "role:response_team"
	TopicRoleAdmin    = "role:admin"
)

// Session is the transport half of a connection. The websocket
// implementation lives in conn.go; tests substitute fakes.
type Session interface {
	Send(v any) error
	Ping() error
	Close() error
}

// AlertCreator is the slice of the lifecycle manager the hub needs when an
// emergency_alert frame arrives over the socket.
type AlertCreator interface {
	Create(ctx context.Context, p models.Principal, in storage.NewAlert) (models.EmergencyAlert, error)
}

type conn struct {
	id       string
	session  Session
	userID   int64
	role     models.Role
	topics   map[string]bool
	lastSeen time.Time
}

type inboundFrame struct {
	connID string
	data   []byte
}

// Hub routes realtime frames. Construct with New, start Run in its own
// goroutine, then feed it via Register/Unregister/HandleInbound.
type Hub struct {
	alerts AlertCreator
	logger *slog.Logger

	conns map[string]*conn

	register   chan *conn
	unregister chan string
	inbound    chan inboundFrame
	broadcasts chan models.EmergencyAlert
	touches    chan string

	heartbeat time.Duration
	grace     time.Duration
}

func New(alerts AlertCreator, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		alerts:     alerts,
		logger:     logger,
		conns:      make(map[string]*conn),
		register:   make(chan *conn, 64),
		unregister: make(chan string, 64),
		inbound:    make(chan inboundFrame, 256),
		broadcasts: make(chan models.EmergencyAlert, 64),
		touches:    make(chan string, 256),
		heartbeat:  30 * time.Second,
		grace:      90 * time.Second,
	}
}

// Run owns all connection state until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.handleRegister(c)
		case id := <-h.unregister:
			h.handleUnregister(id)
		case f := <-h.inbound:
			h.handleInbound(ctx, f)
		case alert := <-h.broadcasts:
			h.handleAlertBroadcast(alert)
		case id := <-h.touches:
			if c, ok := h.conns[id]; ok {
				c.lastSeen = time.Now()
			}
		case <-ticker.C:
			h.pingAll()
		}
	}
}

// Register admits a connection. The transport accept is unauthenticated;
// role only widens which topics the connection hears.
func (h *Hub) Register(s Session, userID int64, role models.Role) string {
	id := uuid.NewString()
	topics := map[string]bool{TopicLocations: true}
	switch role {
	case models.RoleResponseTeam:
		topics[TopicRoleResponse] = true
	case models.RoleAdmin:
		topics[TopicRoleAdmin] = true
	}
	h.register <- &conn{id: id, session: s, userID: userID, role: role, topics: topics, lastSeen: time.Now()}
	return id
}

func (h *Hub) Unregister(id string) { h.unregister <- id }

// HandleInbound enqueues a raw frame read from a connection. Frames from a
// single connection are processed in arrival order.
func (h *Hub) HandleInbound(connID string, data []byte) {
	h.inbound <- inboundFrame{connID: connID, data: data}
}

// Touch records transport-level liveness (pong received).
func (h *Hub) Touch(connID string) {
	select {
	case h.touches <- connID:
	default:
	}
}

// BroadcastAlert fans a persisted alert out to dispatch dashboards and the
// alert owner. Safe to call from any goroutine; the actual sends happen on
// the run loop. Implements dispatch.Broadcaster.
func (h *Hub) BroadcastAlert(alert models.EmergencyAlert) {
	h.broadcasts <- alert
}

func (h *Hub) handleRegister(c *conn) {
	h.conns[c.id] = c
	observability.WSConnections.Set(float64(len(h.conns)))
	h.logger.Debug("ws connected", "conn_id", c.id, "role", c.role)
}

func (h *Hub) handleUnregister(id string) {
	c, ok := h.conns[id]
	if !ok {
		return
	}
	delete(h.conns, id)
	_ = c.session.Close()
	observability.WSConnections.Set(float64(len(h.conns)))
	h.logger.Debug("ws disconnected", "conn_id", id)
}

type envelope struct {
	Type string `json:"type"`
}

type locationUpdate struct {
	Type      string  `json:"type"`
	ID        int64   `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Role      string  `json:"role"`
}

type emergencyFrame struct {
	Type          string  `json:"type"`
	UserID        int64   `json:"userId"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	EmergencyType string  `json:"emergencyType"`
	Description   string  `json:"description"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleInbound never lets a bad frame or a handler error take down the
// loop; malformed payloads are logged and dropped, the connection stays
// open.
func (h *Hub) handleInbound(ctx context.Context, f inboundFrame) {
	sender, ok := h.conns[f.connID]
	if !ok {
		return
	}
	sender.lastSeen = time.Now()

	var env envelope
	if err := json.Unmarshal(f.data, &env); err != nil {
		observability.FramesDropped.Inc()
		h.logger.Warn("malformed ws frame dropped", "conn_id", f.connID, "error", err)
		return
	}

	switch env.Type {
	case "location_update":
		var lu locationUpdate
		if err := json.Unmarshal(f.data, &lu); err != nil {
			observability.FramesDropped.Inc()
			h.logger.Warn("malformed location_update dropped", "conn_id", f.connID, "error", err)
			return
		}
		h.fanOutLocation(sender, lu)

	case "emergency_alert":
		var ef emergencyFrame
		if err := json.Unmarshal(f.data, &ef); err != nil {
			observability.FramesDropped.Inc()
			h.logger.Warn("malformed emergency_alert dropped", "conn_id", f.connID, "error", err)
			return
		}
		userID := ef.UserID
		if sender.userID != 0 {
			userID = sender.userID
		}
		// The create is store-bound and must not run on the loop: while it
		// is in flight the loop keeps servicing other connections, and the
		// resulting broadcast re-enters through the broadcasts channel.
		go h.createAlert(ctx, sender, userID, ef)

	default:
		observability.FramesDropped.Inc()
		h.logger.Debug("unknown ws frame type dropped", "conn_id", f.connID, "type", env.Type)
	}
}

// createAlert runs off the loop. Create triggers the alert broadcast
// itself on success; on failure only the originator is told. Session sends
// are safe from any goroutine.
func (h *Hub) createAlert(ctx context.Context, sender *conn, userID int64, ef emergencyFrame) {
	_, err := h.alerts.Create(ctx, models.Principal{UserID: userID, Role: models.RoleUser}, storage.NewAlert{
		Latitude:      ef.Latitude,
		Longitude:     ef.Longitude,
		EmergencyType: ef.EmergencyType,
		Description:   ef.Description,
	})
	if err != nil {
		h.logger.Warn("ws alert create failed", "conn_id", sender.id, "error", err)
		h.trySend(sender, outbound{Type: "error", Data: map[string]string{"message": "could not create alert"}})
	}
}

// fanOutLocation relays a position report to every other subscriber of the
// locations topic. A failed send never aborts the rest of the fan-out.
func (h *Hub) fanOutLocation(sender *conn, lu locationUpdate) {
	msg := outbound{Type: "location_update", Data: map[string]any{
		"id":        lu.ID,
		"latitude":  lu.Latitude,
		"longitude": lu.Longitude,
		"role":      lu.Role,
	}}
	n := 0
	for _, c := range h.conns {
		if c.id == sender.id || !c.topics[TopicLocations] {
			continue
		}
		h.trySend(c, msg)
		n++
	}
	observability.BroadcastsSent.WithLabelValues("location_update").Add(float64(n))
}

func (h *Hub) handleAlertBroadcast(alert models.EmergencyAlert) {
	msg := outbound{Type: "emergency_broadcast", Data: alert}
	n := 0
	for _, c := range h.conns {
		if !c.topics[TopicRoleResponse] && !c.topics[TopicRoleAdmin] && c.userID != alert.UserID {
			continue
		}
		h.trySend(c, msg)
		n++
	}
	observability.BroadcastsSent.WithLabelValues("emergency_broadcast").Add(float64(n))
	h.logger.Info("alert broadcast", "alert_id", alert.ID, "recipients", n)
}

func (h *Hub) trySend(c *conn, v any) {
	if err := c.session.Send(v); err != nil {
		observability.SendFailures.Inc()
		h.logger.Warn("ws send failed", "conn_id", c.id, "error", err)
	}
}

// pingAll evicts connections that have not shown liveness within the grace
// period and pings the rest.
func (h *Hub) pingAll() {
	now := time.Now()
	for id, c := range h.conns {
		if now.Sub(c.lastSeen) > h.grace {
			h.logger.Info("evicting stalled ws connection", "conn_id", id)
			h.handleUnregister(id)
			continue
		}
		if err := c.session.Ping(); err != nil {
			h.handleUnregister(id)
		}
	}
}

func (h *Hub) closeAll() {
	for id := range h.conns {
		h.handleUnregister(id)
	}
}
