// Package chat pairs end users with support agents over live connections
// and relays messages and typing indicators between them. Delivery is
// best-effort; every message is persisted for audit either way.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/observability"
	"github.com/example/emergency-dispatch/internal/storage"
)

const welcomeText = "Welcome to live chat! An agent will be with you shortly."
const noAgentText = "No support agents are currently available. Please try again later."

// Session is the transport half of a chat connection.
type Session interface {
	Send(v any) error
	Close() error
}

type client struct {
	id        string
	session   Session
	userID    int64
	role      models.Role
	lastAgent string // users only: the agent handling this conversation
}

// Router owns the user and agent pools. All pool mutations happen under
// one mutex. Persistence runs after routing, outside the lock, so a slow
// store never stalls the pools.
type Router struct {
	store  storage.Store
	logger *slog.Logger

	mu         sync.Mutex
	users      map[string]*client
	agents     map[string]*client
	agentOrder []string // first-seen order for least-busy tie-breaks
}

func NewRouter(store storage.Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  store,
		logger: logger,
		users:  make(map[string]*client),
		agents: make(map[string]*client),
	}
}

// Connect admits an authenticated principal and returns the connection id.
// Support principals join the agent pool and immediately see every live
// conversation; everyone else is an end user and gets a welcome message.
func (r *Router) Connect(s Session, p models.Principal) string {
	c := &client{id: uuid.NewString(), session: s, userID: p.UserID, role: p.Role}

	r.mu.Lock()
	if p.Role == models.RoleSupport {
		r.agents[c.id] = c
		r.agentOrder = append(r.agentOrder, c.id)
		observability.ChatAgents.Set(float64(len(r.agents)))
		for _, u := range r.users {
			r.send(c, map[string]any{"type": "active_chat", "userId": u.userID, "timestamp": time.Now().UTC()})
		}
	} else {
		r.users[c.id] = c
		observability.ChatUsers.Set(float64(len(r.users)))
	}
	r.mu.Unlock()

	if p.Role != models.RoleSupport {
		r.send(c, models.ChatMessage{
			ID:        uuid.NewString(),
			Text:      welcomeText,
			Sender:    "support",
			Timestamp: time.Now().UTC(),
			Status:    "sent",
		})
	}
	r.logger.Debug("chat connected", "conn_id", c.id, "user_id", p.UserID, "role", p.Role)
	return c.id
}

// Disconnect removes a connection; agents are told when an end user goes
// away so their conversation lists stay honest.
func (r *Router) Disconnect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.agents[id]; ok {
		delete(r.agents, id)
		for i, aid := range r.agentOrder {
			if aid == id {
				r.agentOrder = append(r.agentOrder[:i], r.agentOrder[i+1:]...)
				break
			}
		}
		observability.ChatAgents.Set(float64(len(r.agents)))
		_ = c.session.Close()
		return
	}
	c, ok := r.users[id]
	if !ok {
		return
	}
	delete(r.users, id)
	observability.ChatUsers.Set(float64(len(r.users)))
	_ = c.session.Close()
	for _, a := range r.agents {
		r.send(a, map[string]any{"type": "user_disconnected", "userId": c.userID, "timestamp": time.Now().UTC()})
	}
}

// HandleMessage routes one inbound frame from the identified connection.
// Malformed frames are logged and dropped; the connection stays open.
func (r *Router) HandleMessage(ctx context.Context, connID string, data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		observability.FramesDropped.Inc()
		r.logger.Warn("malformed chat frame dropped", "conn_id", connID, "error", err)
		return
	}
	if probe.Type == "typing" {
		var ind models.TypingIndicator
		if err := json.Unmarshal(data, &ind); err != nil {
			observability.FramesDropped.Inc()
			return
		}
		r.relayTyping(connID, ind)
		return
	}

	var msg models.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		observability.FramesDropped.Inc()
		r.logger.Warn("malformed chat message dropped", "conn_id", connID, "error", err)
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	sender, senderIsAgent := r.agents[connID]
	if !senderIsAgent {
		sender = r.users[connID]
	}
	if sender == nil {
		r.mu.Unlock()
		return
	}
	msg.UserID = sender.userID
	if senderIsAgent {
		r.routeFromAgent(sender, msg)
	} else {
		r.routeFromUser(sender, msg)
	}
	r.mu.Unlock()

	// Persist after routing so a slow store never blocks the pools, and
	// regardless of whether anyone was online to receive it.
	observability.MessagesChatted.Inc()
	record := msg
	record.Status = ""
	if senderIsAgent {
		record.Sender = "support"
	} else {
		record.Sender = "user"
	}
	if err := r.store.SaveChatMessage(ctx, record); err != nil {
		r.logger.Error("chat message persistence failed", "message_id", msg.ID, "error", err)
	}
}

// routeFromAgent delivers a support reply to the addressed user connection
// and echoes a delivery confirmation back. A reply to a connection that is
// gone comes back to the agent with status "error" and the attempted
// recipient, so the agent knows which conversation died. Caller holds r.mu.
func (r *Router) routeFromAgent(agent *client, msg models.ChatMessage) {
	target, ok := r.users[msg.RecipientID]
	if !ok {
		bounce := msg
		bounce.Sender = "support"
		bounce.Status = "error"
		r.send(agent, bounce)
		return
	}
	target.lastAgent = agent.id
	out := msg
	out.Sender = "support"
	out.Status = "sent"
	r.send(target, out)

	confirm := out
	confirm.RecipientID = target.id
	r.send(agent, confirm)
}

// routeFromUser forwards a user message to the least-busy agent, or tells
// the user nobody is available. Caller holds r.mu.
func (r *Router) routeFromUser(user *client, msg models.ChatMessage) {
	agent := r.leastBusyAgent()
	if agent == nil {
		r.send(user, models.ChatMessage{
			ID:        uuid.NewString(),
			Text:      noAgentText,
			Sender:    "support",
			Timestamp: time.Now().UTC(),
			Status:    "sent",
		})
		return
	}
	user.lastAgent = agent.id
	out := msg
	out.Sender = "user"
	out.Status = "sent"
	out.RecipientID = user.id
	r.send(agent, out)

	confirm := out
	confirm.RecipientID = ""
	r.send(user, confirm)
}

// leastBusyAgent counts each agent's live conversations (users whose last
// assignment points at it) and returns the first-seen minimum. Caller
// holds r.mu.
func (r *Router) leastBusyAgent() *client {
	var selected *client
	min := -1
	for _, id := range r.agentOrder {
		a, ok := r.agents[id]
		if !ok {
			continue
		}
		n := 0
		for _, u := range r.users {
			if u.lastAgent == a.id {
				n++
			}
		}
		if min < 0 || n < min {
			min = n
			selected = a
		}
	}
	return selected
}

// relayTyping forwards typing indicators 1:1 where an assignment exists,
// otherwise from a user to every agent.
func (r *Router) relayTyping(connID string, ind models.TypingIndicator) {
	ind.Type = "typing"
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[connID]; ok {
		for _, u := range r.users {
			if u.userID == ind.UserID {
				r.send(u, ind)
			}
		}
		return
	}
	user, ok := r.users[connID]
	if !ok {
		return
	}
	ind.UserID = user.userID
	if user.lastAgent != "" {
		if a, ok := r.agents[user.lastAgent]; ok {
			r.send(a, ind)
			return
		}
	}
	for _, a := range r.agents {
		r.send(a, ind)
	}
}

func (r *Router) send(c *client, v any) {
	if err := c.session.Send(v); err != nil {
		observability.SendFailures.Inc()
		r.logger.Warn("chat send failed", "conn_id", c.id, "error", err)
	}
}
