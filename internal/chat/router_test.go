package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/storage"
)

type fakeSession struct {
	sent []any
}

func (f *fakeSession) Send(v any) error { f.sent = append(f.sent, v); return nil }
func (f *fakeSession) Close() error     { return nil }

func (f *fakeSession) messages(t *testing.T) []models.ChatMessage {
	t.Helper()
	out := make([]models.ChatMessage, 0)
	for _, v := range f.sent {
		if m, ok := v.(models.ChatMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func newTestRouter() (*Router, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewRouter(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func userFrame(t *testing.T, text string) []byte {
	t.Helper()
	b, err := json.Marshal(models.ChatMessage{Text: text})
	require.NoError(t, err)
	return b
}

func TestUserReceivesWelcomeOnConnect(t *testing.T) {
	r, _ := newTestRouter()
	s := &fakeSession{}
	r.Connect(s, models.Principal{UserID: 1, Role: models.RoleUser})

	msgs := s.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, welcomeText, msgs[0].Text)
	assert.Equal(t, "support", msgs[0].Sender)
}

func TestNewAgentSeesExistingConversations(t *testing.T) {
	r, _ := newTestRouter()
	r.Connect(&fakeSession{}, models.Principal{UserID: 1, Role: models.RoleUser})
	r.Connect(&fakeSession{}, models.Principal{UserID: 2, Role: models.RoleUser})

	agent := &fakeSession{}
	r.Connect(agent, models.Principal{UserID: 100, Role: models.RoleSupport})

	active := 0
	for _, v := range agent.sent {
		if m, ok := v.(map[string]any); ok && m["type"] == "active_chat" {
			active++
		}
	}
	assert.Equal(t, 2, active)
}

func TestNoAgentAvailableStillPersists(t *testing.T) {
	r, store := newTestRouter()
	s := &fakeSession{}
	id := r.Connect(s, models.Principal{UserID: 1, Role: models.RoleUser})

	r.HandleMessage(context.Background(), id, userFrame(t, "help"))

	msgs := s.messages(t)
	require.Len(t, msgs, 2) // welcome + no-agent notice
	assert.Equal(t, noAgentText, msgs[1].Text)

	recorded := store.ChatMessages()
	require.Len(t, recorded, 1, "message must be persisted for audit even with nobody online")
	assert.Equal(t, "help", recorded[0].Text)
	assert.Equal(t, "user", recorded[0].Sender)
}

func TestLeastBusyAgentSelectionWithFirstSeenTieBreak(t *testing.T) {
	r, _ := newTestRouter()
	a1, a2 := &fakeSession{}, &fakeSession{}
	r.Connect(a1, models.Principal{UserID: 100, Role: models.RoleSupport})
	r.Connect(a2, models.Principal{UserID: 101, Role: models.RoleSupport})

	u1 := &fakeSession{}
	id1 := r.Connect(u1, models.Principal{UserID: 1, Role: models.RoleUser})

	// Both agents idle: the first-seen agent wins the tie.
	r.HandleMessage(context.Background(), id1, userFrame(t, "hi"))
	require.Len(t, a1.messages(t), 1)
	assert.Empty(t, a2.messages(t))

	// A second user now lands on the idle agent.
	u2 := &fakeSession{}
	id2 := r.Connect(u2, models.Principal{UserID: 2, Role: models.RoleUser})
	r.HandleMessage(context.Background(), id2, userFrame(t, "hello"))
	require.Len(t, a2.messages(t), 1)
}

func TestAgentReplyReachesAddressedUser(t *testing.T) {
	r, _ := newTestRouter()
	agent := &fakeSession{}
	agentID := r.Connect(agent, models.Principal{UserID: 100, Role: models.RoleSupport})
	user := &fakeSession{}
	userConnID := r.Connect(user, models.Principal{UserID: 1, Role: models.RoleUser})

	reply, _ := json.Marshal(models.ChatMessage{Text: "how can I help", RecipientID: userConnID})
	r.HandleMessage(context.Background(), agentID, reply)

	msgs := user.messages(t)
	require.Len(t, msgs, 2) // welcome + reply
	assert.Equal(t, "how can I help", msgs[1].Text)
	assert.Equal(t, "support", msgs[1].Sender)
	assert.Equal(t, "sent", msgs[1].Status)

	confirms := agent.messages(t)
	require.Len(t, confirms, 1, "agent gets a delivery confirmation")
}

func TestAgentReplyToGoneUserBouncesWithError(t *testing.T) {
	r, _ := newTestRouter()
	agent := &fakeSession{}
	agentID := r.Connect(agent, models.Principal{UserID: 100, Role: models.RoleSupport})
	user := &fakeSession{}
	userConnID := r.Connect(user, models.Principal{UserID: 1, Role: models.RoleUser})
	r.Disconnect(userConnID)

	reply, _ := json.Marshal(models.ChatMessage{Text: "still there?", RecipientID: userConnID})
	r.HandleMessage(context.Background(), agentID, reply)

	msgs := agent.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0].Status)
	assert.Equal(t, userConnID, msgs[0].RecipientID, "bounce names the conversation that died")
	assert.Equal(t, "still there?", msgs[0].Text)
}

func TestUserDisconnectNotifiesAgents(t *testing.T) {
	r, _ := newTestRouter()
	agent := &fakeSession{}
	r.Connect(agent, models.Principal{UserID: 100, Role: models.RoleSupport})
	user := &fakeSession{}
	id := r.Connect(user, models.Principal{UserID: 1, Role: models.RoleUser})

	r.Disconnect(id)

	found := false
	for _, v := range agent.sent {
		if m, ok := v.(map[string]any); ok && m["type"] == "user_disconnected" {
			assert.Equal(t, int64(1), m["userId"])
			found = true
		}
	}
	assert.True(t, found, "agents must hear about user disconnects")
}

func TestTypingFromUnassignedUserGoesToAllAgents(t *testing.T) {
	r, _ := newTestRouter()
	a1, a2 := &fakeSession{}, &fakeSession{}
	r.Connect(a1, models.Principal{UserID: 100, Role: models.RoleSupport})
	r.Connect(a2, models.Principal{UserID: 101, Role: models.RoleSupport})
	id := r.Connect(&fakeSession{}, models.Principal{UserID: 1, Role: models.RoleUser})

	frame, _ := json.Marshal(models.TypingIndicator{Type: "typing", IsTyping: true})
	r.HandleMessage(context.Background(), id, frame)

	count := 0
	for _, s := range []*fakeSession{a1, a2} {
		for _, v := range s.sent {
			if ind, ok := v.(models.TypingIndicator); ok {
				assert.Equal(t, int64(1), ind.UserID)
				count++
			}
		}
	}
	assert.Equal(t, 2, count)
}

func TestMalformedChatFrameDropped(t *testing.T) {
	r, store := newTestRouter()
	id := r.Connect(&fakeSession{}, models.Principal{UserID: 1, Role: models.RoleUser})

	r.HandleMessage(context.Background(), id, []byte("{broken"))

	assert.Empty(t, store.ChatMessages())
}
