package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/onlyif/messaging/internal/apperrors"
	"github.com/onlyif/messaging/internal/auth"
	"github.com/onlyif/messaging/internal/logger"
	"github.com/onlyif/messaging/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(nil, logger.Nop())
}

func addClient(h *Hub, userID string) *Client {
	c := &Client{hub: h, userID: userID, send: make(chan []byte, 4)}
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	return c
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case b := <-c.send:
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(b, &got))
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timed out waiting for message to %s", c.userID)
		return nil
	}
}

func TestHubPublishRoutesToParticipants(t *testing.T) {
	h := newTestHub()
	buyer := addClient(h, "b1")
	agent := addClient(h, "a1")
	agentTab := addClient(h, "a1")
	other := addClient(h, "a2")

	err := h.Publish(context.Background(), models.WSMessage{
		Event: models.EventMessageNew,
		Payload: models.WSMessageNewPayload{
			Message:      models.Message{ID: "m1", ConversationID: "c1", SenderID: "b1", MessageText: "hi"},
			Participants: []string{"b1", "a1"},
		},
	})
	require.NoError(t, err)

	for _, c := range []*Client{buyer, agent, agentTab} {
		got := receive(t, c)
		assert.Equal(t, models.EventMessageNew, got["event"])
	}
	assert.Len(t, other.send, 0)
}

type fakePresence struct {
	online map[string]bool
	err    error
}

func (p *fakePresence) SetUserOnline(context.Context, string) error  { return nil }
func (p *fakePresence) SetUserOffline(context.Context, string) error { return nil }

func (p *fakePresence) IsUserOnline(_ context.Context, userID string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.online[userID], nil
}

func TestHubUserOnline(t *testing.T) {
	ctx := context.Background()
	presence := &fakePresence{online: map[string]bool{"remote": true}}
	h := NewHub(presence, logger.Nop())
	addClient(h, "local")

	assert.True(t, h.UserOnline(ctx, "local"))
	assert.True(t, h.UserOnline(ctx, "remote"))
	assert.False(t, h.UserOnline(ctx, "nobody"))

	presence.err = errors.New("connection refused")
	assert.False(t, h.UserOnline(ctx, "remote"))
	assert.True(t, h.UserOnline(ctx, "local"))

	assert.False(t, newTestHub().UserOnline(ctx, "remote"))
}

func TestGetOnlineUsers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(&fakePresence{online: map[string]bool{"remote": true}}, logger.Nop())
	addClient(h, "local")

	handler := NewHandler(h, nil, &fakeMessenger{hub: h}, HandlerConfig{}, logger.Nop())
	r := gin.New()
	r.GET("/online-users", handler.GetOnlineUsers)

	get := func(target string) map[string]interface{} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body.Data
	}

	all := get("/online-users")
	assert.Equal(t, float64(1), all["count"])
	assert.Equal(t, []interface{}{"local"}, all["onlineUsers"])

	assert.Equal(t, true, get("/online-users?userId=remote")["online"])
	assert.Equal(t, false, get("/online-users?userId=ghost")["online"])
}

func TestHubRemoveReportsLastSocket(t *testing.T) {
	h := newTestHub()
	tab1 := addClient(h, "u1")
	tab2 := addClient(h, "u1")

	assert.False(t, h.remove(tab1))
	assert.True(t, h.IsUserOnline("u1"))
	assert.True(t, h.remove(tab2))
	assert.False(t, h.IsUserOnline("u1"))
	assert.False(t, h.remove(tab2))
}

func TestHubDropsUndecodableEvents(t *testing.T) {
	h := newTestHub()
	c := addClient(h, "u1")

	h.route([]byte("not json"))
	assert.Len(t, c.send, 0)
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		pattern string
		origin  string
		want    bool
	}{
		{"https://app.onlyif.com.au", "https://app.onlyif.com.au", true},
		{"*.onlyif.com.au", "https://agents.onlyif.com.au", true},
		{"*.onlyif.com.au", "https://onlyif.com.au", true},
		{"*.onlyif.com.au", "https://evilonlyif.com.au", false},
		{"https://app.onlyif.com.au", "https://other.example.com", false},
		{"*", "http://localhost:3000", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, matchOrigin(tt.pattern, tt.origin), "%s vs %s", tt.pattern, tt.origin)
	}
}

type fakeMessenger struct {
	hub *Hub

	mu    sync.Mutex
	sends []models.SendMessageRequest
}

func (m *fakeMessenger) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	if req.RecipientID == "s1" {
		return nil, apperrors.ForbiddenPair()
	}
	m.mu.Lock()
	m.sends = append(m.sends, req)
	m.mu.Unlock()

	msg := &models.Message{ID: "m1", ConversationID: "c1", SenderID: req.SenderID, MessageText: req.MessageText}
	return msg, m.hub.Publish(ctx, models.WSMessage{
		Event:   models.EventMessageNew,
		Payload: models.WSMessageNewPayload{Message: *msg, Participants: []string{req.SenderID, req.RecipientID}},
	})
}

func (m *fakeMessenger) MarkRead(context.Context, string, string) (*models.MarkReadResult, error) {
	return &models.MarkReadResult{Message: "Messages marked as read"}, nil
}

func startServer(t *testing.T, cfg HandlerConfig, jwt *auth.JWTService) (*Hub, *fakeMessenger, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := newTestHub()
	go hub.Run(ctx)

	messenger := &fakeMessenger{hub: hub}
	h := NewHandler(hub, jwt, messenger, cfg, logger.Nop())

	r := gin.New()
	r.GET("/ws", h.HandleWebSocket)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return hub, messenger, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, hub *Hub, url, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.IsUserOnline(userID) }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got models.WSMessage
	require.NoError(t, conn.ReadJSON(&got))
	return got
}

func TestHandleWebSocket_SendReachesBothParticipants(t *testing.T) {
	hub, messenger, url := startServer(t, HandlerConfig{}, nil)

	agent := dial(t, hub, url+"?userId=a1&userRole=agent", "a1")
	buyer := dial(t, hub, url+"?userId=b1&userRole=buyer", "b1")

	require.NoError(t, buyer.WriteJSON(map[string]interface{}{
		"event": models.EventMessageSend,
		"payload": map[string]string{
			"senderId":    "someone-else",
			"recipientId": "a1",
			"messageText": "hello",
		},
	}))

	assert.Equal(t, models.EventMessageNew, readEvent(t, agent).Event)
	assert.Equal(t, models.EventMessageNew, readEvent(t, buyer).Event)

	messenger.mu.Lock()
	defer messenger.mu.Unlock()
	require.Len(t, messenger.sends, 1)
	assert.Equal(t, "b1", messenger.sends[0].SenderID)
	assert.Equal(t, "buyer", messenger.sends[0].SenderRole)
}

func TestHandleWebSocket_ErrorsGoToSenderOnly(t *testing.T) {
	hub, _, url := startServer(t, HandlerConfig{}, nil)
	buyer := dial(t, hub, url+"?userId=b1", "b1")

	require.NoError(t, buyer.WriteJSON(map[string]interface{}{
		"event":   models.EventMessageSend,
		"payload": map[string]string{"recipientId": "s1", "messageText": "skip the agent"},
	}))

	got := readEvent(t, buyer)
	assert.Equal(t, models.EventError, got.Event)
	payload := got.Payload.(map[string]interface{})
	assert.Equal(t, apperrors.CodeForbiddenPair, payload["code"])

	require.NoError(t, buyer.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing.start"}`)))
	got = readEvent(t, buyer)
	assert.Equal(t, models.EventError, got.Event)
}

func TestHandleWebSocket_Authentication(t *testing.T) {
	jwt := auth.NewJWTService("test-secret", 1)
	hub, _, url := startServer(t, HandlerConfig{AuthRequired: true}, jwt)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?userId=b1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := jwt.GenerateToken("a1", "agent")
	require.NoError(t, err)
	dial(t, hub, url+"?token="+token, "a1")
}
