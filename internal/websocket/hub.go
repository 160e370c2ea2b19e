package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/onlyif/messaging/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Presence records which users hold an open socket on any instance
type Presence interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
	IsUserOnline(ctx context.Context, userID string) (bool, error)
}

// Hub maintains the set of active clients and routes events to the participants they name
type Hub struct {
	// Registered clients, a user may hold several sockets
	clients map[string]map[*Client]struct{}

	// Encoded events waiting to be routed
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	presence Presence
	log      *zap.Logger

	mu sync.RWMutex
}

// NewHub creates a new Hub. presence may be nil.
func NewHub(presence Presence, log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		presence:   presence,
		log:        log,
	}
}

// Run starts the hub and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]struct{})
			}
			h.clients[client.userID][client] = struct{}{}
			h.mu.Unlock()

			if h.presence != nil {
				if err := h.presence.SetUserOnline(ctx, client.userID); err != nil {
					h.log.Warn("failed to record presence", zap.String("user_id", client.userID), zap.Error(err))
				}
			}
			h.log.Debug("client registered", zap.String("user_id", client.userID))

		case client := <-h.unregister:
			h.mu.Lock()
			last := h.remove(client)
			h.mu.Unlock()

			if last && h.presence != nil {
				if err := h.presence.SetUserOffline(ctx, client.userID); err != nil {
					h.log.Warn("failed to clear presence", zap.String("user_id", client.userID), zap.Error(err))
				}
			}
			h.log.Debug("client unregistered", zap.String("user_id", client.userID))

		case data := <-h.broadcast:
			h.route(data)
		}
	}
}

// remove drops client and reports whether it was the user's last socket. Callers hold mu.
func (h *Hub) remove(client *Client) bool {
	sockets, ok := h.clients[client.userID]
	if !ok {
		return false
	}
	if _, ok := sockets[client]; !ok {
		return false
	}
	delete(sockets, client)
	close(client.send)
	if len(sockets) == 0 {
		delete(h.clients, client.userID)
		return true
	}
	return false
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sockets := range h.clients {
		for c := range sockets {
			h.remove(c)
		}
	}
}

// Publish routes an event to the local clients of its participants.
// Used as the service notifier when no Redis is configured.
func (h *Hub) Publish(_ context.Context, event models.WSMessage) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	h.route(data)
	return nil
}

// ListenRedis forwards events published by any instance to this hub's clients
func (h *Hub) ListenRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case h.broadcast <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// Register hands a client to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// recipients reads the participants list every routed payload carries
func recipients(data []byte) ([]string, error) {
	var envelope struct {
		Payload struct {
			Participants []string `json:"participants"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return envelope.Payload.Participants, nil
}

func (h *Hub) route(data []byte) {
	userIDs, err := recipients(data)
	if err != nil {
		h.log.Warn("dropping undecodable event", zap.Error(err))
		return
	}
	h.deliver(userIDs, data)
}

func (h *Hub) deliver(userIDs []string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, id := range userIDs {
		for client := range h.clients[id] {
			select {
			case client.send <- data:
			default:
				// Client's send channel is full, skip
				h.log.Warn("dropping event for slow client", zap.String("user_id", id))
			}
		}
	}
}

// reply writes to one socket if it is still registered
func (h *Hub) reply(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c.userID][c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// GetOnlineUsers returns the ids of users with at least one socket
func (h *Hub) GetOnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userIDs := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		userIDs = append(userIDs, userID)
	}
	return userIDs
}

// IsUserOnline checks if a user is online on this instance
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID]) > 0
}

// UserOnline checks this instance first and then the shared presence, so a
// user connected to another instance still counts as online
func (h *Hub) UserOnline(ctx context.Context, userID string) bool {
	if h.IsUserOnline(userID) {
		return true
	}
	if h.presence == nil {
		return false
	}
	online, err := h.presence.IsUserOnline(ctx, userID)
	if err != nil {
		h.log.Warn("failed to read presence", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return online
}
