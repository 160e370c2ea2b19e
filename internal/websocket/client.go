package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onlyif/messaging/internal/apperrors"
	"github.com/onlyif/messaging/internal/auth"
	"github.com/onlyif/messaging/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 16384

	// Time allowed for one inbound frame to be handled
	handleTimeout = 10 * time.Second
)

// Messenger is the part of the conversation service a socket can drive
type Messenger interface {
	SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (*models.MarkReadResult, error)
}

// Client represents a WebSocket client
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	userID      string
	role        string
	token       string
	connectedAt time.Time

	messenger Messenger
	limiter   *rate.Limiter
	log       *zap.Logger
}

type inboundFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ReadPump pumps messages from the WebSocket connection to the messenger
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Info("websocket closed unexpectedly", zap.String("user_id", c.userID), zap.Error(err))
			}
			break
		}

		if !c.limiter.Allow() {
			c.sendError(apperrors.RateLimited())
			continue
		}

		c.handleMessage(message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one event per frame so clients can parse each as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming WebSocket messages
func (c *Client) handleMessage(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError(apperrors.Validation("Invalid message format"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	// the socket's token is forwarded on backend lookups
	ctx = auth.WithToken(ctx, c.token)

	switch frame.Event {
	case models.EventMessageSend:
		c.handleMessageSend(ctx, frame.Payload)

	case models.EventMessageRead:
		c.handleMessageRead(ctx, frame.Payload)

	default:
		c.sendError(apperrors.Validation("Unknown event type"))
	}
}

// handleMessageSend always sends as the socket's user
func (c *Client) handleMessageSend(ctx context.Context, payload json.RawMessage) {
	var req models.SendMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(apperrors.Validation("Invalid message payload"))
		return
	}
	req.SenderID = c.userID
	if req.SenderRole == "" {
		req.SenderRole = c.role
	}

	// Delivery back to this socket happens through the message.new fan out
	if _, err := c.messenger.SendMessage(ctx, req); err != nil {
		c.sendError(err)
	}
}

func (c *Client) handleMessageRead(ctx context.Context, payload json.RawMessage) {
	var req models.WSMarkReadPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(apperrors.Validation("Invalid read payload"))
		return
	}

	if _, err := c.messenger.MarkRead(ctx, req.ConversationID, c.userID); err != nil {
		c.sendError(err)
	}
}

// sendError sends an error event to this socket only
func (c *Client) sendError(err error) {
	payload := models.WSErrorPayload{Message: apperrors.MessageOf(err)}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		payload.Code = appErr.Code
	}

	data, _ := json.Marshal(models.WSMessage{Event: models.EventError, Payload: payload})
	c.hub.reply(c, data)
}
