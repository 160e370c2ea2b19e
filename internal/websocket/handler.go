package websocket

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/onlyif/messaging/internal/apperrors"
	"github.com/onlyif/messaging/internal/auth"
	"github.com/onlyif/messaging/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HandlerConfig controls socket authentication and pacing
type HandlerConfig struct {
	// AuthRequired rejects connections without a valid token
	AuthRequired   bool
	AllowedOrigins []string
	// FramesPerSecond and Burst bound inbound frames per socket
	FramesPerSecond float64
	Burst           int
}

// Handler handles WebSocket connections
type Handler struct {
	hub        *Hub
	jwtService *auth.JWTService
	messenger  Messenger
	cfg        HandlerConfig
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, jwtService *auth.JWTService, messenger Messenger, cfg HandlerConfig, log *zap.Logger) *Handler {
	if cfg.FramesPerSecond <= 0 {
		cfg.FramesPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}

	h := &Handler{
		hub:        hub,
		jwtService: jwtService,
		messenger:  messenger,
		cfg:        cfg,
		log:        log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// identity is who the socket acts as
type identity struct {
	userID string
	role   string
	token  string
}

// authenticate reads a token from the query or Authorization header. Without
// AuthRequired a userId query parameter is accepted, as in the HTTP API.
func (h *Handler) authenticate(c *gin.Context) (*identity, error) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}

	if token != "" && h.jwtService != nil {
		claims, err := h.jwtService.ValidateToken(token)
		if err != nil {
			return nil, apperrors.Unauthorized("Invalid token", err)
		}
		return &identity{userID: claims.UserID, role: claims.Role, token: token}, nil
	}

	if h.cfg.AuthRequired {
		return nil, apperrors.Unauthorized("Token required", nil)
	}

	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		return nil, apperrors.Validation("userId is required")
	}
	role := strings.TrimSpace(c.Query("userRole"))
	if role != "" {
		if _, err := models.ParseRole(role); err != nil {
			return nil, apperrors.Validation("userRole must be buyer, seller or agent")
		}
	}
	return &identity{userID: userID, role: role}, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(c *gin.Context) {
	id, err := h.authenticate(c)
	if err != nil {
		c.JSON(apperrors.StatusOf(err), gin.H{
			"success": false,
			"error":   apperrors.MessageOf(err),
		})
		return
	}

	// Upgrade connection
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Info("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		hub:         h.hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		userID:      id.userID,
		role:        id.role,
		token:       id.token,
		connectedAt: time.Now(),
		messenger:   h.messenger,
		limiter:     rate.NewLimiter(rate.Limit(h.cfg.FramesPerSecond), h.cfg.Burst),
		log:         h.log,
	}

	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	// Start client pumps
	go client.WritePump()
	go client.ReadPump()
}

// GetOnlineUsers returns users with a socket on this instance. With a userId
// query it answers whether that user is online on any instance.
func (h *Handler) GetOnlineUsers(c *gin.Context) {
	if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"userId": userID,
				"online": h.hub.UserOnline(c.Request.Context(), userID),
			},
		})
		return
	}

	onlineUsers := h.hub.GetOnlineUsers()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"onlineUsers": onlineUsers,
			"count":       len(onlineUsers),
		},
	})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	for _, pattern := range h.cfg.AllowedOrigins {
		if matchOrigin(pattern, origin) {
			return true
		}
	}
	return false
}

// matchOrigin supports exact matches or wildcard patterns like *.example.com
func matchOrigin(pattern, origin string) bool {
	if pattern == "*" || pattern == origin {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		originHost := origin
		if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
			originHost = u.Hostname()
		}
		patHost := strings.TrimPrefix(pattern, "*.")
		if originHost == patHost || strings.HasSuffix(originHost, "."+patHost) {
			return true
		}
	}
	return false
}
