package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/onlyif/messaging/internal/apperrors"
	"github.com/onlyif/messaging/internal/auth"
	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/service"
)

type MessageHandler struct {
	svc *service.ConversationService
}

func NewMessageHandler(svc *service.ConversationService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// SendMessage sends a new message (REST endpoint)
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, apperrors.Validation("Invalid request body"))
		return
	}

	// An authenticated caller can only send as themselves
	if claims, ok := auth.ClaimsFromContext(c.Request.Context()); ok {
		if req.SenderID == "" {
			req.SenderID = claims.UserID
		}
		if req.SenderID != claims.UserID {
			ErrorResponse(c, apperrors.Forbidden("senderId does not match the authenticated user"))
			return
		}
		if req.SenderRole == "" {
			req.SenderRole = claims.Role
		}
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), req)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, msg)
}
