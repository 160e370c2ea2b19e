package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/onlyif/messaging/internal/apperrors"
	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/service"
)

type ConversationHandler struct {
	svc *service.ConversationService
}

func NewConversationHandler(svc *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// GetConversations lists the caller's conversations, newest activity first
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	var q models.ListConversationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		ErrorResponse(c, apperrors.Validation(err.Error()))
		return
	}

	convs, err := h.svc.ListConversations(c.Request.Context(), q.UserID, strings.ToLower(strings.TrimSpace(q.UserRole)))
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, convs)
}

// GetMessages returns a conversation's messages oldest first
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	msgs, err := h.svc.GetMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, msgs)
}

// MarkRead marks the messages sent to the body's userId as read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	var req models.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, apperrors.Validation("Invalid request body"))
		return
	}

	res, err := h.svc.MarkRead(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, res)
}
