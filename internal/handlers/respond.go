package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/onlyif/messaging/internal/apperrors"
)

// SuccessResponse wraps data in the standard envelope
func SuccessResponse(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// ErrorResponse sends a standardized error response. Server side failures are
// attached to the context so the request logger records the cause.
func ErrorResponse(c *gin.Context, err error) {
	status := apperrors.StatusOf(err)
	if status >= 500 {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"success": false, "error": apperrors.MessageOf(err)})
}
