package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/onlyif/messaging/internal/apperrors"
	"github.com/onlyif/messaging/internal/auth"
)

// abortWithError writes the standard error envelope and stops the chain
func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperrors.StatusOf(err), gin.H{
		"success": false,
		"error":   apperrors.MessageOf(err),
	})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// AuthMiddleware copies the caller's bearer token into the request context so
// backend lookups can forward it. A valid token also puts its claims there.
// With required set, requests without a valid token get 401.
func AuthMiddleware(jwtService *auth.JWTService, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		ctx := auth.WithToken(c.Request.Context(), token)

		if token != "" && jwtService != nil {
			claims, err := jwtService.ValidateToken(token)
			if err == nil {
				ctx = auth.WithClaims(ctx, claims)
				c.Set("user_id", claims.UserID)
			} else if required {
				abortWithError(c, apperrors.Unauthorized("Invalid token", err))
				return
			}
		} else if required {
			abortWithError(c, apperrors.Unauthorized("Authorization required", nil))
			return
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
