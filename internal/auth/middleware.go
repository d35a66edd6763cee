package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/marketplace-sync/internal/logger"
)

type contextKey string

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey contextKey = "user_id"

// CurrentSessionFunc returns the active session or nil.
type CurrentSessionFunc func() *Session

// RequireSession only lets through requests carrying the active session's token
// as a Bearer credential. It guards the local API's write routes so a page open
// in the browser cannot act for the user.
func RequireSession(current CurrentSessionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must be a Bearer token"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token is empty"})
			return
		}

		session := current()
		if session == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no active session"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(session.Token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		ctx := logger.WithUserID(c.Request.Context(), session.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(UserIDKey), session.UserID)

		c.Next()
	}
}

// GetUserID extracts the user id set by RequireSession.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(string(UserIDKey))
	if !exists {
		return "", false
	}

	id, ok := userID.(string)
	return id, ok
}
