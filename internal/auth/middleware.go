package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeySession is the key used to store session data in the Gin context.
	ContextKeySession = "session"
)

// RequireAuth is a middleware that requires authentication.
// Requests without a valid session get a JSON 401.
func RequireAuth(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sm.Get(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(ContextKeySession, session)
		c.Next()
	}
}

// GetCurrentUser retrieves the current user's session data from the Gin context.
func GetCurrentUser(c *gin.Context) *SessionData {
	session, exists := c.Get(ContextKeySession)
	if !exists {
		return nil
	}

	sessionData, ok := session.(*SessionData)
	if !ok {
		return nil
	}

	return sessionData
}

// OptionalAuth is a middleware that loads session data if available but doesn't require it.
func OptionalAuth(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sm.Get(c.Request)
		if err == nil {
			c.Set(ContextKeySession, session)
		}
		c.Next()
	}
}
