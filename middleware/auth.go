package middleware

import (
	"net/http"
	"safewalk/models"
	"safewalk/services"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AuthMiddleware struct {
	sessions *services.SessionService
}

func NewAuthMiddleware(sessions *services.SessionService) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
	}
}

// RequireSession validates the session token and sets the session context
func (am *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		token := am.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:     "UNAUTHORIZED",
				Message:   "Session token required",
				Code:      "AUTH_TOKEN_REQUIRED",
				RequestID: c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		session, err := am.sessions.Authenticate(token)
		if err != nil {
			logrus.Debugf("Session authentication failed: %v", err)
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:     "UNAUTHORIZED",
				Message:   "Invalid or expired session",
				Code:      "AUTH_SESSION_INVALID",
				RequestID: c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		c.Set("session", session)
		c.Set("sessionID", session.ID)

		c.Next()
	})
}

// extractToken extracts the session token from the request
func (am *AuthMiddleware) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		// Bearer token format
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

// GetCurrentSession returns the authenticated session from context
func GetCurrentSession(c *gin.Context) (*services.Session, bool) {
	value, exists := c.Get("session")
	if !exists {
		return nil, false
	}

	session, ok := value.(*services.Session)
	return session, ok
}

// GetCurrentSessionID returns the authenticated session id from context
func GetCurrentSessionID(c *gin.Context) (string, bool) {
	sessionID, exists := c.Get("sessionID")
	if !exists {
		return "", false
	}

	sessionIDStr, ok := sessionID.(string)
	return sessionIDStr, ok
}
