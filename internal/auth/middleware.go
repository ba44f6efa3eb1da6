package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/authview/internal/identity"
)

// Context keys for user data
const (
	ContextKeyUserID = "auth_user_id"
	ContextKeyEmail  = "auth_email"
)

// LoginPath is where unauthenticated browsers are sent.
const LoginPath = "/auth"

// Middleware exposes the signed-in user of a request to handlers.
type Middleware struct {
	storage *ProviderStorage
	now     func() time.Time
}

// NewMiddleware creates a new authentication middleware.
func NewMiddleware(sessions *SessionManager) *Middleware {
	return &Middleware{storage: sessions.ProviderStorage(), now: time.Now}
}

// Handler returns a Gin middleware that puts the signed-in user, if any,
// into the context. It reads the stored provider session without refreshing
// it; an expired session counts as anonymous until the auth view refreshes
// it.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := m.storage.LoadSession(c.Request.Context())
		if err == nil && session != nil && !session.ExpiresWithin(m.now(), 0) {
			if user := identity.UserOf(session); user != nil {
				c.Set(ContextKeyUserID, user.ID)
				c.Set(ContextKeyEmail, user.Email)
			}
		}
		c.Next()
	}
}

// RequireAuth returns a middleware that rejects anonymous requests: API
// clients get 401, browsers are redirected to the auth view.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAuthenticated(c) {
			c.Next()
			return
		}
		if isAPIRequest(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}
		c.Redirect(http.StatusFound, LoginPath)
		c.Abort()
	}
}

// isAPIRequest determines if this is an API request vs web browser request.
func isAPIRequest(c *gin.Context) bool {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}

// GetUserID retrieves the signed-in user's provider ID, or "".
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetEmail retrieves the signed-in user's email, or "".
func GetEmail(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}

// IsAuthenticated returns true if the request carries a signed-in user.
func IsAuthenticated(c *gin.Context) bool {
	return GetUserID(c) != ""
}
