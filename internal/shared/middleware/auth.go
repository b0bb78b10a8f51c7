package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/module/auth"
	"go.uber.org/zap"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// UserIDKey is the context key for user ID.
	UserIDKey = "user_id"
	// EmailKey is the context key for email.
	EmailKey = "email"
	// UserKey is the context key for the registered *model.User.
	UserKey = "user"
)

// Authenticator verifies a bearer token.
type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

// Registrar maps a verified identity to a platform account, creating it
// on first sight.
type Registrar interface {
	EnsureUser(ctx context.Context, identity auth.Identity) (*model.User, error)
}

// Auth returns a middleware that requires a valid bearer token. Websocket
// upgrades may pass the token as the "token" query parameter instead.
func Auth(authenticator Authenticator, registrar Registrar, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortUnauthorized(c, "authorization header required")
			return
		}

		identity, err := authenticator.Authenticate(token)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		user, err := registrar.EnsureUser(c.Request.Context(), identity)
		if err != nil {
			logger.Error("register user", zap.String("user_id", identity.UserID.String()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal error",
				"code":  "internal_error",
			})
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(EmailKey, user.Email)
		c.Set(UserKey, user)
		c.Next()
	}
}

// RequireAdmin rejects callers without the ADMIN system role. It must run
// after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := GetUser(c)
		if user == nil || !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin role required",
				"code":  "forbidden",
			})
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
		"code":  "unauthorized",
	})
}

// extractToken reads the bearer token from the Authorization header, or
// from the query string on websocket upgrades.
func extractToken(c *gin.Context) string {
	if header := c.GetHeader(AuthorizationHeader); strings.HasPrefix(header, BearerPrefix) {
		return strings.TrimPrefix(header, BearerPrefix)
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}

// GetUserID returns the user ID from context.
// Returns uuid.Nil if not found.
func GetUserID(c *gin.Context) uuid.UUID {
	if val, exists := c.Get(UserIDKey); exists {
		if userID, ok := val.(uuid.UUID); ok {
			return userID
		}
	}
	return uuid.Nil
}

// GetEmail returns the email from context.
func GetEmail(c *gin.Context) string {
	return c.GetString(EmailKey)
}

// GetUser returns the registered user from context, or nil.
func GetUser(c *gin.Context) *model.User {
	if val, exists := c.Get(UserKey); exists {
		if user, ok := val.(*model.User); ok {
			return user
		}
	}
	return nil
}
