package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaintenanceFlag reports whether maintenance mode is on.
type MaintenanceFlag interface {
	Enabled(ctx context.Context) bool
}

// Maintenance rejects mutating requests with 503 while maintenance mode
// is on. Admins and safe methods pass. It must run after Auth.
func Maintenance(flag MaintenanceFlag) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if user := GetUser(c); user != nil && user.IsAdmin() {
			c.Next()
			return
		}
		if flag.Enabled(c.Request.Context()) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "service is in maintenance mode",
				"code":  "maintenance",
			})
			return
		}
		c.Next()
	}
}
