package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/server/internal/shared/response"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500. Nothing is written when the
// response already started, which covers hijacked websocket connections.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("panic recovered",
				zap.Any("panic", r),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", GetRequestID(c)),
				zap.String("user_id", GetUserID(c).String()),
				zap.ByteString("stack", debug.Stack()),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.ErrorWithCode(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}
