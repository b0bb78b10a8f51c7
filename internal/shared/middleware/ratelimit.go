package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RateLimitLimit is the header for the limit.
	RateLimitLimit = "X-RateLimit-Limit"
	// RateLimitRemaining is the header for remaining requests.
	RateLimitRemaining = "X-RateLimit-Remaining"
	// RetryAfter is the header for retry time.
	RetryAfter = "Retry-After"
)

// Limiter counts hits per key inside a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// RateLimitByUser limits requests per authenticated user, falling back to
// the client IP. Limiter errors let the request through. It must run
// after Auth.
func RateLimitByUser(limiter Limiter, scope string, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":ip:" + c.ClientIP()
		if userID := GetUserID(c); userID != uuid.Nil {
			key = scope + ":user:" + userID.String()
		}

		allowed, remaining, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header(RateLimitLimit, strconv.Itoa(limit))
		c.Header(RateLimitRemaining, strconv.Itoa(remaining))
		if !allowed {
			c.Header(RetryAfter, strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, please try again later",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
