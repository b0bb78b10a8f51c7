package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "taskhub:ratelimit:"

// RateLimiter is a sliding window counter kept in a Redis sorted set.
type RateLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRateLimiter creates a rate limiter on client.
func NewRateLimiter(client redis.UniversalClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow records one hit for key and reports whether it fits in limit hits
// per window, along with how many hits remain.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	fullKey := rateLimitKeyPrefix + key
	now := r.now().UnixNano()
	windowStart := now - window.Nanoseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	count := int(countCmd.Val())
	if count >= limit {
		return false, 0, nil
	}

	pipe = r.client.Pipeline()
	pipe.ZAdd(ctx, fullKey, redis.Z{Score: float64(now), Member: fmt.Sprintf("%d", now)})
	pipe.Expire(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	return true, limit - count - 1, nil
}
