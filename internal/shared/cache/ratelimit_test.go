package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhub/server/internal/shared/config"
)

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRateLimiter(client)
	clock := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		ok, remaining, err := limiter.Allow(ctx, "user:a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, remaining)
	}

	ok, remaining, err := limiter.Allow(ctx, "user:a", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)

	ok, _, err = limiter.Allow(ctx, "user:b", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	clock = clock.Add(2 * time.Minute)
	ok, _, err = limiter.Allow(ctx, "user:a", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "old hits leave the window")
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), &config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), &config.RedisConfig{Address: mr.Addr()})
	assert.Error(t, err)
}
