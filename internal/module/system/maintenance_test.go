package system

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/store"
	"github.com/taskhub/server/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingSettings struct {
	store.SettingRepository
	mu   sync.Mutex
	gets int
	err  error
	// afterGet runs once, after the next read has returned from the store.
	afterGet func()
}

func (c *countingSettings) Get(ctx context.Context, key string) (*model.Setting, error) {
	c.mu.Lock()
	c.gets++
	err := c.err
	hook := c.afterGet
	c.afterGet = nil
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	setting, err := c.SettingRepository.Get(ctx, key)
	if hook != nil {
		hook()
	}
	return setting, err
}

func (c *countingSettings) getCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

func newSettings() *countingSettings {
	return &countingSettings{SettingRepository: memory.New().Settings()}
}

func TestMaintenanceFlag_TTLCache(t *testing.T) {
	ctx := context.Background()
	settings := newSettings()
	flag := NewMaintenanceFlag(settings, nil, MaintenanceConfig{TTL: time.Minute}, zap.NewNop())
	now := time.Now()
	flag.now = func() time.Time { return now }

	assert.False(t, flag.Enabled(ctx))
	assert.False(t, flag.Enabled(ctx))
	assert.Equal(t, 1, settings.getCount())

	// A write from elsewhere is only seen after the TTL.
	require.NoError(t, settings.Put(ctx, SettingMaintenance, "1"))
	assert.False(t, flag.Enabled(ctx))

	now = now.Add(time.Minute)
	assert.True(t, flag.Enabled(ctx))
	assert.Equal(t, 2, settings.getCount())
}

func TestMaintenanceFlag_SetUpdatesLocalCache(t *testing.T) {
	ctx := context.Background()
	settings := newSettings()
	flag := NewMaintenanceFlag(settings, nil, MaintenanceConfig{}, zap.NewNop())

	assert.False(t, flag.Enabled(ctx))
	require.NoError(t, flag.Set(ctx, true))
	assert.True(t, flag.Enabled(ctx))

	stored, err := settings.SettingRepository.Get(ctx, SettingMaintenance)
	require.NoError(t, err)
	assert.Equal(t, "1", stored.Value)

	flag.Invalidate()
	assert.True(t, flag.Enabled(ctx))
	assert.Equal(t, 2, settings.getCount())
}

func TestMaintenanceFlag_LoadFailureKeepsLastValue(t *testing.T) {
	ctx := context.Background()
	settings := newSettings()
	flag := NewMaintenanceFlag(settings, nil, MaintenanceConfig{}, zap.NewNop())

	require.NoError(t, flag.Set(ctx, true))
	flag.Invalidate()
	settings.err = errors.New("db down")
	assert.True(t, flag.Enabled(ctx))

	fresh := NewMaintenanceFlag(settings, nil, MaintenanceConfig{}, zap.NewNop())
	assert.False(t, fresh.Enabled(ctx))
}

func TestMaintenanceFlag_InvalidateDuringLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("local cache", func(t *testing.T) {
		settings := newSettings()
		flag := NewMaintenanceFlag(settings, nil, MaintenanceConfig{TTL: time.Hour}, zap.NewNop())
		settings.afterGet = func() {
			require.NoError(t, settings.Put(ctx, SettingMaintenance, "1"))
			flag.Invalidate()
		}

		// The racing read may answer with the old value but must not cache it.
		assert.False(t, flag.Enabled(ctx))
		assert.True(t, flag.Enabled(ctx))
		assert.Equal(t, 2, settings.getCount())
	})

	t.Run("shared cache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		settings := newSettings()
		flag := NewMaintenanceFlag(settings, client, MaintenanceConfig{TTL: time.Hour}, zap.NewNop())
		settings.afterGet = func() {
			require.NoError(t, flag.Set(ctx, true))
		}

		assert.False(t, flag.Enabled(ctx))
		assert.False(t, mr.Exists(flag.key()))
		assert.True(t, flag.Enabled(ctx))
	})
}

func TestMaintenanceFlag_RedisSharedCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	settings := newSettings()
	require.NoError(t, settings.Put(ctx, SettingMaintenance, "1"))

	first := NewMaintenanceFlag(settings, client, MaintenanceConfig{TTL: time.Minute}, zap.NewNop())
	assert.True(t, first.Enabled(ctx))
	cached, err := mr.Get("taskhub:setting:" + SettingMaintenance)
	require.NoError(t, err)
	assert.Equal(t, "1", cached)

	// A second instance is served from redis without touching the store.
	second := NewMaintenanceFlag(settings, client, MaintenanceConfig{TTL: time.Minute}, zap.NewNop())
	assert.True(t, second.Enabled(ctx))
	assert.Equal(t, 1, settings.getCount())
}

func TestMaintenanceFlag_InvalidationAcrossInstances(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	settings := newSettings()

	newFlag := func() *MaintenanceFlag {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		flag := NewMaintenanceFlag(settings, client, MaintenanceConfig{TTL: time.Hour}, zap.NewNop())
		require.NoError(t, flag.Start(ctx))
		t.Cleanup(func() { _ = flag.Close() })
		return flag
	}
	writer := newFlag()
	reader := newFlag()

	assert.False(t, reader.Enabled(ctx))
	require.NoError(t, writer.Set(ctx, true))

	assert.Eventually(t, func() bool { return reader.Enabled(ctx) }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler(t *testing.T) {
	flag := NewMaintenanceFlag(newSettings(), nil, MaintenanceConfig{}, zap.NewNop())
	r := gin.New()
	NewHandler(flag, zap.NewNop()).RegisterRoutes(r.Group("/admin"))

	tests := []struct {
		name   string
		method string
		body   string
		status int
		want   string
	}{
		{"initially off", http.MethodGet, "", http.StatusOK, `{"enabled":false}`},
		{"turn on", http.MethodPut, `{"enabled":true}`, http.StatusOK, `{"enabled":true}`},
		{"reads on", http.MethodGet, "", http.StatusOK, `{"enabled":true}`},
		{"missing field", http.MethodPut, `{}`, http.StatusBadRequest, ""},
		{"turn off", http.MethodPut, `{"enabled":false}`, http.StatusOK, `{"enabled":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/admin/maintenance", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.want != "" {
				assert.JSONEq(t, tt.want, w.Body.String())
			}
		})
	}
}
