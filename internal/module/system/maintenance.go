// Package system holds process-wide operational switches.
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskhub/server/internal/store"
)

// SettingMaintenance is the settings key of the maintenance flag.
const SettingMaintenance = "maintenance_mode"

// MaintenanceConfig holds cache settings.
type MaintenanceConfig struct {
	TTL               time.Duration
	InvalidateChannel string
	KeyPrefix         string
}

// MaintenanceFlag reads the maintenance setting through a per-process
// cache with TTL, backed by redis when a client is given. Writes go to
// the store and invalidate every instance's cache.
type MaintenanceFlag struct {
	settings store.SettingRepository
	redis    redis.UniversalClient
	cfg      MaintenanceConfig
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	value    bool
	loadedAt time.Time
	loaded   bool
	// gen moves on every Set and Invalidate. A load that started under an
	// older gen must not be cached.
	gen uint64

	sub *redis.PubSub
	wg  sync.WaitGroup
}

// NewMaintenanceFlag creates the flag. client may be nil.
func NewMaintenanceFlag(settings store.SettingRepository, client redis.UniversalClient, cfg MaintenanceConfig, logger *zap.Logger) *MaintenanceFlag {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.InvalidateChannel == "" {
		cfg.InvalidateChannel = "taskhub:settings"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "taskhub:setting:"
	}
	return &MaintenanceFlag{
		settings: settings,
		redis:    client,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled reports whether maintenance mode is on. Load failures keep the
// last known value; a flag never loaded reads as off.
func (f *MaintenanceFlag) Enabled(ctx context.Context) bool {
	f.mu.Lock()
	if f.loaded && f.now().Sub(f.loadedAt) < f.cfg.TTL {
		value := f.value
		f.mu.Unlock()
		return value
	}
	last := f.value
	gen := f.gen
	f.mu.Unlock()

	value, err := f.load(ctx, gen)
	if err != nil {
		f.logger.Warn("failed to load maintenance flag", zap.Error(err))
		return last
	}

	f.mu.Lock()
	if f.gen == gen {
		f.value = value
		f.loadedAt = f.now()
		f.loaded = true
	}
	f.mu.Unlock()
	return value
}

func (f *MaintenanceFlag) current(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen == gen
}

// Set persists the flag and invalidates every cache.
func (f *MaintenanceFlag) Set(ctx context.Context, enabled bool) error {
	if err := f.settings.Put(ctx, SettingMaintenance, encodeBool(enabled)); err != nil {
		return fmt.Errorf("store maintenance flag: %w", err)
	}

	f.mu.Lock()
	f.gen++
	f.value = enabled
	f.loadedAt = f.now()
	f.loaded = true
	f.mu.Unlock()

	if f.redis == nil {
		return nil
	}
	if err := f.redis.Del(ctx, f.key()).Err(); err != nil {
		f.logger.Warn("failed to drop cached maintenance flag", zap.Error(err))
	}
	if err := f.redis.Publish(ctx, f.cfg.InvalidateChannel, SettingMaintenance).Err(); err != nil {
		f.logger.Warn("failed to publish maintenance invalidation", zap.Error(err))
	}
	return nil
}

// Invalidate drops the local cache.
func (f *MaintenanceFlag) Invalidate() {
	f.mu.Lock()
	f.gen++
	f.loaded = false
	f.mu.Unlock()
}

// Start subscribes to invalidations from peer instances. It is a no-op
// without redis.
func (f *MaintenanceFlag) Start(ctx context.Context) error {
	if f.redis == nil {
		return nil
	}
	sub := f.redis.Subscribe(ctx, f.cfg.InvalidateChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", f.cfg.InvalidateChannel, err)
	}
	f.sub = sub

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for msg := range sub.Channel() {
			if msg.Payload == SettingMaintenance {
				f.Invalidate()
			}
		}
	}()
	return nil
}

// Close stops the invalidation subscriber.
func (f *MaintenanceFlag) Close() error {
	if f.sub == nil {
		return nil
	}
	err := f.sub.Close()
	f.wg.Wait()
	f.sub = nil
	return err
}

func (f *MaintenanceFlag) load(ctx context.Context, gen uint64) (bool, error) {
	if f.redis != nil {
		raw, err := f.redis.Get(ctx, f.key()).Result()
		switch {
		case err == nil:
			return decodeBool(raw), nil
		case !errors.Is(err, redis.Nil):
			f.logger.Warn("maintenance flag cache read failed", zap.Error(err))
		}
	}

	value := false
	setting, err := f.settings.Get(ctx, SettingMaintenance)
	switch {
	case err == nil:
		value = decodeBool(setting.Value)
	case errors.Is(err, store.ErrNotFound):
	default:
		return false, err
	}

	if f.redis != nil && f.current(gen) {
		if err := f.redis.Set(ctx, f.key(), encodeBool(value), f.cfg.TTL).Err(); err != nil {
			f.logger.Warn("maintenance flag cache write failed", zap.Error(err))
		}
	}
	return value, nil
}

func (f *MaintenanceFlag) key() string {
	return f.cfg.KeyPrefix + SettingMaintenance
}

func encodeBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func decodeBool(s string) bool {
	return s == "1" || s == "true"
}
