package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay shares envelopes between hub instances over a redis channel.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	logger  *zap.Logger

	mu  sync.Mutex
	sub *redis.PubSub
	wg  sync.WaitGroup
}

// NewRedisRelay creates a relay for hub. Call Start to subscribe.
func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, hub: hub, logger: logger}
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Start subscribes to the channel, waits for the subscription to be
// confirmed and installs the relay on the hub.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	r.hub.SetRelay(r)
	r.wg.Add(1)
	go r.consume(sub.Channel())
	return nil
}

// Close unsubscribes and waits for the consumer to exit.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub == nil {
		return nil
	}
	err := sub.Close()
	r.wg.Wait()
	return err
}

func (r *RedisRelay) consume(ch <-chan *redis.Message) {
	defer r.wg.Done()
	for msg := range ch {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.logger.Warn("discarding malformed relay message", zap.Error(err))
			continue
		}
		r.hub.DeliverRemote(env)
	}
}
