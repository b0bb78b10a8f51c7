package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Bus fans committed events out to handlers. Delivery is synchronous and
// follows registration order. One handler failing, or panicking, does not
// keep the rest from running.
type Bus struct {
	mu     sync.RWMutex
	routes map[string][]Handler
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{routes: make(map[string][]Handler), logger: logger}
}

// Register routes every type h handles to h.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range h.Handles() {
		b.routes[t] = append(b.routes[t], h)
	}
}

// Publish delivers one event.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := b.routes[event.EventType()]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := b.deliver(ctx, h, event); err != nil {
			b.logger.Error("event handler failed",
				zap.String("event_type", event.EventType()),
				zap.String("event_id", event.EventID().String()),
				zap.Error(err),
			)
		}
	}
}

// PublishAll delivers events in the order they were emitted.
func (b *Bus) PublishAll(ctx context.Context, events []Event) {
	for _, e := range events {
		b.Publish(ctx, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, event)
}
