package badge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/module/realtime"
)

// Fetcher loads the authoritative counts.
type Fetcher interface {
	Fetch(ctx context.Context) (Counts, error)
}

type seenKey struct {
	msgType  string
	entityID string
	op       events.Op
}

type badgeHint struct {
	Notifications *int `json:"notifications"`
	Invitations   *int `json:"invitations"`
}

// Aggregator keeps badge counters current from realtime envelopes and
// periodic reconciliation. Envelopes are applied optimistically and
// at most once per (type, entity, op); envelopes stamped before the last
// reconcile are already reflected in the fetched counts and are ignored.
type Aggregator struct {
	fetcher Fetcher
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	counts   Counts
	seen     map[seenKey]struct{}
	horizon  time.Time
	onChange func(Counts)
}

// NewAggregator creates an aggregator backed by fetcher.
func NewAggregator(fetcher Fetcher, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
		seen:    make(map[seenKey]struct{}),
	}
}

// OnChange registers a callback invoked with the new counts after every
// change. It runs with the aggregator unlocked.
func (a *Aggregator) OnChange(fn func(Counts)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Counts returns the current counters.
func (a *Aggregator) Counts() Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts
}

// Apply folds one envelope into the counters and reports whether they
// changed.
func (a *Aggregator) Apply(env realtime.Envelope) bool {
	a.mu.Lock()
	before := a.counts
	a.applyLocked(env)
	after := a.counts
	notify := a.onChange
	a.mu.Unlock()

	if before == after {
		return false
	}
	if notify != nil {
		notify(after)
	}
	return true
}

func (a *Aggregator) applyLocked(env realtime.Envelope) {
	if !env.At.IsZero() && env.At.Before(a.horizon) {
		return
	}

	// Badge hints carry absolute values and are applied every time.
	if env.Type == realtime.TypeBadge {
		var hint badgeHint
		if err := json.Unmarshal(env.Payload, &hint); err != nil {
			a.logger.Warn("ignoring malformed badge hint", zap.Error(err))
			return
		}
		if hint.Notifications != nil {
			a.counts.Notifications = max(*hint.Notifications, 0)
		}
		if hint.Invitations != nil {
			a.counts.Invitations = max(*hint.Invitations, 0)
		}
		return
	}

	key := seenKey{msgType: env.Type, entityID: env.EntityID, op: env.Op}
	if _, ok := a.seen[key]; ok {
		return
	}

	switch {
	case env.Type == realtime.TypeNotification && env.Op == events.OpCreated:
		a.counts.Notifications++
	case env.Type == realtime.TypeInvitation && env.Op == events.OpCreated:
		a.counts.Invitations++
	case env.Type == realtime.TypeInvitation && env.Op == events.OpDeleted:
		a.counts.Invitations = max(a.counts.Invitations-1, 0)
	default:
		return
	}
	a.seen[key] = struct{}{}
}

// Reconcile replaces the counters with the authoritative ones.
func (a *Aggregator) Reconcile(ctx context.Context) error {
	started := a.now()
	counts, err := a.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}
	counts.Notifications = max(counts.Notifications, 0)
	counts.Invitations = max(counts.Invitations, 0)

	a.mu.Lock()
	changed := a.counts != counts
	a.counts = counts
	a.horizon = started
	a.seen = make(map[seenKey]struct{})
	notify := a.onChange
	a.mu.Unlock()

	if changed && notify != nil {
		notify(counts)
	}
	return nil
}

// Run reconciles immediately and then every interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.Reconcile(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("badge reconcile failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
