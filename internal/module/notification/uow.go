package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/shared/metrics"
	"github.com/taskhub/server/internal/store"
	"go.uber.org/zap"
)

// Realtime message types pushed to a user's room.
const (
	MsgNotification = "notification"
	MsgBadge        = "badge"
)

// Pusher delivers a realtime message to every session of one user.
type Pusher interface {
	PushUser(userID uuid.UUID, msgType, entityID string, op events.Op, payload any)
}

// Emit records an event for dispatch in the surrounding transaction.
type Emit func(event events.Event)

// UnitOfWork runs a mutation, writes the notifications its events produce
// in the same transaction, and delivers side effects only after commit.
type UnitOfWork struct {
	store      store.Store
	dispatcher *Dispatcher
	bus        *events.Bus
	pusher     Pusher
	emails     EmailQueue
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewUnitOfWork creates a unit of work. pusher and emails may be nil.
func NewUnitOfWork(st store.Store, dispatcher *Dispatcher, bus *events.Bus, pusher Pusher, emails EmailQueue, m *metrics.Metrics, logger *zap.Logger) *UnitOfWork {
	if emails == nil {
		emails = NoopQueue{}
	}
	return &UnitOfWork{
		store:      st,
		dispatcher: dispatcher,
		bus:        bus,
		pusher:     pusher,
		emails:     emails,
		metrics:    m,
		logger:     logger,
	}
}

// Store returns the underlying store.
func (u *UnitOfWork) Store() store.Store { return u.store }

// Run executes fn in a transaction. A serialization conflict is retried
// once and then reported as ErrConcurrencyConflict.
func (u *UnitOfWork) Run(ctx context.Context, fn func(tx store.Repos, emit Emit) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		var (
			emitted []events.Event
			results []*Result
		)
		err := u.store.Transaction(ctx, func(tx store.Repos) error {
			emitted, results = nil, nil
			if err := fn(tx, func(e events.Event) { emitted = append(emitted, e) }); err != nil {
				return err
			}
			for _, e := range emitted {
				r, err := u.dispatcher.Dispatch(ctx, tx, e)
				if err != nil {
					return err
				}
				results = append(results, r)
			}
			return nil
		})
		if err == nil {
			u.afterCommit(context.WithoutCancel(ctx), emitted, results)
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		u.logger.Debug("transaction conflict", zap.Int("attempt", attempt+1))
	}
	return apperrors.ErrConcurrencyConflict
}

func (u *UnitOfWork) afterCommit(ctx context.Context, emitted []events.Event, results []*Result) {
	if u.bus != nil {
		u.bus.PublishAll(ctx, emitted)
	}
	for _, r := range results {
		for _, n := range r.Notifications {
			u.metrics.RecordNotification(string(n.Type))
			u.push(n)
		}
		for _, job := range r.Emails {
			if err := u.emails.Enqueue(ctx, job); err != nil {
				u.metrics.RecordEmail("enqueue_failed")
				u.logger.Warn("failed to enqueue email",
					zap.String("kind", string(job.Kind)),
					zap.Error(err),
				)
				continue
			}
			u.metrics.RecordEmail("queued")
		}
	}
}

func (u *UnitOfWork) push(n *model.Notification) {
	if u.pusher == nil {
		return
	}
	u.pusher.PushUser(n.UserID, MsgNotification, n.ID.String(), events.OpCreated, n)
}
