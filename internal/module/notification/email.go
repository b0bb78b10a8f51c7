package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sony/gobreaker/v2"
	"github.com/taskhub/server/internal/model"
	"go.uber.org/zap"
)

// TypeEmailDelivery is the asynq task type for notification email.
const TypeEmailDelivery = "notification:email"

// EmailJob is one outbound message.
type EmailJob struct {
	To        string                 `json:"to"`
	Subject   string                 `json:"subject"`
	Body      string                 `json:"body"`
	Kind      model.NotificationType `json:"kind"`
	DedupeKey string                 `json:"dedupe_key"`
}

// TaskID is stable per (event, address), so a replay is rejected by the queue.
func (j EmailJob) TaskID() string {
	return j.DedupeKey + ":" + model.NormalizeEmail(j.To)
}

// EmailQueue hands email jobs to a background worker.
type EmailQueue interface {
	Enqueue(ctx context.Context, job EmailJob) error
	Close() error
}

// NoopQueue drops every job.
type NoopQueue struct{}

// Enqueue does nothing.
func (NoopQueue) Enqueue(ctx context.Context, job EmailJob) error { return nil }

// Close does nothing.
func (NoopQueue) Close() error { return nil }

// AsynqQueue enqueues email jobs into Redis through asynq.
type AsynqQueue struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

// NewAsynqQueue creates a queue backed by the Redis at opt.
func NewAsynqQueue(opt asynq.RedisConnOpt, queue string, maxRetry int) *AsynqQueue {
	if queue == "" {
		queue = "notifications"
	}
	return &AsynqQueue{
		client:   asynq.NewClient(opt),
		queue:    queue,
		maxRetry: maxRetry,
	}
}

// Enqueue submits job. A job already queued for the same event and
// address is treated as success.
func (q *AsynqQueue) Enqueue(ctx context.Context, job EmailJob) error {
	if job.To == "" {
		return errors.New("email job: recipient is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}

	opts := []asynq.Option{asynq.Queue(q.queue), asynq.TaskID(job.TaskID())}
	if q.maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(q.maxRetry))
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TypeEmailDelivery, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Close closes the underlying client.
func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// EmailSender delivers one message.
type EmailSender interface {
	Send(ctx context.Context, from string, job EmailJob) error
}

// LogSender writes messages to the log instead of a mail relay.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, from string, job EmailJob) error {
	s.logger.Info("email",
		zap.String("from", from),
		zap.String("to", job.To),
		zap.String("subject", job.Subject),
		zap.String("kind", string(job.Kind)),
	)
	return nil
}

// BreakerSender stops calling a failing sender until it recovers.
type BreakerSender struct {
	next    EmailSender
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerSender wraps next with a circuit breaker that opens after five
// consecutive failures and retries once timeout has passed.
func NewBreakerSender(next EmailSender, timeout time.Duration, logger *zap.Logger) *BreakerSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "email",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("email breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerSender{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Send delivers job through the breaker.
func (s *BreakerSender) Send(ctx context.Context, from string, job EmailJob) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.next.Send(ctx, from, job)
	})
	return err
}

// Open reports whether the breaker is rejecting calls.
func (s *BreakerSender) Open() bool {
	return s.breaker.State() == gobreaker.StateOpen
}
