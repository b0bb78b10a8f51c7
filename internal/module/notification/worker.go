package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/taskhub/server/internal/shared/metrics"
	"go.uber.org/zap"
)

// Worker consumes email jobs from asynq.
type Worker struct {
	server  *asynq.Server
	sender  EmailSender
	from    string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// WorkerConfig holds worker settings.
type WorkerConfig struct {
	Queue       string
	Concurrency int
	From        string
}

// NewWorker creates a worker reading from the Redis at opt.
func NewWorker(opt asynq.RedisConnOpt, cfg WorkerConfig, sender EmailSender, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = "notifications"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	w := &Worker{
		sender:  sender,
		from:    cfg.From,
		metrics: m,
		logger:  logger,
	}
	if opt != nil {
		w.server = asynq.NewServer(opt, asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      map[string]int{cfg.Queue: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("email task failed", zap.String("type", task.Type()), zap.Error(err))
			}),
		})
	}
	return w
}

// Mux returns the task routes.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEmailDelivery, w.HandleEmail)
	return mux
}

// HandleEmail delivers one job. Malformed payloads are not retried.
func (w *Worker) HandleEmail(ctx context.Context, task *asynq.Task) error {
	var job EmailJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		w.metrics.RecordEmail("invalid")
		return fmt.Errorf("decode email job: %v: %w", err, asynq.SkipRetry)
	}
	if job.To == "" {
		w.metrics.RecordEmail("invalid")
		return fmt.Errorf("email job without recipient: %w", asynq.SkipRetry)
	}

	if err := w.sender.Send(ctx, w.from, job); err != nil {
		w.metrics.RecordEmail("failed")
		return fmt.Errorf("send email: %w", err)
	}
	w.metrics.RecordEmail("sent")
	return nil
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.server == nil {
		return fmt.Errorf("email worker: no redis connection configured")
	}
	if err := w.server.Start(w.Mux()); err != nil {
		return fmt.Errorf("start email worker: %w", err)
	}
	w.logger.Info("email worker started")
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
