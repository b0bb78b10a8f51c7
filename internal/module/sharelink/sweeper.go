package sharelink

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically deactivates expired links.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(service *Service, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.service.Sweep(ctx, now); err != nil {
				s.logger.Warn("share link sweep failed", zap.Error(err))
			}
		}
	}
}
