package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/cartkeeper/internal/jobs"
	"github.com/dukerupert/cartkeeper/internal/repository"
)

// JanitorScheduler enqueues a guest cart sweep on a fixed interval. The
// worker pool executes it, so any number of replicas may run a scheduler
// without sweeping twice.
type JanitorScheduler struct {
	queries     repository.Querier
	interval    time.Duration
	expiryHours int
	logger      *slog.Logger
}

// NewJanitorScheduler creates a scheduler that sweeps guest lines older
// than expiryHours every interval.
func NewJanitorScheduler(queries repository.Querier, interval time.Duration, expiryHours int, logger *slog.Logger) *JanitorScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JanitorScheduler{
		queries:     queries,
		interval:    interval,
		expiryHours: expiryHours,
		logger:      logger,
	}
}

// Run enqueues one sweep immediately and then one per tick until ctx is
// cancelled.
func (s *JanitorScheduler) Run(ctx context.Context) {
	s.logger.Info("janitor scheduler starting",
		"interval", s.interval,
		"expiry_hours", s.expiryHours,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("janitor scheduler stopped")
			return
		}
	}
}

func (s *JanitorScheduler) tick(ctx context.Context) {
	enqueued, err := jobs.EnqueueCleanupGuestCarts(ctx, s.queries, s.expiryHours)
	if err != nil {
		s.logger.Error("failed to schedule guest cart sweep", "error", err)
		return
	}
	if enqueued {
		s.logger.Debug("guest cart sweep scheduled")
	}
}
