package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
	"github.com/jackc/pgx/v5/pgtype"
)

// Guest cart expiry bounds, in hours.
const (
	MinGuestExpiryHours = 1
	MaxGuestExpiryHours = 168
)

// JanitorService expires abandoned guest carts.
type JanitorService interface {
	CleanupExpired(ctx context.Context, expiryHours int) (*domain.CleanupResult, error)
	GuestCartStatistics(ctx context.Context) (*domain.GuestCartStats, error)
}

type janitorService struct {
	store   repository.Querier
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewJanitorService creates a new JanitorService instance
func NewJanitorService(store repository.Querier, timeout time.Duration, logger *slog.Logger) JanitorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &janitorService{
		store:   store,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

type sweepTriggerKey struct{}

// ContextWithSweepTrigger labels sweeps run under ctx (e.g. "scheduled").
func ContextWithSweepTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, sweepTriggerKey{}, trigger)
}

func sweepTrigger(ctx context.Context) string {
	if t, ok := ctx.Value(sweepTriggerKey{}).(string); ok && t != "" {
		return t
	}
	return "manual"
}

// CleanupExpired deletes guest lines added before now - expiryHours. Rows
// younger than the cutoff are never touched, so the sweep is safe to run
// alongside cart traffic.
func (s *janitorService) CleanupExpired(ctx context.Context, expiryHours int) (*domain.CleanupResult, error) {
	const op = "janitor.CleanupExpired"

	if expiryHours < MinGuestExpiryHours || expiryHours > MaxGuestExpiryHours {
		return nil, domain.NewValidationError(op, "expiry_hours",
			fmt.Sprintf("must be between %d and %d", MinGuestExpiryHours, MaxGuestExpiryHours))
	}

	cutoff := s.now().Add(-time.Duration(expiryHours) * time.Hour).UTC()

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row, err := s.store.DeleteExpiredGuestCartLines(ctx, pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		return nil, storeErr(err, op, "Failed to clean up guest carts")
	}

	trigger := sweepTrigger(ctx)
	telemetry.Business.GuestCartSweeps.WithLabelValues(trigger).Inc()
	telemetry.Business.GuestCartLinesExpired.Add(float64(row.LinesDeleted))

	s.logger.Info("guest cart sweep complete",
		"trigger", trigger,
		"expiry_hours", expiryHours,
		"cutoff", cutoff,
		"guests_affected", row.GuestsAffected,
		"lines_deleted", row.LinesDeleted,
	)

	return &domain.CleanupResult{
		ExpiryHours:    expiryHours,
		Cutoff:         cutoff,
		GuestsAffected: row.GuestsAffected,
		LinesDeleted:   row.LinesDeleted,
	}, nil
}

// GuestCartStatistics is a read-only summary of guest carts.
func (s *janitorService) GuestCartStatistics(ctx context.Context) (*domain.GuestCartStats, error) {
	const op = "janitor.GuestCartStatistics"

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row, err := s.store.GetGuestCartStats(ctx)
	if err != nil {
		return nil, storeErr(err, op, "Failed to load guest cart statistics")
	}

	stats := &domain.GuestCartStats{
		DistinctGuests: row.DistinctGuests,
		TotalLines:     row.TotalLines,
		TotalQuantity:  row.TotalQuantity,
	}
	if row.DistinctGuests > 0 {
		stats.AverageLinesPerGuest = round2(float64(row.TotalLines) / float64(row.DistinctGuests))
		stats.AverageQuantityPerGuest = round2(float64(row.TotalQuantity) / float64(row.DistinctGuests))
	}
	if row.OldestAddedAt.Valid {
		t := row.OldestAddedAt.Time
		stats.OldestLineAt = &t
	}
	return stats, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
