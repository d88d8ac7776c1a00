package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/repository"
)

// Job type constants for cleanup jobs
const (
	JobTypeCleanupGuestCarts = "cleanup:guest_carts"
)

// CleanupGuestCartsPayload represents the payload for a guest cart sweep.
type CleanupGuestCartsPayload struct {
	ExpiryHours int `json:"expiry_hours"`
}

// GuestCartSweeper is the janitor operation a cleanup job runs.
type GuestCartSweeper interface {
	CleanupExpired(ctx context.Context, expiryHours int) (*domain.CleanupResult, error)
}

// EnqueueCleanupGuestCarts enqueues a guest cart sweep. It is called on the
// janitor ticker; a sweep already waiting in the queue is not duplicated.
func EnqueueCleanupGuestCarts(ctx context.Context, q repository.Querier, expiryHours int) (bool, error) {
	pending, err := q.CountPendingJobsByType(ctx, JobTypeCleanupGuestCarts)
	if err != nil {
		return false, fmt.Errorf("failed to count pending cleanup jobs: %w", err)
	}
	if pending > 0 {
		return false, nil
	}

	payloadJSON, err := json.Marshal(CleanupGuestCartsPayload{ExpiryHours: expiryHours})
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.EnqueueJob(ctx, repository.EnqueueJobParams{
		JobType:    JobTypeCleanupGuestCarts,
		Queue:      QueueMaintenance,
		Payload:    payloadJSON,
		Priority:   10, // Low priority - maintenance task
		MaxRetries: 1,  // Don't retry on failure, will run again next tick
		ScheduledAt: pgtype.Timestamptz{
			Time:  time.Now(),
			Valid: true,
		},
		TimeoutSeconds: 60,
	})
	if err != nil {
		return false, fmt.Errorf("failed to enqueue cleanup job: %w", err)
	}
	return true, nil
}

// ProcessCleanupJob runs a guest cart sweep job.
func ProcessCleanupJob(ctx context.Context, job *repository.Job, sweeper GuestCartSweeper) (*domain.CleanupResult, error) {
	switch job.JobType {
	case JobTypeCleanupGuestCarts:
		var payload CleanupGuestCartsPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return sweeper.CleanupExpired(ctx, payload.ExpiryHours)
	default:
		return nil, fmt.Errorf("unknown cleanup job type: %s", job.JobType)
	}
}

// IsCleanupJob checks if a job type is a cleanup job
func IsCleanupJob(jobType string) bool {
	switch jobType {
	case JobTypeCleanupGuestCarts:
		return true
	}
	return false
}
