package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/cartkeeper/internal/jobs"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/dukerupert/cartkeeper/internal/service"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often to check for new jobs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to process concurrently
	MaxConcurrency int

	// Queue name to process (empty string = all queues)
	Queue string

	// BackoffBaseSeconds is the first retry delay; each retry doubles it.
	BackoffBaseSeconds int32

	// ShutdownTimeout bounds the wait for in-flight jobs on shutdown.
	ShutdownTimeout time.Duration
}

// Worker processes background jobs
type Worker struct {
	config  Config
	queries repository.Querier
	emptier jobs.CartEmptier
	sweeper jobs.GuestCartSweeper
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewWorker creates a new background job worker
func NewWorker(
	queries repository.Querier,
	emptier jobs.CartEmptier,
	sweeper jobs.GuestCartSweeper,
	config Config,
	logger *slog.Logger,
) *Worker {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.BackoffBaseSeconds == 0 {
		config.BackoffBaseSeconds = 10
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config:  config,
		queries: queries,
		emptier: emptier,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Start begins processing jobs until the context is cancelled. In-flight
// jobs are given ShutdownTimeout to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"worker_id", w.config.WorkerID,
		"queue", w.config.Queue,
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)

	// Jobs keep running briefly after ctx is cancelled so they can record
	// their outcome.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down", "worker_id", w.config.WorkerID)
			w.drain(cancelJobs)
			return ctx.Err()

		case <-ticker.C:
			select {
			case sem <- struct{}{}:
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					defer func() { <-sem }()
					if _, err := w.RunOnce(jobCtx); err != nil {
						w.logger.Error("failed to claim job", "error", err)
					}
				}()
			default:
				// At max concurrency, skip this poll
			}
		}
	}
}

func (w *Worker) drain(cancelJobs context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("shutdown timeout reached, cancelling in-flight jobs")
		cancelJobs()
		<-done
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// claimed; a job that fails is recorded with FailJob and is not an error.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queries.ClaimNextJob(ctx, repository.ClaimNextJobParams{
		WorkerID: pgtype.Text{String: w.config.WorkerID, Valid: true},
		Queue:    w.config.Queue,
	})
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	w.logger.Info("processing job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"retry_count", job.RetryCount,
	)

	start := time.Now()
	err = w.processJob(ctx, &job)
	telemetry.Business.JobDuration.WithLabelValues(job.JobType).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.Business.JobsFailed.WithLabelValues(job.JobType).Inc()
		w.logger.Error("job failed",
			"job_id", job.ID,
			"job_type", job.JobType,
			"retry_count", job.RetryCount,
			"error", err,
		)
		// Mark job as failed (will retry or mark as failed based on retry count)
		failed, ferr := w.queries.FailJob(ctx, repository.FailJobParams{
			ID:                 job.ID,
			ErrorMessage:       pgtype.Text{String: err.Error(), Valid: true},
			BackoffBaseSeconds: w.config.BackoffBaseSeconds,
		})
		if ferr != nil {
			return true, fmt.Errorf("failed to record job failure: %w", ferr)
		}
		if failed.Status == "failed" {
			w.logger.Error("job exhausted retries",
				"job_id", job.ID,
				"job_type", job.JobType,
			)
			telemetry.CaptureError(ctx, err, map[string]interface{}{
				"job_id":   uuid.UUID(job.ID.Bytes).String(),
				"job_type": job.JobType,
			})
		}
		return true, nil
	}

	w.logger.Info("job completed",
		"job_id", job.ID,
		"job_type", job.JobType,
	)
	telemetry.Business.JobsProcessed.WithLabelValues(job.JobType).Inc()

	if err := w.queries.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("failed to complete job: %w", err)
	}
	return true, nil
}

// processJob processes a single job
func (w *Worker) processJob(ctx context.Context, job *repository.Job) error {
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch {
	case jobs.IsCartJob(job.JobType):
		if w.emptier == nil {
			return errors.New("no cart emptier configured")
		}
		n, err := jobs.ProcessEmptyCartJob(jobCtx, job, w.emptier)
		if err != nil {
			return err
		}
		w.logger.Info("deferred cart emptied", "job_id", job.ID, "lines_removed", n)
		return nil

	case jobs.IsCleanupJob(job.JobType):
		if w.sweeper == nil {
			return errors.New("no guest cart sweeper configured")
		}
		_, err := jobs.ProcessCleanupJob(service.ContextWithSweepTrigger(jobCtx, "scheduled"), job, w.sweeper)
		return err
	}

	return fmt.Errorf("unknown job type: %s", job.JobType)
}
