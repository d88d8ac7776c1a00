package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const jobColumns = `id, job_type, queue, status, payload, priority, retry_count, max_retries, timeout_seconds, scheduled_at, started_at, completed_at, worker_id, error_message, created_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var i Job
	err := row.Scan(
		&i.ID,
		&i.JobType,
		&i.Queue,
		&i.Status,
		&i.Payload,
		&i.Priority,
		&i.RetryCount,
		&i.MaxRetries,
		&i.TimeoutSeconds,
		&i.ScheduledAt,
		&i.StartedAt,
		&i.CompletedAt,
		&i.WorkerID,
		&i.ErrorMessage,
		&i.CreatedAt,
	)
	return i, err
}

const enqueueJob = `-- name: EnqueueJob :one
INSERT INTO jobs (job_type, queue, payload, priority, max_retries, scheduled_at, timeout_seconds)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + jobColumns

type EnqueueJobParams struct {
	JobType        string             `json:"job_type"`
	Queue          string             `json:"queue"`
	Payload        []byte             `json:"payload"`
	Priority       int32              `json:"priority"`
	MaxRetries     int32              `json:"max_retries"`
	ScheduledAt    pgtype.Timestamptz `json:"scheduled_at"`
	TimeoutSeconds int32              `json:"timeout_seconds"`
}

func (q *Queries) EnqueueJob(ctx context.Context, arg EnqueueJobParams) (Job, error) {
	row := q.db.QueryRow(ctx, enqueueJob,
		arg.JobType,
		arg.Queue,
		arg.Payload,
		arg.Priority,
		arg.MaxRetries,
		arg.ScheduledAt,
		arg.TimeoutSeconds,
	)
	return scanJob(row)
}

const claimNextJob = `-- name: ClaimNextJob :one
UPDATE jobs
SET status = 'processing', started_at = now(), worker_id = $1
WHERE id = (
    SELECT id FROM jobs
    WHERE status = 'pending'
      AND scheduled_at <= now()
      AND ($2::text = '' OR queue = $2::text)
    ORDER BY priority DESC, scheduled_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns

type ClaimNextJobParams struct {
	WorkerID pgtype.Text `json:"worker_id"`
	Queue    string      `json:"queue"`
}

// ClaimNextJob atomically marks the next runnable job as processing.
// Returns pgx.ErrNoRows when the queue is empty.
func (q *Queries) ClaimNextJob(ctx context.Context, arg ClaimNextJobParams) (Job, error) {
	return scanJob(q.db.QueryRow(ctx, claimNextJob, arg.WorkerID, arg.Queue))
}

const completeJob = `-- name: CompleteJob :exec
UPDATE jobs
SET status = 'completed', completed_at = now(), error_message = NULL
WHERE id = $1
`

func (q *Queries) CompleteJob(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, completeJob, id)
	return err
}

const failJob = `-- name: FailJob :one
UPDATE jobs
SET retry_count   = retry_count + 1,
    error_message = $2,
    status        = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
    scheduled_at  = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at
                         ELSE now() + make_interval(secs => $3::integer * power(2, retry_count)::integer) END,
    worker_id     = NULL
WHERE id = $1
RETURNING ` + jobColumns

type FailJobParams struct {
	ID                 pgtype.UUID `json:"id"`
	ErrorMessage       pgtype.Text `json:"error_message"`
	BackoffBaseSeconds int32       `json:"backoff_base_seconds"`
}

// FailJob records a failed attempt. The job is rescheduled with exponential
// backoff until max_retries is reached, then left in the failed state.
func (q *Queries) FailJob(ctx context.Context, arg FailJobParams) (Job, error) {
	return scanJob(q.db.QueryRow(ctx, failJob, arg.ID, arg.ErrorMessage, arg.BackoffBaseSeconds))
}

const countPendingJobsByType = `-- name: CountPendingJobsByType :one
SELECT count(*) FROM jobs WHERE job_type = $1 AND status IN ('pending', 'processing')
`

func (q *Queries) CountPendingJobsByType(ctx context.Context, jobType string) (int64, error) {
	row := q.db.QueryRow(ctx, countPendingJobsByType, jobType)
	var count int64
	err := row.Scan(&count)
	return count, err
}
