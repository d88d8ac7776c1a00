// Package jobs defines the background job types, their payloads and the
// functions that enqueue and process them.
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

// Queues
const (
	QueueCart        = "cart"
	QueueMaintenance = "maintenance"
)

// Job type constants for cart jobs
const (
	JobTypeEmptyCart = "cart:empty"
)

// EmptyCartPayload identifies the ordered lines to clear after an order
// committed. Lines changed after AsOf are left alone.
type EmptyCartPayload struct {
	OwnerKind  string    `json:"owner_kind"`
	OwnerRef   string    `json:"owner_ref"`
	ProductIDs []int64   `json:"product_ids"`
	AsOf       time.Time `json:"as_of"`
	OrderID    int64     `json:"order_id"`
	InvoiceNo  string    `json:"invoice_no"`
}

// CartEmptier is the cart operation an empty job runs.
type CartEmptier interface {
	ClearOrdered(ctx context.Context, owner domain.CartOwner, lines domain.OrderedLines) (int64, error)
}

// EnqueueEmptyCart queues the compensating step for a checkout whose cart
// could not be cleared inline. Retried with backoff.
func EnqueueEmptyCart(ctx context.Context, q repository.Querier, owner domain.CartOwner, lines domain.OrderedLines, orderID int64, invoiceNo string) error {
	payloadJSON, err := json.Marshal(EmptyCartPayload{
		OwnerKind:  string(owner.Kind()),
		OwnerRef:   owner.Ref(),
		ProductIDs: lines.ProductIDs,
		AsOf:       lines.AsOf,
		OrderID:    orderID,
		InvoiceNo:  invoiceNo,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.EnqueueJob(ctx, repository.EnqueueJobParams{
		JobType:    JobTypeEmptyCart,
		Queue:      QueueCart,
		Payload:    payloadJSON,
		Priority:   50,
		MaxRetries: 5,
		ScheduledAt: pgtype.Timestamptz{
			Time:  time.Now(),
			Valid: true,
		},
		TimeoutSeconds: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue empty cart job: %w", err)
	}
	return nil
}

// ProcessEmptyCartJob clears the ordered lines named by the job payload.
// Lines already gone are skipped, so replays are harmless.
func ProcessEmptyCartJob(ctx context.Context, job *repository.Job, emptier CartEmptier) (int64, error) {
	if job.JobType != JobTypeEmptyCart {
		return 0, fmt.Errorf("unknown cart job type: %s", job.JobType)
	}
	var payload EmptyCartPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return 0, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	owner, err := domain.ParseOwner(payload.OwnerKind, payload.OwnerRef)
	if err != nil {
		return 0, fmt.Errorf("invalid owner in payload: %w", err)
	}
	if len(payload.ProductIDs) == 0 || payload.AsOf.IsZero() {
		return 0, fmt.Errorf("payload for order %d names no ordered lines", payload.OrderID)
	}
	return emptier.ClearOrdered(ctx, owner, domain.OrderedLines{
		ProductIDs: payload.ProductIDs,
		AsOf:       payload.AsOf,
	})
}

// IsCartJob checks if a job type is a cart job
func IsCartJob(jobType string) bool {
	return jobType == JobTypeEmptyCart
}
