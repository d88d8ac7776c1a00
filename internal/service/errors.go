package service

import (
	"context"
	"errors"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/repository"
)

// DefaultStoreTimeout bounds storage and catalog calls when none is configured.
const DefaultStoreTimeout = 5 * time.Second

// invoiceConstraint is the unique constraint on orders.invoice_no.
const invoiceConstraint = "orders_invoice_no_key"

func cartItemNotFound(op string) error {
	return domain.Errorf(domain.ENOTFOUND, op, "Cart item not found")
}

// withTimeout bounds a storage or catalog call.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, d)
}

// storeErr classifies a repository error. Domain errors pass through,
// transient failures become retryable infrastructure errors and anything
// else is internal.
func storeErr(err error, op, message string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) || domain.IsValidationError(err) {
		return err
	}
	if repository.IsTransient(err) {
		return domain.Infrastructure(err, op, "The cart service is temporarily unavailable. Please try again.")
	}
	return domain.Internal(err, op, message)
}

// catalogErr classifies a catalog failure. The catalog is a remote
// dependency, so any non-domain failure is treated as retryable.
func catalogErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Infrastructure(err, op, "The product catalog is temporarily unavailable. Please try again.")
}
