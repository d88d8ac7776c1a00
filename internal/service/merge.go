package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
)

// MergeService moves a guest cart into a customer's cart at login.
type MergeService interface {
	TransferGuestToCustomer(ctx context.Context, guestAddress string, customerID int64) (*domain.MergeResult, error)
}

type mergeService struct {
	store   repository.Store
	catalog domain.Catalog
	timeout time.Duration
	logger  *slog.Logger
}

// NewMergeService creates a new MergeService instance
func NewMergeService(store repository.Store, catalog domain.Catalog, timeout time.Duration, logger *slog.Logger) MergeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &mergeService{
		store:   store,
		catalog: catalog,
		timeout: timeout,
		logger:  logger,
	}
}

// TransferGuestToCustomer merges every guest line into the customer's cart.
// Each line moves in its own transaction; a failing line is recorded in
// the result and the remaining lines still move.
func (s *mergeService) TransferGuestToCustomer(ctx context.Context, guestAddress string, customerID int64) (*domain.MergeResult, error) {
	const op = "cart.TransferGuestToCustomer"

	if customerID <= 0 {
		return nil, domain.AuthenticationRequired(op, "Please log in to merge your cart")
	}
	customer, err := domain.CustomerOwner(customerID)
	if err != nil {
		return nil, domain.AuthenticationRequired(op, "Please log in to merge your cart")
	}
	guest, err := domain.GuestOwner(guestAddress)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	lines, err := s.store.ListCartLinesByOwner(ctx, repository.ListCartLinesByOwnerParams{
		OwnerKind: string(guest.Kind()),
		OwnerRef:  guest.Ref(),
	})
	if err != nil {
		return nil, storeErr(err, op, "Failed to load guest cart")
	}

	result := &domain.MergeResult{Errors: []domain.MergeError{}}
	if len(lines) == 0 {
		telemetry.Business.CartMerges.WithLabelValues("empty").Inc()
		return result, nil
	}

	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return nil, catalogErr(err, op)
	}

	for _, line := range lines {
		if _, ok := products[line.ProductID]; !ok {
			s.dropOrphan(ctx, op, guest, line, result)
			continue
		}

		inserted, err := s.mergeLine(ctx, guest, customer, line)
		if err != nil {
			err = storeErr(err, op, "Failed to merge cart item")
			telemetry.Business.CartMergeLines.WithLabelValues("error").Inc()
			result.Errors = append(result.Errors, domain.MergeError{
				ProductID: line.ProductID,
				ErrorType: domain.ErrorType(err),
				Message:   domain.ErrorMessage(err),
			})
			s.logger.Warn("cart merge line failed",
				"product_id", line.ProductID,
				"customer_id", customerID,
				"error", err,
			)
			continue
		}
		if inserted {
			result.TransferredItems++
			telemetry.Business.CartMergeLines.WithLabelValues("transferred").Inc()
		} else {
			result.MergedItems++
			telemetry.Business.CartMergeLines.WithLabelValues("merged").Inc()
		}
	}

	outcome := "ok"
	if len(result.Errors) > 0 {
		outcome = "partial"
	}
	telemetry.Business.CartMerges.WithLabelValues(outcome).Inc()

	s.logger.Info("guest cart merged",
		"customer_id", customerID,
		"transferred", result.TransferredItems,
		"merged", result.MergedItems,
		"errors", len(result.Errors),
	)
	return result, nil
}

// mergeLine adds the guest quantity to the customer's line (capped) and
// deletes the guest line atomically. inserted reports a plain transfer.
func (s *mergeService) mergeLine(ctx context.Context, guest, customer domain.CartOwner, line repository.CartLine) (bool, error) {
	var inserted bool
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		row, err := q.MergeCartLine(ctx, repository.MergeCartLineParams{
			OwnerKind:   string(customer.Kind()),
			OwnerRef:    customer.Ref(),
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			AddedAt:     line.AddedAt,
			MaxQuantity: domain.MaxQuantity,
		})
		if err != nil {
			return err
		}
		inserted = row.Inserted

		_, err = q.DeleteCartLine(ctx, repository.DeleteCartLineParams{
			OwnerKind: string(guest.Kind()),
			OwnerRef:  guest.Ref(),
			ProductID: line.ProductID,
		})
		return err
	})
	return inserted, err
}

func (s *mergeService) dropOrphan(ctx context.Context, op string, guest domain.CartOwner, line repository.CartLine, result *domain.MergeResult) {
	orphan := domain.OrphanedProduct(op, line.ProductID)
	if _, err := s.store.DeleteCartLine(ctx, repository.DeleteCartLineParams{
		OwnerKind: string(guest.Kind()),
		OwnerRef:  guest.Ref(),
		ProductID: line.ProductID,
	}); err != nil {
		s.logger.Warn("failed to delete orphaned guest cart line",
			"product_id", line.ProductID,
			"error", err,
		)
	} else {
		telemetry.Business.CartSelfHealed.WithLabelValues("merge").Inc()
	}
	telemetry.Business.CartMergeLines.WithLabelValues("error").Inc()
	result.Errors = append(result.Errors, domain.MergeError{
		ProductID: line.ProductID,
		ErrorType: domain.ErrorType(orphan),
		Message:   domain.ErrorMessage(orphan),
	})
}
