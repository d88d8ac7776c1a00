package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
	"github.com/jackc/pgx/v5/pgtype"
)

// CartService provides business logic for shopping cart operations
type CartService interface {
	AddItem(ctx context.Context, owner domain.CartOwner, productID int64, quantity int) (*domain.CartLine, domain.CartAction, error)
	UpdateQuantity(ctx context.Context, owner domain.CartOwner, productID int64, quantity int) (*domain.CartLine, bool, error)
	RemoveItem(ctx context.Context, owner domain.CartOwner, productID int64) error
	Empty(ctx context.Context, owner domain.CartOwner) (int64, error)
	ClearOrdered(ctx context.Context, owner domain.CartOwner, lines domain.OrderedLines) (int64, error)
	List(ctx context.Context, owner domain.CartOwner, selfHeal bool) (*domain.CartView, error)
	ValidateItemIntegrity(ctx context.Context, productID int64, owner domain.CartOwner) error
	Snapshot(ctx context.Context, owner domain.CartOwner) (*domain.ValidatedCartSnapshot, error)
	Summary(ctx context.Context, owner domain.CartOwner) (*domain.CartSummary, error)
}

type cartService struct {
	store   repository.Store
	catalog domain.Catalog
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewCartService creates a new CartService instance
func NewCartService(store repository.Store, catalog domain.Catalog, timeout time.Duration, logger *slog.Logger) CartService {
	if logger == nil {
		logger = slog.Default()
	}
	return &cartService{
		store:   store,
		catalog: catalog,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

func validateOwner(op string, owner domain.CartOwner) error {
	if owner.IsZero() {
		return domain.Invalid(op, "Cart owner is required")
	}
	return nil
}

func validateProductID(op string, productID int64) error {
	if productID <= 0 {
		return domain.NewValidationError(op, "product_id", "must be a positive integer")
	}
	return nil
}

// AddItem adds quantity to the owner's line for productID, creating the line
// if needed. The stored quantity never exceeds domain.MaxQuantity.
func (s *cartService) AddItem(ctx context.Context, owner domain.CartOwner, productID int64, quantity int) (*domain.CartLine, domain.CartAction, error) {
	const op = "cart.AddItem"

	if err := validateOwner(op, owner); err != nil {
		return nil, "", err
	}
	if err := validateProductID(op, productID); err != nil {
		return nil, "", err
	}
	if quantity < domain.MinQuantity || quantity > domain.MaxQuantity {
		return nil, "", domain.InvalidQuantity(op, quantity, domain.MinQuantity, domain.MaxQuantity)
	}

	if err := s.ValidateItemIntegrity(ctx, productID, owner); err != nil {
		return nil, "", err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row, err := s.store.UpsertCartLine(ctx, repository.UpsertCartLineParams{
		OwnerKind:   string(owner.Kind()),
		OwnerRef:    owner.Ref(),
		ProductID:   productID,
		Quantity:    int32(quantity),
		MaxQuantity: domain.MaxQuantity,
	})
	if err != nil {
		return nil, "", storeErr(err, op, "Failed to add item to cart")
	}

	action := domain.ActionUpdated
	if row.Inserted {
		action = domain.ActionCreated
	}
	telemetry.Business.CartItemsAdded.WithLabelValues(string(owner.Kind()), string(action)).Inc()

	line := &domain.CartLine{
		Owner:     owner,
		ProductID: row.ProductID,
		Quantity:  int(row.Quantity),
		AddedAt:   row.AddedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
	return line, action, nil
}

// UpdateQuantity sets the line quantity. Zero removes the line and reports
// removed=true with a nil line.
func (s *cartService) UpdateQuantity(ctx context.Context, owner domain.CartOwner, productID int64, quantity int) (*domain.CartLine, bool, error) {
	const op = "cart.UpdateQuantity"

	if err := validateOwner(op, owner); err != nil {
		return nil, false, err
	}
	if err := validateProductID(op, productID); err != nil {
		return nil, false, err
	}
	if quantity < 0 || quantity > domain.MaxQuantity {
		return nil, false, domain.InvalidQuantity(op, quantity, 0, domain.MaxQuantity)
	}

	if err := s.ValidateItemIntegrity(ctx, productID, owner); err != nil {
		return nil, false, err
	}

	if quantity == 0 {
		if err := s.remove(ctx, op, owner, productID, "zero_quantity"); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row, err := s.store.UpdateCartLineQuantity(ctx, repository.UpdateCartLineQuantityParams{
		OwnerKind: string(owner.Kind()),
		OwnerRef:  owner.Ref(),
		ProductID: productID,
		Quantity:  int32(quantity),
	})
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, false, cartItemNotFound(op)
		}
		return nil, false, storeErr(err, op, "Failed to update cart item")
	}
	telemetry.Business.CartItemsUpdated.WithLabelValues(string(owner.Kind())).Inc()

	return toCartLine(owner, row), false, nil
}

// RemoveItem deletes the owner's line for productID.
func (s *cartService) RemoveItem(ctx context.Context, owner domain.CartOwner, productID int64) error {
	const op = "cart.RemoveItem"

	if err := validateOwner(op, owner); err != nil {
		return err
	}
	if err := validateProductID(op, productID); err != nil {
		return err
	}
	return s.remove(ctx, op, owner, productID, "user")
}

func (s *cartService) remove(ctx context.Context, op string, owner domain.CartOwner, productID int64, reason string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.store.DeleteCartLine(ctx, repository.DeleteCartLineParams{
		OwnerKind: string(owner.Kind()),
		OwnerRef:  owner.Ref(),
		ProductID: productID,
	})
	if err != nil {
		return storeErr(err, op, "Failed to remove cart item")
	}
	if n == 0 {
		return cartItemNotFound(op)
	}
	telemetry.Business.CartItemsRemoved.WithLabelValues(string(owner.Kind()), reason).Inc()
	return nil
}

// Empty deletes every line the owner holds and returns how many were removed.
func (s *cartService) Empty(ctx context.Context, owner domain.CartOwner) (int64, error) {
	const op = "cart.Empty"

	if err := validateOwner(op, owner); err != nil {
		return 0, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.store.DeleteCartLinesByOwner(ctx, repository.DeleteCartLinesByOwnerParams{
		OwnerKind: string(owner.Kind()),
		OwnerRef:  owner.Ref(),
	})
	if err != nil {
		return 0, storeErr(err, op, "Failed to empty cart")
	}
	if n > 0 {
		telemetry.Business.CartEmptied.WithLabelValues(string(owner.Kind())).Inc()
	}
	return n, nil
}

// ClearOrdered deletes the lines an order consumed. Lines added or changed
// after the order's snapshot stay in the cart. Clearing twice is harmless.
func (s *cartService) ClearOrdered(ctx context.Context, owner domain.CartOwner, lines domain.OrderedLines) (int64, error) {
	const op = "cart.ClearOrdered"

	if err := validateOwner(op, owner); err != nil {
		return 0, err
	}
	if lines.IsZero() {
		return 0, nil
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.store.DeleteCartLinesForOrder(ctx, repository.DeleteCartLinesForOrderParams{
		OwnerKind:  string(owner.Kind()),
		OwnerRef:   owner.Ref(),
		ProductIDs: lines.ProductIDs,
		AsOf:       pgtype.Timestamptz{Time: lines.AsOf, Valid: true},
	})
	if err != nil {
		return 0, storeErr(err, op, "Failed to clear ordered cart items")
	}
	if n > 0 {
		telemetry.Business.CartEmptied.WithLabelValues(string(owner.Kind())).Inc()
	}
	return n, nil
}

// List returns the owner's lines priced at current catalog values. With
// selfHeal, lines for vanished products are deleted and counted in
// RemovedItems. Without it they are left in storage but still excluded,
// since they cannot be priced.
func (s *cartService) List(ctx context.Context, owner domain.CartOwner, selfHeal bool) (*domain.CartView, error) {
	const op = "cart.List"

	if err := validateOwner(op, owner); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.store.ListCartLinesByOwner(ctx, repository.ListCartLinesByOwnerParams{
		OwnerKind: string(owner.Kind()),
		OwnerRef:  owner.Ref(),
	})
	if err != nil {
		return nil, storeErr(err, op, "Failed to load cart")
	}
	if len(rows) == 0 {
		return domain.NewCartView(owner, nil, 0), nil
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ProductID
	}
	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return nil, catalogErr(err, op)
	}

	items := make([]domain.CartItem, 0, len(rows))
	removed := 0
	for _, r := range rows {
		p, ok := products[r.ProductID]
		if !ok {
			if selfHeal {
				if err := s.heal(ctx, op, owner, r.ProductID); err != nil {
					return nil, err
				}
				removed++
			}
			continue
		}
		qty := int(r.Quantity)
		items = append(items, domain.CartItem{
			ProductID:      r.ProductID,
			Title:          p.Title,
			Quantity:       qty,
			PriceCents:     p.PriceCents,
			LineTotalCents: p.PriceCents * int64(qty),
			AddedAt:        r.AddedAt.Time,
			UpdatedAt:      r.UpdatedAt.Time,
		})
	}

	view := domain.NewCartView(owner, items, removed)
	telemetry.Business.CartValue.WithLabelValues(string(owner.Kind())).Observe(float64(view.TotalAmountCents))
	return view, nil
}

func (s *cartService) heal(ctx context.Context, op string, owner domain.CartOwner, productID int64) error {
	if _, err := s.store.DeleteCartLine(ctx, repository.DeleteCartLineParams{
		OwnerKind: string(owner.Kind()),
		OwnerRef:  owner.Ref(),
		ProductID: productID,
	}); err != nil {
		return storeErr(err, op, "Failed to remove unavailable cart item")
	}
	telemetry.Business.CartSelfHealed.WithLabelValues("list").Inc()
	s.logger.Info("removed cart line for unavailable product",
		"owner_kind", owner.Kind(),
		"product_id", productID,
	)
	return nil
}

// ValidateItemIntegrity checks that productID is still in the catalog. If it
// is gone and the owner holds a line for it, the line is deleted and an
// orphaned_product error returned.
func (s *cartService) ValidateItemIntegrity(ctx context.Context, productID int64, owner domain.CartOwner) error {
	const op = "cart.ValidateItemIntegrity"

	if err := validateProductID(op, productID); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.catalog.Exists(ctx, productID)
	if err != nil {
		return catalogErr(err, op)
	}
	if exists {
		return nil
	}
	if owner.IsZero() {
		return domain.ProductNotAvailable(op, productID)
	}

	n, err := s.store.DeleteCartLine(ctx, repository.DeleteCartLineParams{
		OwnerKind: string(owner.Kind()),
		OwnerRef:  owner.Ref(),
		ProductID: productID,
	})
	if err != nil {
		return storeErr(err, op, "Failed to remove unavailable cart item")
	}
	if n == 0 {
		return domain.ProductNotAvailable(op, productID)
	}
	telemetry.Business.CartSelfHealed.WithLabelValues("integrity").Inc()
	return domain.OrphanedProduct(op, productID)
}

// Snapshot is the self-healing read handed to checkout.
func (s *cartService) Snapshot(ctx context.Context, owner domain.CartOwner) (*domain.ValidatedCartSnapshot, error) {
	view, err := s.List(ctx, owner, true)
	if err != nil {
		return nil, err
	}
	return &domain.ValidatedCartSnapshot{
		Owner:         owner,
		Items:         view.Items,
		RemovedItems:  view.RemovedItems,
		TotalItems:    view.TotalItems,
		SubtotalCents: view.TotalAmountCents,
		TakenAt:       s.now(),
	}, nil
}

// Summary returns the item count and subtotal, healing as List does.
func (s *cartService) Summary(ctx context.Context, owner domain.CartOwner) (*domain.CartSummary, error) {
	view, err := s.List(ctx, owner, true)
	if err != nil {
		return nil, err
	}
	return &domain.CartSummary{
		ItemCount:     view.TotalItems,
		SubtotalCents: view.TotalAmountCents,
		Subtotal:      view.TotalAmount,
	}, nil
}

func toCartLine(owner domain.CartOwner, row repository.CartLine) *domain.CartLine {
	return &domain.CartLine{
		Owner:     owner,
		ProductID: row.ProductID,
		Quantity:  int(row.Quantity),
		AddedAt:   row.AddedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
}
