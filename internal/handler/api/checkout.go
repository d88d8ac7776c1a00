package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/handler"
	"github.com/dukerupert/cartkeeper/internal/middleware"
	"github.com/dukerupert/cartkeeper/internal/redisx"
	"github.com/dukerupert/cartkeeper/internal/service"
)

// IdempotencyKeyHeader carries the client's retry key for order placement.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// Idempotency remembers which order a checkout key produced.
// *redisx.IdempotencyStore implements it.
type Idempotency interface {
	Reserve(ctx context.Context, customerID int64, key string) (orderID int64, reserved bool, err error)
	Complete(ctx context.Context, customerID int64, key string, orderID int64) error
	Release(ctx context.Context, customerID int64, key string) error
}

// CheckoutHandler serves the /api/checkout routes
type CheckoutHandler struct {
	checkout service.CheckoutService
	orders   service.OrderService
	resolver OwnerResolver
	idem     Idempotency
}

// NewCheckoutHandler creates a new checkout handler. idem may be nil, in
// which case Idempotency-Key headers are ignored.
func NewCheckoutHandler(checkout service.CheckoutService, orders service.OrderService, resolver OwnerResolver, idem Idempotency) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		orders:   orders,
		resolver: resolver,
		idem:     idem,
	}
}

type placeOrderRequest struct {
	TotalAmount string `json:"total_amount" validate:"required"`
}

// Quote handles GET /api/checkout/quote
func (h *CheckoutHandler) Quote(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolver.Resolve(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	quote, err := h.checkout.Quote(r.Context(), owner)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, quote)
}

// PlaceOrder handles POST /api/checkout
//
// The submitted total_amount must match the server-computed total. With an
// Idempotency-Key header a retried submission returns the order the first
// one created instead of placing a second order.
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	const op = "api.checkout.place"
	ctx := r.Context()

	var req placeOrderRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	owner, err := h.resolver.Resolve(ctx)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	customerID, isCustomer := owner.CustomerID()
	if key == "" || h.idem == nil || !isCustomer {
		h.place(w, r, owner, req.TotalAmount)
		return
	}
	if len(key) > maxIdempotencyKeyLength {
		handler.ErrorResponse(w, r, domain.NewValidationError(op, IdempotencyKeyHeader, "must be at most 128 characters"))
		return
	}

	logger := middleware.GetLogger(ctx)

	orderID, reserved, err := h.idem.Reserve(ctx, customerID, key)
	switch {
	case errors.Is(err, redisx.ErrInFlight):
		handler.ErrorResponse(w, r, &domain.Error{
			Code:    domain.ECONFLICT,
			Type:    domain.TypeInfrastructure,
			Op:      op,
			Message: "A checkout with this idempotency key is already in progress",
		})
		return
	case err != nil:
		// Idempotency is best effort; the total check still guards the order
		logger.Warn("idempotency reserve failed, placing order without it", "error", err)
		h.place(w, r, owner, req.TotalAmount)
		return
	case !reserved:
		h.replay(w, r, customerID, orderID)
		return
	}

	result, ok := h.place(w, r, owner, req.TotalAmount)
	// The request may be cancelled by now; the key must still be settled
	settleCtx := context.WithoutCancel(ctx)
	if !ok {
		if err := h.idem.Release(settleCtx, customerID, key); err != nil {
			logger.Warn("failed to release idempotency key", "error", err)
		}
		return
	}
	if err := h.idem.Complete(settleCtx, customerID, key, result.Order.ID); err != nil {
		logger.Warn("failed to record idempotency key", "error", err, "order_id", result.Order.ID)
	}
}

func (h *CheckoutHandler) place(w http.ResponseWriter, r *http.Request, owner domain.CartOwner, total string) (*domain.CheckoutResult, bool) {
	result, err := h.checkout.PlaceOrder(r.Context(), owner, total)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return nil, false
	}

	handler.JSON(w, r, http.StatusCreated, result)
	return result, true
}

func (h *CheckoutHandler) replay(w http.ResponseWriter, r *http.Request, customerID, orderID int64) {
	order, err := h.orders.GetOrder(r.Context(), customerID, orderID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	middleware.GetLogger(r.Context()).Info("replayed checkout", "order_id", order.ID, "invoice_no", order.InvoiceNo)
	handler.JSON(w, r, http.StatusOK, &domain.CheckoutResult{
		Order:    order,
		Replayed: true,
	})
}
