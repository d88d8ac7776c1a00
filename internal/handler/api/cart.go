package api

import (
	"context"
	"net/http"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/handler"
	"github.com/dukerupert/cartkeeper/internal/service"
)

// OwnerResolver turns request-scoped identity into a cart owner.
// *identity.Resolver implements it.
type OwnerResolver interface {
	Resolve(ctx context.Context) (domain.CartOwner, error)
	ResolveGuest(ctx context.Context) (domain.CartOwner, error)
	ResolveCustomer(ctx context.Context) (domain.CartOwner, error)
}

// CartHandler serves the /api/cart routes
type CartHandler struct {
	cart     service.CartService
	merge    service.MergeService
	resolver OwnerResolver
}

// NewCartHandler creates a new cart handler
func NewCartHandler(cart service.CartService, merge service.MergeService, resolver OwnerResolver) *CartHandler {
	return &CartHandler{
		cart:     cart,
		merge:    merge,
		resolver: resolver,
	}
}

type addItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  *int  `json:"quantity" validate:"required"`
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

type addItemResponse struct {
	Line   *domain.CartLine  `json:"line"`
	Action domain.CartAction `json:"action"`
}

type updateQuantityResponse struct {
	Line    *domain.CartLine `json:"line"`
	Removed bool             `json:"removed"`
}

type emptyResponse struct {
	RemovedLines int64 `json:"removed_lines"`
}

type integrityResponse struct {
	ProductID int64 `json:"product_id"`
	Valid     bool  `json:"valid"`
}

// List handles GET /api/cart
// Lines for vanished products are removed unless ?self_heal=false.
func (h *CartHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "api.cart.list"

	selfHeal, err := handler.QueryBool(r, "self_heal", op, true)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	owner, err := h.resolver.Resolve(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	view, err := h.cart.List(r.Context(), owner, selfHeal)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, view)
}

// Summary handles GET /api/cart/summary
func (h *CartHandler) Summary(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolver.Resolve(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	summary, err := h.cart.Summary(r.Context(), owner)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, summary)
}

// AddItem handles POST /api/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	const op = "api.cart.add"

	var req addItemRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	owner, err := h.resolver.Resolve(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	line, action, err := h.cart.AddItem(r.Context(), owner, req.ProductID, *req.Quantity)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	status := http.StatusOK
	if action == domain.ActionCreated {
		status = http.StatusCreated
	}
	handler.JSON(w, r, status, addItemResponse{Line: line, Action: action})
}

// UpdateItem handles PUT /api/cart/items/{product_id}
// A quantity of 0 removes the line.
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	const op = "api.cart.update"

	productID, err := handler.PathID(r, "product_id", op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req updateQuantityRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	owner, err := h.resolver.Resolve(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	line, removed, err := h.cart.UpdateQuantity(r.Context(), owner, productID, *req.Quantity)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, updateQuantityResponse{Line: line, Removed: removed})
}

// RemoveItem handles DELETE /api/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	const op = "api.cart.remove"

	productID, err := handler.PathID(r, "product_id", op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	owner, err := h.resolver.Resolve(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	if err := h.cart.RemoveItem(r.Context(), owner, productID); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, updateQuantityResponse{Removed: true})
}

// Empty handles DELETE /api/cart
func (h *CartHandler) Empty(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolver.Resolve(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	n, err := h.cart.Empty(r.Context(), owner)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, emptyResponse{RemovedLines: n})
}

// Integrity handles GET /api/cart/items/{product_id}/integrity
func (h *CartHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	const op = "api.cart.integrity"

	productID, err := handler.PathID(r, "product_id", op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	owner, err := h.resolver.Resolve(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	if err := h.cart.ValidateItemIntegrity(r.Context(), productID, owner); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, integrityResponse{ProductID: productID, Valid: true})
}

// Merge handles POST /api/cart/merge
// The guest cart of the caller's address moves into the signed-in
// customer's cart.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customer, err := h.resolver.ResolveCustomer(ctx)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	customerID, _ := customer.CustomerID()

	guest, err := h.resolver.ResolveGuest(ctx)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	address, _ := guest.GuestAddress()

	result, err := h.merge.TransferGuestToCustomer(ctx, address, customerID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, result)
}
