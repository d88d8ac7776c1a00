package api

import (
	"net/http"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/handler"
	"github.com/dukerupert/cartkeeper/internal/service"
)

// OrderHandler serves the customer's /api/orders routes
type OrderHandler struct {
	orders   service.OrderService
	resolver OwnerResolver
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders service.OrderService, resolver OwnerResolver) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		resolver: resolver,
	}
}

type paymentRequest struct {
	Outcome domain.PaymentOutcome `json:"outcome" validate:"required,oneof=succeeded failed"`
}

func (h *OrderHandler) customerID(r *http.Request) (int64, error) {
	owner, err := h.resolver.ResolveCustomer(r.Context())
	if err != nil {
		return 0, err
	}
	id, _ := owner.CustomerID()
	return id, nil
}

// List handles GET /api/orders?limit=&offset=
// GET /api/orders?invoice_no= looks a single order up by invoice number.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "api.orders.list"

	customerID, err := h.customerID(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	if invoiceNo := r.URL.Query().Get("invoice_no"); invoiceNo != "" {
		order, err := h.orders.GetOrderByInvoice(r.Context(), customerID, invoiceNo)
		if err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}
		handler.JSON(w, r, http.StatusOK, order)
		return
	}

	limit, err := handler.QueryInt(r, "limit", op, service.DefaultOrderPageSize)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	offset, err := handler.QueryInt(r, "offset", op, 0)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	list, err := h.orders.ListOrders(r.Context(), customerID, limit, offset)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, list)
}

// Get handles GET /api/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "api.orders.get"

	customerID, err := h.customerID(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	orderID, err := handler.PathID(r, "id", op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), customerID, orderID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, order)
}

// Payment handles POST /api/orders/{id}/payment
// There is no payment provider; the outcome is supplied by the caller.
func (h *OrderHandler) Payment(w http.ResponseWriter, r *http.Request) {
	const op = "api.orders.payment"

	customerID, err := h.customerID(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	orderID, err := handler.PathID(r, "id", op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req paymentRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	order, err := h.orders.SimulatePayment(r.Context(), customerID, orderID, req.Outcome)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, order)
}
