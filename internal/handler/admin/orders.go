package admin

import (
	"net/http"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/handler"
	"github.com/dukerupert/cartkeeper/internal/service"
)

// OrderStatusHandler lets operators move orders through their lifecycle
type OrderStatusHandler struct {
	orders service.OrderService
}

// NewOrderStatusHandler creates a new order status handler
func NewOrderStatusHandler(orders service.OrderService) *OrderStatusHandler {
	return &OrderStatusHandler{orders: orders}
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status" validate:"required"`
}

// UpdateStatus handles PUT /admin/orders/{id}/status
func (h *OrderStatusHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	const op = "admin.orders.update_status"

	orderID, err := handler.PathID(r, "id", op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), orderID, req.Status)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, order)
}
