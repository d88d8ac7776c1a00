package admin

import (
	"net/http"

	"github.com/dukerupert/cartkeeper/internal/handler"
	"github.com/dukerupert/cartkeeper/internal/service"
)

// GuestCartHandler serves the operator endpoints for guest cart hygiene
type GuestCartHandler struct {
	janitor      service.JanitorService
	defaultHours int
}

// NewGuestCartHandler creates a guest cart handler. defaultHours applies
// when a cleanup request omits expiry_hours.
func NewGuestCartHandler(janitor service.JanitorService, defaultHours int) *GuestCartHandler {
	return &GuestCartHandler{
		janitor:      janitor,
		defaultHours: defaultHours,
	}
}

type cleanupRequest struct {
	ExpiryHours *int `json:"expiry_hours"`
}

// Cleanup handles POST /admin/guest-carts/cleanup
// An empty body sweeps with the configured expiry.
func (h *GuestCartHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	const op = "admin.guest_carts.cleanup"

	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := handler.DecodeJSON(r, op, &req); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}
	}

	hours := h.defaultHours
	if req.ExpiryHours != nil {
		hours = *req.ExpiryHours
	}

	result, err := h.janitor.CleanupExpired(r.Context(), hours)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, result)
}

// Stats handles GET /admin/guest-carts/stats
func (h *GuestCartHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.janitor.GuestCartStatistics(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, stats)
}
