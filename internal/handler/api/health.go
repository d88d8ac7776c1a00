package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/handler"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves GET /health
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates a health handler running the named checks.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ServeHTTP reports "ok" when every check passes and 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	var failed []string
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = "unavailable"
			failed = append(failed, name)
			continue
		}
		resp.Checks[name] = "ok"
	}

	if len(failed) > 0 {
		err := &domain.Error{
			Code:    domain.EUNAVAILABLE,
			Op:      "api.health",
			Message: "One or more dependencies are unavailable",
			Details: map[string]any{"checks": resp.Checks},
		}
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, r, http.StatusOK, resp)
}
