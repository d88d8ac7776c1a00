package routes

import (
	"github.com/dukerupert/cartkeeper/internal/middleware"
	"github.com/dukerupert/cartkeeper/internal/router"
)

// RegisterAdminRoutes registers operator routes.
// All routes are protected by the admin bearer token.
func RegisterAdminRoutes(r *router.Router, deps AdminDeps) {
	admin := r.Route("/admin", middleware.RequireAdminToken(deps.AdminToken))

	// Guest cart hygiene
	admin.Post("/guest-carts/cleanup", deps.GuestCartHandler.Cleanup)
	admin.Get("/guest-carts/stats", deps.GuestCartHandler.Stats)

	// Order lifecycle
	admin.Put("/orders/{id}/status", deps.OrderStatusHandler.UpdateStatus)
}

// RegisterSystemRoutes registers liveness and metrics routes.
func RegisterSystemRoutes(r *router.Router, deps SystemDeps) {
	r.Handle("GET", "/health", deps.HealthHandler)
	if deps.MetricsHandler != nil {
		r.Handle("GET", "/metrics", deps.MetricsHandler)
	}
}
