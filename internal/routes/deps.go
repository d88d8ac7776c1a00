package routes

import (
	"net/http"

	"github.com/dukerupert/cartkeeper/internal/handler/admin"
	"github.com/dukerupert/cartkeeper/internal/handler/api"
	"github.com/dukerupert/cartkeeper/internal/router"
)

// APIDeps contains dependencies for the public cart, checkout and order routes
type APIDeps struct {
	CartHandler     *api.CartHandler
	CheckoutHandler *api.CheckoutHandler
	OrderHandler    *api.OrderHandler

	// CheckoutLimit throttles order placement; nil disables it
	CheckoutLimit router.Middleware
}

// AdminDeps contains dependencies for operator routes
type AdminDeps struct {
	GuestCartHandler   *admin.GuestCartHandler
	OrderStatusHandler *admin.OrderStatusHandler

	// AdminToken is the bearer token operators must present
	AdminToken string
}

// SystemDeps contains dependencies for liveness and metrics routes
type SystemDeps struct {
	HealthHandler  http.Handler
	MetricsHandler http.Handler
}
