package routes

import (
	"github.com/dukerupert/cartkeeper/internal/middleware"
	"github.com/dukerupert/cartkeeper/internal/router"
)

// RegisterAPIRoutes registers cart, checkout and order routes.
//
// Cart routes serve guests and customers alike; the owner is resolved per
// request. Merge, checkout and order routes require a customer session.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	cart := r.Route("/api/cart")
	cart.Get("", deps.CartHandler.List)
	cart.Delete("", deps.CartHandler.Empty)
	cart.Get("/summary", deps.CartHandler.Summary)
	cart.Post("/items", deps.CartHandler.AddItem)
	cart.Put("/items/{product_id}", deps.CartHandler.UpdateItem)
	cart.Delete("/items/{product_id}", deps.CartHandler.RemoveItem)
	cart.Get("/items/{product_id}/integrity", deps.CartHandler.Integrity)
	cart.Post("/merge", deps.CartHandler.Merge, middleware.RequireCustomer)

	customer := r.Group(middleware.RequireCustomer)

	checkout := customer.Route("/api/checkout")
	checkout.Get("/quote", deps.CheckoutHandler.Quote)
	if deps.CheckoutLimit != nil {
		checkout.Post("", deps.CheckoutHandler.PlaceOrder, deps.CheckoutLimit)
	} else {
		checkout.Post("", deps.CheckoutHandler.PlaceOrder)
	}

	orders := customer.Route("/api/orders")
	orders.Get("", deps.OrderHandler.List)
	orders.Get("/{id}", deps.OrderHandler.Get)
	orders.Post("/{id}/payment", deps.OrderHandler.Payment)
}
