package router

import (
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Router wraps http.ServeMux with middleware chaining
type Router struct {
	mux    *http.ServeMux
	chain  []Middleware
	prefix string
	routes *routeTable
}

type routeTable struct {
	mu       sync.Mutex
	patterns []string
}

func (t *routeTable) add(pattern string) {
	t.mu.Lock()
	t.patterns = append(t.patterns, pattern)
	t.mu.Unlock()
}

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// New creates a new Router with optional global middleware
func New(middleware ...Middleware) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		chain:  middleware,
		routes: &routeTable{},
	}
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Get registers a GET route
func (r *Router) Get(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.handle(http.MethodGet, pattern, handler, middleware)
}

// Post registers a POST route
func (r *Router) Post(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.handle(http.MethodPost, pattern, handler, middleware)
}

// Put registers a PUT route
func (r *Router) Put(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.handle(http.MethodPut, pattern, handler, middleware)
}

// Delete registers a DELETE route
func (r *Router) Delete(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.handle(http.MethodDelete, pattern, handler, middleware)
}

// Handle registers a route with explicit method
func (r *Router) Handle(method, pattern string, handler http.Handler, middleware ...Middleware) {
	full := method + " " + r.prefix + pattern
	r.routes.add(full)
	r.mux.Handle(full, r.wrap(handler, middleware))
}

// Mount registers handler for every method under pattern, e.g. "/metrics".
func (r *Router) Mount(pattern string, handler http.Handler, middleware ...Middleware) {
	full := r.prefix + pattern
	r.routes.add("* " + full)
	r.mux.Handle(full, r.wrap(handler, middleware))
}

func (r *Router) handle(method, pattern string, handler http.HandlerFunc, middleware []Middleware) {
	r.Handle(method, pattern, handler, middleware...)
}

// wrap applies middleware to a handler in reverse order
func (r *Router) wrap(handler http.Handler, middleware []Middleware) http.Handler {
	combined := append(slices.Clone(r.chain), middleware...)

	// Apply middleware in reverse order so they execute in the order defined
	slices.Reverse(combined)

	result := handler
	for _, m := range combined {
		result = m(result)
	}

	return result
}

// Group creates a sub-router with additional middleware
func (r *Router) Group(middleware ...Middleware) *Router {
	return &Router{
		mux:    r.mux,
		chain:  append(slices.Clone(r.chain), middleware...),
		prefix: r.prefix,
		routes: r.routes,
	}
}

// Route creates a sub-router whose patterns are prefixed with prefix.
func (r *Router) Route(prefix string, middleware ...Middleware) *Router {
	g := r.Group(middleware...)
	g.prefix = r.prefix + strings.TrimSuffix(prefix, "/")
	return g
}

// Routes returns the registered patterns in sorted order.
func (r *Router) Routes() []string {
	r.routes.mu.Lock()
	defer r.routes.mu.Unlock()
	out := slices.Clone(r.routes.patterns)
	sort.Strings(out)
	return out
}
