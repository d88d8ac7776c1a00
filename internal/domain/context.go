// Package domain provides core business types and context helpers for the
// cart and order reconciliation service.
//
// Context helpers centralize request-scoped data access. Only the identity
// resolver reads the customer and client address values to build a cart owner.
package domain

import (
	"context"
	"net/netip"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	// customerContextKey stores the authenticated customer id.
	customerContextKey contextKey = iota

	// clientAddrContextKey stores the transport-derived client address.
	clientAddrContextKey

	// requestIDContextKey stores the request ID for tracing.
	requestIDContextKey
)

// --- Customer Context Helpers ---

// NewContextWithCustomerID returns a new context carrying the authenticated
// customer id supplied by the session layer.
func NewContextWithCustomerID(ctx context.Context, customerID int64) context.Context {
	return context.WithValue(ctx, customerContextKey, customerID)
}

// CustomerIDFromContext returns the authenticated customer id, if any.
func CustomerIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(customerContextKey).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// --- Client Address Context Helpers ---

// NewContextWithClientAddr returns a new context carrying the raw client
// address reported by the transport. The value is validated by the resolver.
func NewContextWithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientAddrContextKey, addr)
}

// ClientAddrFromContext returns the raw client address, or "" if absent.
func ClientAddrFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(clientAddrContextKey).(string)
	return addr
}

// ClientNetAddrFromContext parses the client address, returning false when
// it is missing or malformed.
func ClientNetAddrFromContext(ctx context.Context) (netip.Addr, bool) {
	addr, err := ParseGuestAddress(ClientAddrFromContext(ctx))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// --- Request ID Context Helpers ---

// NewContextWithRequestID returns a new context with the request ID attached.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}
