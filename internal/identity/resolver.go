// Package identity turns request-scoped state into a cart owner.
//
// The resolver is the only component that reads the authenticated customer
// id and the transport client address from the context; every cart
// operation receives an explicit domain.CartOwner instead.
package identity

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
)

// Resolver produces the cart owner for a request.
type Resolver struct {
	fallback netip.Addr
	logger   *slog.Logger
}

// NewResolver creates a resolver. fallbackAddress is used for guests only
// when the transport supplied no address whatsoever.
func NewResolver(fallbackAddress string, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr, err := domain.ParseGuestAddress(fallbackAddress)
	if err != nil {
		return nil, err
	}
	return &Resolver{fallback: addr, logger: logger}, nil
}

// Resolve returns Customer when the session layer authenticated the request
// and Guest(address) otherwise. A present but malformed address fails with
// an invalid_address error; it never silently becomes the fallback.
func (r *Resolver) Resolve(ctx context.Context) (domain.CartOwner, error) {
	if id, ok := domain.CustomerIDFromContext(ctx); ok {
		telemetry.Business.OwnersResolved.WithLabelValues(string(domain.OwnerCustomer)).Inc()
		return domain.CustomerOwner(id)
	}
	return r.ResolveGuest(ctx)
}

// ResolveGuest returns the guest identity for the request's network address
// regardless of authentication. Used to locate the pre-login guest cart.
func (r *Resolver) ResolveGuest(ctx context.Context) (domain.CartOwner, error) {
	raw := domain.ClientAddrFromContext(ctx)
	if raw == "" {
		// Degraded identity: all address-less requests share this cart.
		telemetry.Business.IdentityFallbacks.Inc()
		r.logger.Warn("no client address from transport, using fallback guest identity",
			"fallback", r.fallback.String(),
			"request_id", domain.RequestIDFromContext(ctx),
		)
		telemetry.Business.OwnersResolved.WithLabelValues(string(domain.OwnerGuest)).Inc()
		return domain.GuestOwnerFromAddr(r.fallback), nil
	}

	owner, err := domain.GuestOwner(raw)
	if err != nil {
		return domain.CartOwner{}, err
	}
	telemetry.Business.OwnersResolved.WithLabelValues(string(domain.OwnerGuest)).Inc()
	return owner, nil
}

// ResolveCustomer returns the authenticated customer owner or an
// authentication_required error.
func (r *Resolver) ResolveCustomer(ctx context.Context) (domain.CartOwner, error) {
	id, ok := domain.CustomerIDFromContext(ctx)
	if !ok {
		return domain.CartOwner{}, domain.AuthenticationRequired("identity.resolve_customer", "Please log in to continue")
	}
	return domain.CustomerOwner(id)
}
