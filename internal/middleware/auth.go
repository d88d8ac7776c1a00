package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/session"
)

// DefaultSessionCookieName is the cookie the external login system sets.
const DefaultSessionCookieName = "cartkeeper_session"

// WithCustomer resolves the session cookie to a customer id and adds it to
// the request context.
// This middleware is optional - it adds the customer if present but doesn't
// require authentication. Unknown or expired tokens continue as guests; a
// session store outage is logged and also continues as guest.
func WithCustomer(store session.Store, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookieName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				// No session cookie, continue as guest
				next.ServeHTTP(w, r)
				return
			}

			customerID, err := store.Lookup(r.Context(), cookie.Value)
			if err != nil {
				if !errors.Is(err, session.ErrNotFound) {
					GetLogger(r.Context()).Warn("session lookup failed", "error", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := domain.NewContextWithCustomerID(r.Context(), customerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCustomer rejects requests without an authenticated customer with an
// authentication_required envelope.
func RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := domain.CustomerIDFromContext(r.Context()); !ok {
			respondUnauthorized(w, r, "Please sign in to continue")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdminToken guards operator endpoints with a static bearer token.
// An empty token disables the endpoints entirely.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				respondForbidden(w, r)
				return
			}

			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || presented == "" {
				respondWithError(w, r, domain.Unauthorized("middleware.admin", "Admin token required"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				respondForbidden(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
