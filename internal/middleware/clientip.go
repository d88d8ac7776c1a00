package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/dukerupert/cartkeeper/internal/domain"
)

// WithClientIP returns middleware that stores the client address in the
// context for the identity resolver. With trustProxyHeaders the first
// X-Forwarded-For entry, then X-Real-IP, take precedence over RemoteAddr.
//
// Enable trustProxyHeaders only behind a reverse proxy that overwrites these
// headers; otherwise any client can pick its guest cart.
//
// The address is stored unvalidated. A request without any address leaves
// the context empty so the resolver can apply its fallback.
func WithClientIP(trustProxyHeaders bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := ClientIP(r, trustProxyHeaders); ip != "" {
				r = r.WithContext(domain.NewContextWithClientAddr(r.Context(), ip))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client address from the request.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		// X-Forwarded-For is a comma-separated list, first is client
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if r.RemoteAddr == "" {
		return ""
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// GetClientIPFromContext retrieves the client address stored by WithClientIP.
// Returns an empty string if not found.
func GetClientIPFromContext(r *http.Request) string {
	return domain.ClientAddrFromContext(r.Context())
}
