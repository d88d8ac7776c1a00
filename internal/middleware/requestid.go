package middleware

import (
	"context"
	"net/http"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the header name for request ID
	RequestIDHeader = "X-Request-ID"

	// maxRequestIDLength caps inbound ids so a client cannot bloat logs.
	maxRequestIDLength = 128
)

// RequestID generates a unique request ID for each request.
// If the request already has an X-Request-ID header, it uses that value.
// The request ID is added to the response headers and request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}

		// Add to response headers
		w.Header().Set(RequestIDHeader, requestID)

		// Add to request context
		ctx := domain.NewContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	return domain.RequestIDFromContext(ctx)
}
