package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/cartkeeper/internal/domain"
)

const (
	// LoggerContextKey is the context key for storing the request-scoped logger
	LoggerContextKey contextKey = "logger"
)

// WithRequestLogger creates middleware that injects a request-scoped logger into the context.
// The logger includes request metadata (request_id, method, path, client_ip) and the
// customer id if the session layer authenticated the request.
// This middleware should be placed after RequestID, WithClientIP and WithCustomer.
func WithRequestLogger(baseLogger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Build logger with request context
			requestLogger := baseLogger.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			if requestID := GetRequestID(ctx); requestID != "" {
				requestLogger = requestLogger.With(slog.String("request_id", requestID))
			}
			if ip := domain.ClientAddrFromContext(ctx); ip != "" {
				requestLogger = requestLogger.With(slog.String("client_ip", ip))
			}
			if customerID, ok := domain.CustomerIDFromContext(ctx); ok {
				requestLogger = requestLogger.With(slog.Int64("customer_id", customerID))
			}

			// Store logger in context
			ctx = context.WithValue(ctx, LoggerContextKey, requestLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger retrieves the request-scoped logger from the context.
// If no logger is found, returns the provided fallback logger.
// If no fallback is provided, returns slog.Default().
func GetLogger(ctx context.Context, fallback ...*slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger); ok {
		return logger
	}
	if len(fallback) > 0 && fallback[0] != nil {
		return fallback[0]
	}
	return slog.Default()
}
