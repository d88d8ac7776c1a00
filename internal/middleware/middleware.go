package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/cartkeeper/internal/domain"
)

type contextKey string

// ============================================================================
// MIDDLEWARE ERROR RESPONSE HELPERS
// ============================================================================
//
// These helpers write the same result envelope as the handlers. They are
// self-contained to avoid circular imports (handler imports middleware for
// GetLogger, etc.)

// respondWithError logs err and writes a failed result envelope.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := errorCodeToHTTPStatus(code)

	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}
	if reqID := GetRequestID(r.Context()); reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}

	logger := GetLogger(r.Context())
	if status >= 500 {
		logger.Error("middleware error", attrs...)
	} else {
		logger.Info("middleware error", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.Failure(err))
}

// respondUnauthorized is a convenience wrapper for 401 errors.
func respondUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	respondWithError(w, r, domain.AuthenticationRequired("middleware.auth", message))
}

// respondForbidden is a convenience wrapper for 403 errors.
func respondForbidden(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, domain.Forbidden("middleware.auth", "You don't have permission to access this resource"))
}

// respondTooManyRequests is a convenience wrapper for 429 errors.
func respondTooManyRequests(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, domain.Errorf(domain.ERATELIMIT, "middleware.ratelimit", "Too many requests"))
}

// respondTooLarge is a convenience wrapper for 413 errors.
func respondTooLarge(w http.ResponseWriter, r *http.Request, message string) {
	respondWithError(w, r, domain.Errorf(domain.ETOOLARGE, "middleware.limits", "%s", message))
}

// errorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge // 413
	case domain.EUNPROCESSABLE:
		return http.StatusUnprocessableEntity // 422
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}
