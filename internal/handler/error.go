package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/middleware"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
)

// ErrorTypeToHTTPStatus maps an envelope error type to an HTTP status code.
func ErrorTypeToHTTPStatus(typ string) int {
	switch typ {
	case domain.TypeValidation, domain.TypeInvalidQuantity, domain.TypeInvalidAddress:
		return http.StatusBadRequest // 400
	case domain.TypeAuthenticationRequired:
		return http.StatusUnauthorized // 401
	case domain.TypeNotFound:
		return http.StatusNotFound // 404
	case domain.TypeOrphanedProduct, domain.TypeProductNotAvailable, domain.TypeTotalMismatch:
		return http.StatusConflict // 409
	case domain.TypeEmptyCart:
		return http.StatusUnprocessableEntity // 422
	case domain.TypeGenerationFailed, domain.TypeInfrastructure:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// ErrorCodeToHTTPStatus maps the codes whose status does not follow from
// their envelope type to an HTTP status.
// Returns 0 when the type mapping should be used.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	default:
		return 0
	}
}

// StatusForError returns the HTTP status for err.
func StatusForError(err error) int {
	if status := ErrorCodeToHTTPStatus(domain.ErrorCode(err)); status != 0 {
		return status
	}
	return ErrorTypeToHTTPStatus(domain.ErrorType(err))
}

// ErrorResponse writes err as a failed result envelope.
//
// Internal and infrastructure failures are logged at error level and sent to
// Sentry; everything else is an expected outcome and logged at info.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	logger := middleware.GetLogger(r.Context())

	attrs := []any{
		"error", err.Error(),
		"type", domain.ErrorType(err),
		"op", domain.ErrorOp(err),
		"status", status,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
		telemetry.CaptureError(r.Context(), err, map[string]interface{}{
			"path":   r.URL.Path,
			"method": r.Method,
		})
	} else {
		logger.Info("request rejected", attrs...)
	}

	writeJSON(w, r, status, domain.Failure(err))
}

// JSON writes data as a successful result envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, domain.Success(data))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		middleware.GetLogger(r.Context()).Error("failed to encode response", "error", err)
	}
}
