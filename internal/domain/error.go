package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
// These map to HTTP status codes and determine user-facing messages.
const (
	ECONFLICT      = "conflict"      // 409 - State conflict (vanished product, total mismatch)
	EINTERNAL      = "internal"      // 500 - Internal server error (hide details)
	EINVALID       = "invalid"       // 400 - Validation error (bad input)
	ENOTFOUND      = "not_found"     // 404 - Resource not found
	EUNAUTHORIZED  = "unauthorized"  // 401 - Authentication required
	EFORBIDDEN     = "forbidden"     // 403 - Authenticated but not permitted
	EUNPROCESSABLE = "unprocessable" // 422 - Well-formed but cannot be acted on (empty cart)
	ERATELIMIT     = "rate_limit"    // 429 - Too many requests
	EUNAVAILABLE   = "unavailable"   // 503 - Transient infrastructure failure, retry later
	ETOOLARGE      = "too_large"     // 413 - Request body too large
)

// Error type tags. These are the stable, machine-readable classification
// returned to callers in the result envelope's error_type field.
const (
	TypeValidation             = "validation_error"
	TypeInvalidQuantity        = "invalid_quantity"
	TypeInvalidAddress         = "invalid_address"
	TypeNotFound               = "not_found"
	TypeOrphanedProduct        = "orphaned_product"
	TypeProductNotAvailable    = "product_not_available"
	TypeAuthenticationRequired = "authentication_required"
	TypeEmptyCart              = "empty_cart"
	TypeTotalMismatch          = "total_mismatch"
	TypeGenerationFailed       = "generation_failed"
	TypeInfrastructure         = "infrastructure_error"
	TypeInternal               = "internal_error"
)

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ENOTFOUND).
	Code string

	// Type is the envelope classification (e.g., TypeTotalMismatch).
	// When empty it is derived from Code.
	Type string

	// Message is a human-readable error message safe to show to users.
	Message string

	// Op is the operation where the error occurred (e.g., "cart.add").
	// Used for debugging and logging, not shown to users.
	Op string

	// Details carries structured context for the caller (expected totals,
	// offending product id). Must be safe to expose.
	Details map[string]any

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for nil or non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	if IsValidationError(err) {
		return EINVALID
	}

	return EINTERNAL
}

// ErrorType extracts the envelope classification from an error.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Type != "" {
			return e.Type
		}
		return typeForCode(e.Code)
	}

	if IsValidationError(err) {
		return TypeValidation
	}

	return TypeInternal
}

func typeForCode(code string) string {
	switch code {
	case EINVALID, ETOOLARGE:
		return TypeValidation
	case ENOTFOUND:
		return TypeNotFound
	case EUNAUTHORIZED, EFORBIDDEN:
		return TypeAuthenticationRequired
	case EUNAVAILABLE, ERATELIMIT:
		return TypeInfrastructure
	default:
		return TypeInternal
	}
}

// ErrorMessage extracts a user-facing message from an error.
// For internal errors, returns a generic message to avoid leaking details.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		// For internal errors, hide details from users
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return "One or more fields are invalid."
	}

	// Unknown error type - hide details
	return "An internal error occurred. Please try again later."
}

// ErrorDetails extracts caller-safe structured details from an error.
// Validation errors report their field map under "fields".
func ErrorDetails(err error) map[string]any {
	if err == nil {
		return nil
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return map[string]any{"fields": ve.Fields}
	}

	var e *Error
	if errors.As(err, &e) {
		if IsRetryable(err) {
			details := make(map[string]any, len(e.Details)+1)
			for k, v := range e.Details {
				details[k] = v
			}
			details["retryable"] = true
			return details
		}
		return e.Details
	}

	return nil
}

// ErrorOp extracts the operation from an error (for logging).
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Op
	}

	return ""
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EINVALID, "cart.add", "unknown product: %d", id)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a domain error code and operation.
// Preserves the underlying error for logging while providing structure.
// Returns nil if err is nil.
// Example: domain.WrapError(err, domain.EINTERNAL, "order.create", "failed to save order")
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// IsType returns true if err has the given envelope classification.
func IsType(err error, typ string) bool {
	return ErrorType(err) == typ
}

// IsRetryable reports whether the caller may retry the operation unchanged.
func IsRetryable(err error) bool {
	switch ErrorType(err) {
	case TypeInfrastructure, TypeGenerationFailed:
		return true
	}
	return false
}

// =============================================================================
// Validation Errors (field-level errors for request payloads)
// =============================================================================

// ValidationError represents one or more field validation failures.
type ValidationError struct {
	// Fields maps field names to error messages.
	Fields map[string]string

	// Op is the operation where validation failed.
	Op string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for field, msg := range e.Fields {
			if e.Op != "" {
				return fmt.Sprintf("%s: %s: %s", e.Op, field, msg)
			}
			return fmt.Sprintf("%s: %s", field, msg)
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: validation failed for %d fields", e.Op, len(e.Fields))
	}
	return fmt.Sprintf("validation failed for %d fields", len(e.Fields))
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(op, field, message string) error {
	return &ValidationError{
		Op:     op,
		Fields: map[string]string{field: message},
	}
}

// AddFieldError adds a field error to an existing ValidationError.
// If err is nil, creates a new ValidationError.
// If err is not a ValidationError, creates a new one with the field.
func AddFieldError(err error, field, message string) error {
	var ve *ValidationError
	if err != nil && errors.As(err, &ve) {
		ve.Fields[field] = message
		return ve
	}

	return &ValidationError{
		Fields: map[string]string{field: message},
	}
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GetValidationFields extracts field errors from a ValidationError.
// Returns nil if err is not a ValidationError.
func GetValidationFields(err error) map[string]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// =============================================================================
// Cart and checkout errors
// =============================================================================

// InvalidQuantity reports a quantity outside the accepted range.
func InvalidQuantity(op string, quantity, min, max int) error {
	return &Error{
		Code:    EINVALID,
		Type:    TypeInvalidQuantity,
		Op:      op,
		Message: fmt.Sprintf("Quantity must be between %d and %d", min, max),
		Details: map[string]any{"quantity": quantity, "min": min, "max": max},
	}
}

// InvalidAddress reports a guest network address that failed validation.
func InvalidAddress(op, address string) error {
	return &Error{
		Code:    EINVALID,
		Type:    TypeInvalidAddress,
		Op:      op,
		Message: "Client network address is not a valid IP address",
		Details: map[string]any{"address": address},
	}
}

// OrphanedProduct reports a cart line whose product no longer exists.
// The line has already been removed when this is returned.
func OrphanedProduct(op string, productID int64) error {
	return &Error{
		Code:    ECONFLICT,
		Type:    TypeOrphanedProduct,
		Op:      op,
		Message: "This product is no longer available and was removed from your cart. Please refresh your cart.",
		Details: map[string]any{"product_id": productID, "removed": true},
	}
}

// ProductNotAvailable reports a product id that the catalog does not know.
func ProductNotAvailable(op string, productID int64) error {
	return &Error{
		Code:    ECONFLICT,
		Type:    TypeProductNotAvailable,
		Op:      op,
		Message: "This product is not available. Please refresh the page and try again.",
		Details: map[string]any{"product_id": productID},
	}
}

// AuthenticationRequired reports an operation that needs a logged-in customer.
func AuthenticationRequired(op, message string) error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Type:    TypeAuthenticationRequired,
		Op:      op,
		Message: message,
	}
}

// EmptyCart reports a checkout attempt against a cart with no valid lines.
func EmptyCart(op string, removedItems int) error {
	e := &Error{
		Code:    EUNPROCESSABLE,
		Type:    TypeEmptyCart,
		Op:      op,
		Message: "Your cart is empty",
	}
	if removedItems > 0 {
		e.Details = map[string]any{"removed_items": removedItems}
	}
	return e
}

// TotalMismatch reports a submitted total that disagrees with the server total.
func TotalMismatch(op string, details map[string]any) error {
	return &Error{
		Code:    ECONFLICT,
		Type:    TypeTotalMismatch,
		Op:      op,
		Message: "The order total has changed. Please review your cart and try again.",
		Details: details,
	}
}

// GenerationFailed reports exhausted retries while generating a unique value.
func GenerationFailed(err error, op string, attempts int) error {
	return &Error{
		Code:    EUNAVAILABLE,
		Type:    TypeGenerationFailed,
		Op:      op,
		Message: "Could not allocate an order reference. Please try again.",
		Details: map[string]any{"attempts": attempts},
		Err:     err,
	}
}

// Infrastructure wraps a transient storage or connection failure.
func Infrastructure(err error, op, message string) error {
	return &Error{
		Code:    EUNAVAILABLE,
		Type:    TypeInfrastructure,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// InvalidStatusTransition reports an order status change that the
// lifecycle does not allow.
func InvalidStatusTransition(op string, from, to OrderStatus) error {
	return &Error{
		Code:    EINVALID,
		Type:    TypeValidation,
		Op:      op,
		Message: fmt.Sprintf("Cannot change order status from %s to %s", from, to),
		Details: map[string]any{"reason": "invalid_status_transition", "from": from, "to": to},
	}
}

// =============================================================================
// Common errors (convenience)
// =============================================================================

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("order.get", "order", "42")
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Type:    TypeNotFound,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(op, message string) error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Forbidden creates a forbidden error.
func Forbidden(op, message string) error {
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: message,
	}
}

// Invalid creates a validation error for a single issue.
// Example: domain.Invalid("janitor.cleanup", "expiry_hours must be between 1 and 168")
func Invalid(op, message string) error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error (wraps underlying error).
// The message shown to users will be generic; the underlying error is for logging.
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
