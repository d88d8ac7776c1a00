package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names so field errors match the request body
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeJSON reads a JSON request body into dst and validates it with the
// struct's `validate` tags. Failures are returned as field validation errors.
func DecodeJSON(r *http.Request, op string, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &maxErr):
			return domain.Errorf(domain.ETOOLARGE, op, "Request body too large")
		case errors.As(err, &typeErr) && typeErr.Field != "":
			return domain.NewValidationError(op, typeErr.Field, fmt.Sprintf("must be a %s", typeErr.Type.String()))
		case errors.Is(err, io.EOF):
			return domain.NewValidationError(op, "body", "request body is required")
		default:
			return domain.NewValidationError(op, "body", "request body must be valid JSON")
		}
	}

	return Validate(op, dst)
}

// Validate runs struct validation and converts failures to a domain
// validation error keyed by json field name.
func Validate(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Internal(err, op, "request validation failed")
	}

	var out error
	for _, fe := range verrs {
		msg := fieldMessage(fe)
		if out == nil {
			out = domain.NewValidationError(op, fe.Field(), msg)
			continue
		}
		out = domain.AddFieldError(out, fe.Field(), msg)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

// PathID parses a positive integer path parameter.
func PathID(r *http.Request, name, op string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(op, name, "must be a positive integer")
	}
	return id, nil
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name, op string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(op, name, "must be an integer")
	}
	return n, nil
}

// QueryBool parses an optional boolean query parameter.
func QueryBool(r *http.Request, name, op string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.NewValidationError(op, name, "must be true or false")
	}
	return b, nil
}
