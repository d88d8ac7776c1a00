package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", domain.NewValidationError("op", "quantity", "is required"), http.StatusBadRequest},
		{"invalid quantity", domain.InvalidQuantity("op", 1000, 1, 999), http.StatusBadRequest},
		{"invalid address", domain.InvalidAddress("op", "nope"), http.StatusBadRequest},
		{"not found", domain.NotFound("op", "order", "1"), http.StatusNotFound},
		{"orphaned", domain.OrphanedProduct("op", 9), http.StatusConflict},
		{"not available", domain.ProductNotAvailable("op", 9), http.StatusConflict},
		{"authentication", domain.AuthenticationRequired("op", "sign in"), http.StatusUnauthorized},
		{"forbidden", domain.Forbidden("op", "no"), http.StatusForbidden},
		{"empty cart", domain.EmptyCart("op", 0), http.StatusUnprocessableEntity},
		{"total mismatch", domain.TotalMismatch("op", nil), http.StatusConflict},
		{"generation failed", domain.GenerationFailed(errors.New("x"), "op", 5), http.StatusServiceUnavailable},
		{"infrastructure", domain.Infrastructure(errors.New("x"), "op", "db down"), http.StatusServiceUnavailable},
		{"conflict", domain.Conflict("op", "busy"), http.StatusConflict},
		{"too large", domain.Errorf(domain.ETOOLARGE, "op", "big"), http.StatusRequestEntityTooLarge},
		{"rate limited", domain.Errorf(domain.ERATELIMIT, "op", "slow down"), http.StatusTooManyRequests},
		{"internal", domain.Internal(errors.New("x"), "op", "boom"), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusForError(tt.err))
		})
	}
}

func TestErrorResponse_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", nil)

	ErrorResponse(rec, req, domain.TotalMismatch("checkout.place_order", map[string]any{
		"expected_total":  "49.19",
		"submitted_total": "50.00",
	}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res domain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	require.NotNil(t, res.ErrorType)
	assert.Equal(t, domain.TypeTotalMismatch, *res.ErrorType)
	assert.Equal(t, "49.19", res.ErrorDetails["expected_total"])
}

func TestErrorResponse_InternalHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)

	ErrorResponse(rec, req, domain.Internal(errors.New("dial tcp 10.0.0.5:5432"), "db.query", "failed to connect to database at 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")

	var res domain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Error)
	assert.Equal(t, "An internal error occurred. Please try again later.", *res.Error)
}

func TestErrorResponse_RetryableDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil), domain.Infrastructure(errors.New("deadlock"), "cart.list", "Cart temporarily unavailable"))

	var res domain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, true, res.ErrorDetails["retryable"])
}

func TestJSON_SuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, map[string]int{"n": 1})

	assert.Equal(t, http.StatusCreated, rec.Code)
	var res struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
		Error   *string        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Data["n"])
	assert.Nil(t, res.Error)
}

type addRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  *int  `json:"quantity" validate:"required"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantFields []string
	}{
		{"valid", `{"product_id":1,"quantity":2}`, nil},
		{"zero quantity is present", `{"product_id":1,"quantity":0}`, nil},
		{"missing fields", `{}`, []string{"product_id", "quantity"}},
		{"negative product", `{"product_id":-1,"quantity":1}`, []string{"product_id"}},
		{"wrong type", `{"product_id":"one","quantity":1}`, []string{"product_id"}},
		{"unknown field", `{"product_id":1,"quantity":1,"price":1}`, []string{"body"}},
		{"not json", `product_id=1`, []string{"body"}},
		{"empty body", ``, []string{"body"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/cart/items", strings.NewReader(tt.body))
			var dst addRequest
			err := DecodeJSON(req, "test.decode", &dst)
			if tt.wantFields == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, domain.IsValidationError(err), "got %v", err)
			fields := domain.GetValidationFields(err)
			for _, f := range tt.wantFields {
				assert.Contains(t, fields, f)
			}
		})
	}
}

func TestPathID(t *testing.T) {
	tests := []struct {
		value string
		want  int64
		ok    bool
	}{
		{"42", 42, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/orders/"+tt.value, nil)
			req.SetPathValue("id", tt.value)
			got, err := PathID(req, "id", "test.path")
			if !tt.ok {
				assert.True(t, domain.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/cart?self_heal=false&limit=5&offset=x", nil)

	b, err := QueryBool(req, "self_heal", "op", true)
	require.NoError(t, err)
	assert.False(t, b)

	b, err = QueryBool(req, "missing", "op", true)
	require.NoError(t, err)
	assert.True(t, b)

	n, err := QueryInt(req, "limit", "op", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = QueryInt(req, "offset", "op", 0)
	assert.True(t, domain.IsValidationError(err))
}
