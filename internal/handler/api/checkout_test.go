package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/redisx"
	"github.com/dukerupert/cartkeeper/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCheckoutService implements service.CheckoutService for testing
type mockCheckoutService struct {
	quoteFunc      func(ctx context.Context, owner domain.CartOwner) (*domain.OrderQuote, error)
	placeOrderFunc func(ctx context.Context, owner domain.CartOwner, total string) (*domain.CheckoutResult, error)
}

func (m *mockCheckoutService) Quote(ctx context.Context, owner domain.CartOwner) (*domain.OrderQuote, error) {
	if m.quoteFunc != nil {
		return m.quoteFunc(ctx, owner)
	}
	return &domain.OrderQuote{}, nil
}

func (m *mockCheckoutService) PlaceOrder(ctx context.Context, owner domain.CartOwner, total string) (*domain.CheckoutResult, error) {
	if m.placeOrderFunc != nil {
		return m.placeOrderFunc(ctx, owner, total)
	}
	return nil, nil
}

// mockOrderService implements service.OrderService for testing
type mockOrderService struct {
	service.OrderService
	getOrderFunc func(ctx context.Context, customerID, orderID int64) (*domain.Order, error)
}

func (m *mockOrderService) GetOrder(ctx context.Context, customerID, orderID int64) (*domain.Order, error) {
	return m.getOrderFunc(ctx, customerID, orderID)
}

// mockIdempotency implements Idempotency for testing
type mockIdempotency struct {
	reserveFunc func(ctx context.Context, customerID int64, key string) (int64, bool, error)
	completed   map[string]int64
	released    []string
}

func (m *mockIdempotency) Reserve(ctx context.Context, customerID int64, key string) (int64, bool, error) {
	if m.reserveFunc != nil {
		return m.reserveFunc(ctx, customerID, key)
	}
	return 0, true, nil
}

func (m *mockIdempotency) Complete(_ context.Context, _ int64, key string, orderID int64) error {
	if m.completed == nil {
		m.completed = make(map[string]int64)
	}
	m.completed[key] = orderID
	return nil
}

func (m *mockIdempotency) Release(_ context.Context, _ int64, key string) error {
	m.released = append(m.released, key)
	return nil
}

// staticResolver resolves every request to the same owner
type staticResolver struct {
	owner domain.CartOwner
	err   error
}

func (s staticResolver) Resolve(context.Context) (domain.CartOwner, error) { return s.owner, s.err }

func (s staticResolver) ResolveGuest(context.Context) (domain.CartOwner, error) {
	return domain.GuestOwner("192.0.2.1")
}

func (s staticResolver) ResolveCustomer(context.Context) (domain.CartOwner, error) {
	if !s.owner.IsCustomer() {
		return domain.CartOwner{}, domain.AuthenticationRequired("test", "sign in")
	}
	return s.owner, s.err
}

func customerResolver(t *testing.T, id int64) staticResolver {
	t.Helper()
	owner, err := domain.CustomerOwner(id)
	require.NoError(t, err)
	return staticResolver{owner: owner}
}

func postCheckout(h *CheckoutHandler, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.PlaceOrder(rec, req)
	return rec
}

func TestPlaceOrder_Idempotency(t *testing.T) {
	order := &domain.Order{ID: 11, CustomerID: 5, InvoiceNo: "INV-20260314-AAAAAAAA"}

	tests := []struct {
		name         string
		reserve      func(ctx context.Context, customerID int64, key string) (int64, bool, error)
		placeErr     error
		wantStatus   int
		wantPlaced   bool
		wantComplete bool
		wantRelease  bool
		wantReplayed bool
	}{
		{
			name:         "first submission completes key",
			wantStatus:   http.StatusCreated,
			wantPlaced:   true,
			wantComplete: true,
		},
		{
			name:        "failed submission releases key",
			placeErr:    domain.TotalMismatch("checkout.place_order", nil),
			wantStatus:  http.StatusConflict,
			wantPlaced:  true,
			wantRelease: true,
		},
		{
			name: "completed key replays order",
			reserve: func(context.Context, int64, string) (int64, bool, error) {
				return 11, false, nil
			},
			wantStatus:   http.StatusOK,
			wantReplayed: true,
		},
		{
			name: "in flight key conflicts",
			reserve: func(context.Context, int64, string) (int64, bool, error) {
				return 0, false, redisx.ErrInFlight
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "store outage places without key",
			reserve: func(context.Context, int64, string) (int64, bool, error) {
				return 0, false, errors.New("redis: connection refused")
			},
			wantStatus: http.StatusCreated,
			wantPlaced: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			placed := false
			checkout := &mockCheckoutService{
				placeOrderFunc: func(_ context.Context, _ domain.CartOwner, total string) (*domain.CheckoutResult, error) {
					placed = true
					assert.Equal(t, "49.19", total)
					if tt.placeErr != nil {
						return nil, tt.placeErr
					}
					return &domain.CheckoutResult{Order: order, CartEmptied: true}, nil
				},
			}
			orders := &mockOrderService{getOrderFunc: func(_ context.Context, customerID, orderID int64) (*domain.Order, error) {
				assert.Equal(t, int64(5), customerID)
				return order, nil
			}}
			idem := &mockIdempotency{reserveFunc: tt.reserve}
			h := NewCheckoutHandler(checkout, orders, customerResolver(t, 5), idem)

			rec := postCheckout(h, `{"total_amount":"49.19"}`, "key-1")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantPlaced, placed)
			if tt.wantComplete {
				assert.Equal(t, int64(11), idem.completed["key-1"])
			} else {
				assert.Empty(t, idem.completed)
			}
			if tt.wantRelease {
				assert.Equal(t, []string{"key-1"}, idem.released)
			} else {
				assert.Empty(t, idem.released)
			}

			var res struct {
				Data *domain.CheckoutResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			if tt.wantReplayed {
				require.NotNil(t, res.Data)
				assert.True(t, res.Data.Replayed)
				assert.Equal(t, order.ID, res.Data.Order.ID)
			}
		})
	}
}

func TestPlaceOrder_WithoutKey(t *testing.T) {
	idem := &mockIdempotency{reserveFunc: func(context.Context, int64, string) (int64, bool, error) {
		t.Fatal("reserve must not be called without a key")
		return 0, false, nil
	}}
	checkout := &mockCheckoutService{placeOrderFunc: func(context.Context, domain.CartOwner, string) (*domain.CheckoutResult, error) {
		return &domain.CheckoutResult{Order: &domain.Order{ID: 1}}, nil
	}}
	h := NewCheckoutHandler(checkout, nil, customerResolver(t, 5), idem)

	rec := postCheckout(h, `{"total_amount":"49.19"}`, "")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestPlaceOrder_RejectsBadRequests(t *testing.T) {
	checkout := &mockCheckoutService{placeOrderFunc: func(context.Context, domain.CartOwner, string) (*domain.CheckoutResult, error) {
		t.Fatal("checkout must not run")
		return nil, nil
	}}
	h := NewCheckoutHandler(checkout, nil, customerResolver(t, 5), &mockIdempotency{})

	rec := postCheckout(h, `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postCheckout(h, `{"total_amount":"49.19"}`, strings.Repeat("k", maxIdempotencyKeyLength+1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuote_PropagatesErrors(t *testing.T) {
	checkout := &mockCheckoutService{quoteFunc: func(context.Context, domain.CartOwner) (*domain.OrderQuote, error) {
		return nil, domain.Infrastructure(errors.New("deadlock"), "checkout.quote", "Checkout temporarily unavailable")
	}}
	h := NewCheckoutHandler(checkout, nil, customerResolver(t, 5), nil)

	rec := httptest.NewRecorder()
	h.Quote(rec, httptest.NewRequest(http.MethodGet, "/api/checkout/quote", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var res domain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, domain.TypeInfrastructure, *res.ErrorType)
	assert.Equal(t, true, res.ErrorDetails["retryable"])
}
