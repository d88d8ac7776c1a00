package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/events"
	"github.com/dukerupert/cartkeeper/internal/jobs"
	"github.com/dukerupert/cartkeeper/internal/memstore"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/dukerupert/cartkeeper/internal/shipping"
	"github.com/dukerupert/cartkeeper/internal/tax"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	envelopes []events.Envelope
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	p.envelopes = append(p.envelopes, env)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// scriptedInvoices hands out a fixed sequence of invoice numbers.
type scriptedInvoices struct {
	numbers  []string
	released []string
}

func (g *scriptedInvoices) GenerateUnique(context.Context) (string, int, error) {
	if len(g.numbers) == 0 {
		return "", 1, domain.GenerationFailed(nil, "test", 1)
	}
	n := g.numbers[0]
	g.numbers = g.numbers[1:]
	return n, 1, nil
}

func (g *scriptedInvoices) Release(invoiceNo string) {
	g.released = append(g.released, invoiceNo)
}

type checkoutFixture struct {
	store     *memstore.Store
	cart      CartService
	checkout  CheckoutService
	publisher *recordingPublisher
}

func newCheckoutFixture(t *testing.T, invoices InvoiceGenerator) *checkoutFixture {
	t.Helper()
	store := newTestStore()
	cart := newTestCartService(store)
	if invoices == nil {
		invoices = NewInvoiceGenerator(store, 5, 0)
	}
	calc, err := tax.NewPercentageCalculator(decimal.RequireFromString("0.08"), false)
	require.NoError(t, err)
	pub := &recordingPublisher{}

	svc := NewCheckoutService(
		cart,
		store,
		invoices,
		calc,
		shipping.NewStandardProvider(599, 5000),
		pub,
		CheckoutSettings{Currency: "USD", TotalToleranceCents: 1},
		0,
		discardLogger(),
	)
	return &checkoutFixture{store: store, cart: cart, checkout: svc, publisher: pub}
}

// fillForty puts a $40.00 subtotal in the customer's cart.
func (f *checkoutFixture) fillForty(t *testing.T, owner domain.CartOwner) {
	t.Helper()
	_, _, err := f.cart.AddItem(context.Background(), owner, productKenya, 4)
	require.NoError(t, err)
}

func TestCheckoutService_Quote(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	owner := customer(t, 42)
	f.fillForty(t, owner)

	q, err := f.checkout.Quote(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), q.SubtotalCents)
	assert.Equal(t, int64(320), q.TaxCents)
	assert.Equal(t, int64(599), q.ShippingCents)
	assert.Equal(t, "49.19", q.Total)
	assert.Equal(t, int64(5000), q.FreeShippingThresholdCents)
	assert.False(t, q.FreeShipping)
	assert.Equal(t, 0, f.store.OrderCount())
}

func TestCheckoutService_FreeShippingAtThreshold(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	owner := customer(t, 42)
	_, _, err := f.cart.AddItem(context.Background(), owner, productKenya, 5)
	require.NoError(t, err)

	q, err := f.checkout.Quote(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), q.SubtotalCents)
	assert.Equal(t, int64(0), q.ShippingCents)
	assert.True(t, q.FreeShipping)
	assert.Equal(t, "54.00", q.Total)
}

func TestCheckoutService_PlaceOrder_TotalReconciliation(t *testing.T) {
	tests := []struct {
		name      string
		submitted string
		wantErr   string
	}{
		{"exact", "49.19", ""},
		{"within tolerance above", "49.20", ""},
		{"within tolerance below", "49.18", ""},
		{"outside tolerance", "50.00", domain.TypeTotalMismatch},
		{"not a number", "forty", domain.TypeValidation},
		{"negative", "-49.19", domain.TypeValidation},
		{"wraps past int64 cents", "184467440737095516.16", domain.TypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t, nil)
			owner := customer(t, 42)
			f.fillForty(t, owner)

			result, err := f.checkout.PlaceOrder(context.Background(), owner, tt.submitted)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, domain.ErrorType(err))
				assert.Equal(t, 0, f.store.OrderCount())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(4919), result.Order.TotalCents)
			assert.Equal(t, 1, f.store.OrderCount())
		})
	}
}

func TestCheckoutService_PlaceOrder_MismatchDetails(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	owner := customer(t, 42)
	f.fillForty(t, owner)

	_, err := f.checkout.PlaceOrder(context.Background(), owner, "50.00")
	require.Error(t, err)
	assert.Equal(t, map[string]any{
		"expected_total":  "49.19",
		"submitted_total": "50.00",
		"subtotal":        "40.00",
		"tax":             "3.20",
		"shipping":        "5.99",
	}, domain.ErrorDetails(err))

	view, err := f.cart.List(context.Background(), owner, false)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1, "a rejected checkout leaves the cart intact")
}

func TestCheckoutService_PlaceOrder_Success(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	owner := customer(t, 42)
	f.fillForty(t, owner)

	result, err := f.checkout.PlaceOrder(ctx, owner, "49.19")
	require.NoError(t, err)
	assert.True(t, result.CartEmptied)
	assert.Empty(t, result.Warning)
	assert.Equal(t, 1, result.InvoiceAttempts)

	o := result.Order
	assert.Regexp(t, invoicePattern, o.InvoiceNo)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, int64(42), o.CustomerID)
	assert.Equal(t, "USD", o.Currency)
	assert.Equal(t, int64(4000), o.SubtotalCents)
	assert.Equal(t, int64(320), o.TaxCents)
	assert.Equal(t, int64(599), o.ShippingCents)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, domain.OrderLine{
		ProductID:      productKenya,
		Title:          "Kenya AA",
		UnitPriceCents: 1000,
		Quantity:       4,
		LineTotalCents: 4000,
	}, o.Lines[0])

	view, err := f.cart.List(ctx, owner, false)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	require.Len(t, f.publisher.envelopes, 1)
	assert.Equal(t, events.TypeOrderCreated, f.publisher.envelopes[0].Type)
	assert.Equal(t, o.InvoiceNo, f.publisher.envelopes[0].Key)
}

func TestCheckoutService_PlaceOrder_FrozenPrices(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	owner := customer(t, 42)
	f.fillForty(t, owner)

	result, err := f.checkout.PlaceOrder(ctx, owner, "49.19")
	require.NoError(t, err)

	f.store.PutProduct(productKenya, "Kenya AA (new crop)", 1500)

	orders := NewOrderService(f.store, nil, 0, discardLogger())
	o, err := orders.GetOrder(ctx, 42, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), o.Lines[0].UnitPriceCents)
	assert.Equal(t, "Kenya AA", o.Lines[0].Title)
	assert.Equal(t, int64(4919), o.TotalCents)
}

func TestCheckoutService_PlaceOrder_Guards(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()

	g := guest(t, "203.0.113.7")
	f.fillForty(t, g)
	_, err := f.checkout.PlaceOrder(ctx, g, "49.19")
	assert.Equal(t, domain.TypeAuthenticationRequired, domain.ErrorType(err))
	_, err = f.checkout.Quote(ctx, g)
	assert.Equal(t, domain.TypeAuthenticationRequired, domain.ErrorType(err))

	_, err = f.checkout.PlaceOrder(ctx, customer(t, 42), "0.00")
	assert.Equal(t, domain.TypeEmptyCart, domain.ErrorType(err))
}

func TestCheckoutService_PlaceOrder_AllLinesOrphaned(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	owner := customer(t, 42)
	f.fillForty(t, owner)
	f.store.RemoveProduct(productKenya)

	_, err := f.checkout.PlaceOrder(context.Background(), owner, "49.19")
	require.Error(t, err)
	assert.Equal(t, domain.TypeEmptyCart, domain.ErrorType(err))
	assert.Equal(t, 1, domain.ErrorDetails(err)["removed_items"])
}

func TestCheckoutService_PlaceOrder_CartEmptyFailureIsDeferred(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	owner := customer(t, 42)
	f.fillForty(t, owner)

	f.store.Err = func(method string) error {
		if method == "DeleteCartLinesForOrder" {
			return errors.New("connection reset")
		}
		return nil
	}

	result, err := f.checkout.PlaceOrder(ctx, owner, "49.19")
	require.NoError(t, err, "the order stands when emptying fails")
	assert.False(t, result.CartEmptied)
	assert.NotEmpty(t, result.Warning)
	assert.Equal(t, 1, f.store.OrderCount())

	queued := f.store.Jobs()
	require.Len(t, queued, 1)
	assert.Equal(t, jobs.JobTypeEmptyCart, queued[0].JobType)

	// The customer keeps shopping before the job runs.
	f.store.Err = nil
	_, _, err = f.cart.AddItem(ctx, owner, productEthiopia, 2)
	require.NoError(t, err)

	n, err := jobs.ProcessEmptyCartJob(ctx, &queued[0], f.cart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	view, err := f.cart.List(ctx, owner, false)
	require.NoError(t, err)
	require.Len(t, view.Items, 1, "lines added after the order survive the deferred empty")
	assert.Equal(t, productEthiopia, view.Items[0].ProductID)
	assert.Equal(t, 2, view.Items[0].Quantity)

	// Replaying the job removes nothing more.
	n, err = jobs.ProcessEmptyCartJob(ctx, &queued[0], f.cart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCheckoutService_PlaceOrder_KeepsLinesChangedDuringCheckout(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	owner := customer(t, 42)
	f.fillForty(t, owner)
	_, _, err := f.cart.AddItem(ctx, owner, productColombia, 1)
	require.NoError(t, err)

	// Simulate requests that land between the snapshot and the inline clear.
	concurrent := false
	f.store.Err = func(method string) error {
		if method == "DeleteCartLinesForOrder" && !concurrent {
			concurrent = true
			_, _, err := f.cart.AddItem(ctx, owner, productEthiopia, 1)
			require.NoError(t, err)
			_, _, err = f.cart.AddItem(ctx, owner, productKenya, 1)
			require.NoError(t, err)
		}
		return nil
	}

	result, err := f.checkout.PlaceOrder(ctx, owner, "66.96")
	require.NoError(t, err)
	assert.True(t, result.CartEmptied)
	require.Len(t, result.Order.Lines, 2)

	f.store.Err = nil
	view, err := f.cart.List(ctx, owner, false)
	require.NoError(t, err)
	quantities := map[int64]int{}
	for _, it := range view.Items {
		quantities[it.ProductID] = it.Quantity
	}
	assert.Equal(t, map[int64]int{productEthiopia: 1, productKenya: 5}, quantities)
}

func TestCheckoutService_PlaceOrder_RetriesInvoiceCollision(t *testing.T) {
	invoices := &scriptedInvoices{numbers: []string{"INV-20260314-TAKENAAA", "INV-20260314-FRESHBBB"}}
	f := newCheckoutFixture(t, invoices)
	ctx := context.Background()

	_, err := f.store.CreateOrder(ctx, repository.CreateOrderParams{
		CustomerID: 7,
		InvoiceNo:  "INV-20260314-TAKENAAA",
		Status:     "pending",
		Currency:   "USD",
		OrderDate:  pgtype.Timestamptz{Time: fixedClock(), Valid: true},
	})
	require.NoError(t, err)

	owner := customer(t, 42)
	f.fillForty(t, owner)

	result, err := f.checkout.PlaceOrder(ctx, owner, "49.19")
	require.NoError(t, err)
	assert.Equal(t, "INV-20260314-FRESHBBB", result.Order.InvoiceNo)
	assert.Equal(t, 2, result.InvoiceAttempts)
	assert.Equal(t, []string{"INV-20260314-TAKENAAA", "INV-20260314-FRESHBBB"}, invoices.released)
	assert.Equal(t, 2, f.store.OrderCount())
}

func TestCheckoutService_PlaceOrder_PublishFailureIsIgnored(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	f.publisher.err = errors.New("broker down")
	owner := customer(t, 42)
	f.fillForty(t, owner)

	result, err := f.checkout.PlaceOrder(context.Background(), owner, "49.19")
	require.NoError(t, err)
	assert.NotNil(t, result.Order)
}
