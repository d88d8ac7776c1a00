package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/events"
	"github.com/dukerupert/cartkeeper/internal/jobs"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/dukerupert/cartkeeper/internal/shipping"
	"github.com/dukerupert/cartkeeper/internal/tax"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
	"github.com/jackc/pgx/v5/pgtype"
)

// cartEmptyWarning is returned when the order stands but the cart could not
// be cleared inline.
const cartEmptyWarning = "Your order was placed. Your cart will be cleared shortly."

// maxInvoiceCollisions bounds insert-time invoice conflicts with other
// processes before checkout gives up.
const maxInvoiceCollisions = 3

// CheckoutSettings is the monetary policy applied to every order.
type CheckoutSettings struct {
	Currency            string
	TotalToleranceCents int64
}

// CheckoutService turns a customer's cart into an order.
type CheckoutService interface {
	// Quote prices the cart without persisting anything.
	Quote(ctx context.Context, owner domain.CartOwner) (*domain.OrderQuote, error)

	// PlaceOrder reconciles submittedTotal against the server total and, when
	// they agree, persists the order and empties the cart.
	PlaceOrder(ctx context.Context, owner domain.CartOwner, submittedTotal string) (*domain.CheckoutResult, error)
}

type checkoutService struct {
	cart      CartService
	store     repository.Store
	invoices  InvoiceGenerator
	tax       tax.Calculator
	shipping  shipping.Provider
	publisher events.Publisher
	settings  CheckoutSettings
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewCheckoutService creates a new CheckoutService instance
func NewCheckoutService(
	cart CartService,
	store repository.Store,
	invoices InvoiceGenerator,
	taxCalculator tax.Calculator,
	shippingProvider shipping.Provider,
	publisher events.Publisher,
	settings CheckoutSettings,
	timeout time.Duration,
	logger *slog.Logger,
) CheckoutService {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if settings.Currency == "" {
		settings.Currency = "USD"
	}
	return &checkoutService{
		cart:      cart,
		store:     store,
		invoices:  invoices,
		tax:       taxCalculator,
		shipping:  shippingProvider,
		publisher: publisher,
		settings:  settings,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// pricedCart is a snapshot with its server-side totals.
type pricedCart struct {
	snapshot      *domain.ValidatedCartSnapshot
	taxCents      int64
	shippingCents int64
	freeShipping  bool
}

func (p *pricedCart) totalCents() int64 {
	return p.snapshot.SubtotalCents + p.taxCents + p.shippingCents
}

func requireCustomer(op string, owner domain.CartOwner) (int64, error) {
	id, ok := owner.CustomerID()
	if !ok {
		return 0, domain.AuthenticationRequired(op, "Please log in to check out")
	}
	return id, nil
}

func (s *checkoutService) Quote(ctx context.Context, owner domain.CartOwner) (*domain.OrderQuote, error) {
	const op = "checkout.Quote"

	if _, err := requireCustomer(op, owner); err != nil {
		return nil, err
	}
	priced, err := s.price(ctx, op, owner)
	if err != nil {
		return nil, err
	}

	q := &domain.OrderQuote{
		Items:         priced.snapshot.Items,
		RemovedItems:  priced.snapshot.RemovedItems,
		SubtotalCents: priced.snapshot.SubtotalCents,
		TaxCents:      priced.taxCents,
		ShippingCents: priced.shippingCents,
		TotalCents:    priced.totalCents(),
		Subtotal:      domain.FormatCents(priced.snapshot.SubtotalCents),
		Tax:           domain.FormatCents(priced.taxCents),
		Shipping:      domain.FormatCents(priced.shippingCents),
		Total:         domain.FormatCents(priced.totalCents()),
		Currency:      s.settings.Currency,
		FreeShipping:  priced.freeShipping,
	}
	if t, ok := s.shipping.(interface{ FreeThresholdCents() int64 }); ok {
		q.FreeShippingThresholdCents = t.FreeThresholdCents()
	}
	return q, nil
}

// price takes a self-healing snapshot and computes shipping then tax, so a
// calculator that taxes shipping sees the final shipping cost.
func (s *checkoutService) price(ctx context.Context, op string, owner domain.CartOwner) (*pricedCart, error) {
	snapshot, err := s.cart.Snapshot(ctx, owner)
	if err != nil {
		return nil, err
	}
	if snapshot.IsEmpty() {
		return nil, domain.EmptyCart(op, snapshot.RemovedItems)
	}

	rates, err := s.shipping.GetRates(ctx, shipping.RateParams{
		SubtotalCents: snapshot.SubtotalCents,
		ItemCount:     snapshot.TotalItems,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to calculate shipping")
	}
	rate, err := shipping.Cheapest(rates)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to calculate shipping")
	}

	lineItems := make([]tax.LineItem, len(snapshot.Items))
	for i, it := range snapshot.Items {
		lineItems[i] = tax.LineItem{
			ProductID:      it.ProductID,
			Description:    it.Title,
			Quantity:       it.Quantity,
			UnitPriceCents: it.PriceCents,
			TotalCents:     it.LineTotalCents,
		}
	}
	taxResult, err := s.tax.CalculateTax(ctx, tax.TaxParams{
		LineItems:     lineItems,
		SubtotalCents: snapshot.SubtotalCents,
		ShippingCents: rate.CostCents,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to calculate tax")
	}

	return &pricedCart{
		snapshot:      snapshot,
		taxCents:      taxResult.TotalTaxCents,
		shippingCents: rate.CostCents,
		freeShipping:  rate.Free,
	}, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, owner domain.CartOwner, submittedTotal string) (*domain.CheckoutResult, error) {
	const op = "checkout.PlaceOrder"

	customerID, err := requireCustomer(op, owner)
	if err != nil {
		telemetry.Business.CheckoutAttempts.WithLabelValues("unauthenticated").Inc()
		return nil, err
	}

	submittedCents, err := domain.ParseAmount(submittedTotal)
	if err != nil || submittedCents < 0 {
		telemetry.Business.CheckoutAttempts.WithLabelValues("invalid").Inc()
		return nil, domain.NewValidationError(op, "total_amount", "must be a non-negative decimal amount")
	}

	priced, err := s.price(ctx, op, owner)
	if err != nil {
		outcome := "error"
		if domain.ErrorType(err) == domain.TypeEmptyCart {
			outcome = "empty_cart"
		}
		telemetry.Business.CheckoutAttempts.WithLabelValues(outcome).Inc()
		return nil, err
	}

	expected := priced.totalCents()
	if abs64(expected-submittedCents) > s.settings.TotalToleranceCents {
		telemetry.Business.CheckoutAttempts.WithLabelValues("total_mismatch").Inc()
		telemetry.Business.TotalMismatches.Inc()
		s.logger.Info("checkout total mismatch",
			"customer_id", customerID,
			"expected_cents", expected,
			"submitted_cents", submittedCents,
		)
		return nil, domain.TotalMismatch(op, map[string]any{
			"expected_total":  domain.FormatCents(expected),
			"submitted_total": domain.FormatCents(submittedCents),
			"subtotal":        domain.FormatCents(priced.snapshot.SubtotalCents),
			"tax":             domain.FormatCents(priced.taxCents),
			"shipping":        domain.FormatCents(priced.shippingCents),
		})
	}

	order, attempts, err := s.persist(ctx, op, customerID, priced)
	if err != nil {
		telemetry.Business.CheckoutAttempts.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &domain.CheckoutResult{
		Order:           order,
		CartEmptied:     true,
		InvoiceAttempts: attempts,
		RemovedItems:    priced.snapshot.RemovedItems,
	}

	ordered := priced.snapshot.OrderedLines()
	if _, err := s.cart.ClearOrdered(ctx, owner, ordered); err != nil {
		result.CartEmptied = false
		result.Warning = cartEmptyWarning
		s.deferCartEmpty(ctx, owner, ordered, order, err)
	}

	s.publish(ctx, order)

	telemetry.Business.CheckoutAttempts.WithLabelValues("ok").Inc()
	telemetry.Business.OrdersCreated.WithLabelValues(order.Currency).Inc()
	telemetry.Business.OrderValue.WithLabelValues(order.Currency).Observe(float64(order.TotalCents))

	s.logger.Info("order created",
		"order_id", order.ID,
		"invoice_no", order.InvoiceNo,
		"customer_id", customerID,
		"total_cents", order.TotalCents,
		"lines", len(order.Lines),
		"cart_emptied", result.CartEmptied,
	)
	return result, nil
}

// persist writes the order and its frozen lines in one transaction. An
// invoice collision with another process rolls back and retries with a new
// number until the generator's attempts are spent.
func (s *checkoutService) persist(ctx context.Context, op string, customerID int64, priced *pricedCart) (*domain.Order, int, error) {
	orderDate := s.now().UTC()
	totalAttempts := 0

	for collisions := 0; ; collisions++ {
		invoiceNo, attempts, err := s.invoices.GenerateUnique(ctx)
		totalAttempts += attempts
		if err != nil {
			return nil, totalAttempts, err
		}

		order, err := s.createOrder(ctx, customerID, invoiceNo, orderDate, priced)
		s.invoices.Release(invoiceNo)
		if err == nil {
			return order, totalAttempts, nil
		}

		if !repository.IsUniqueViolation(err, invoiceConstraint) {
			return nil, totalAttempts, storeErr(err, op, "Failed to create order")
		}
		s.logger.Warn("invoice number collided at insert, retrying",
			"invoice_no", invoiceNo,
			"attempts", totalAttempts,
		)
		if collisions+1 >= maxInvoiceCollisions {
			return nil, totalAttempts, domain.GenerationFailed(err, op, totalAttempts)
		}
	}
}

func (s *checkoutService) createOrder(ctx context.Context, customerID int64, invoiceNo string, orderDate time.Time, priced *pricedCart) (*domain.Order, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		row   repository.Order
		lines []repository.OrderLine
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		row, err = q.CreateOrder(ctx, repository.CreateOrderParams{
			CustomerID:    customerID,
			InvoiceNo:     invoiceNo,
			Status:        string(domain.OrderStatusPending),
			Currency:      s.settings.Currency,
			SubtotalCents: priced.snapshot.SubtotalCents,
			TaxCents:      priced.taxCents,
			ShippingCents: priced.shippingCents,
			TotalCents:    priced.totalCents(),
			OrderDate:     pgtype.Timestamptz{Time: orderDate, Valid: true},
		})
		if err != nil {
			return err
		}

		lines = make([]repository.OrderLine, 0, len(priced.snapshot.Items))
		for _, it := range priced.snapshot.Items {
			line, err := q.CreateOrderLine(ctx, repository.CreateOrderLineParams{
				OrderID:        row.ID,
				ProductID:      it.ProductID,
				Title:          it.Title,
				UnitPriceCents: it.PriceCents,
				Quantity:       int32(it.Quantity),
				LineTotalCents: it.LineTotalCents,
			})
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toDomainOrder(row, lines), nil
}

// deferCartEmpty queues a compensating job after an inline empty failed.
// The order is already committed, so nothing here is returned to the caller.
func (s *checkoutService) deferCartEmpty(ctx context.Context, owner domain.CartOwner, ordered domain.OrderedLines, order *domain.Order, cause error) {
	telemetry.Business.CartEmptyDeferred.Inc()
	s.logger.Warn("failed to empty cart after order, deferring",
		"order_id", order.ID,
		"invoice_no", order.InvoiceNo,
		"error", cause,
	)

	enqueueCtx, cancel := withTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := jobs.EnqueueEmptyCart(enqueueCtx, s.store, owner, ordered, order.ID, order.InvoiceNo); err != nil {
		s.logger.Error("failed to enqueue cart empty job",
			"order_id", order.ID,
			"invoice_no", order.InvoiceNo,
			"error", err,
		)
		telemetry.CaptureError(ctx, errors.Join(cause, err), map[string]interface{}{
			"order_id":   order.ID,
			"invoice_no": order.InvoiceNo,
		})
	}
}

func (s *checkoutService) publish(ctx context.Context, order *domain.Order) {
	env, err := events.OrderCreatedEvent(order)
	if err == nil {
		err = s.publisher.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Warn("failed to publish order event",
			"order_id", order.ID,
			"event", events.TypeOrderCreated,
			"error", err,
		)
	}
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
