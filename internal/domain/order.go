package domain

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether an order in status s may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is a frozen financial record. Its lines never follow later catalog
// price changes and only Status is ever mutated.
type Order struct {
	ID            int64       `json:"id"`
	CustomerID    int64       `json:"customer_id"`
	InvoiceNo     string      `json:"invoice_no"`
	Status        OrderStatus `json:"status"`
	Currency      string      `json:"currency"`
	SubtotalCents int64       `json:"subtotal_cents"`
	TaxCents      int64       `json:"tax_cents"`
	ShippingCents int64       `json:"shipping_cents"`
	TotalCents    int64       `json:"total_cents"`
	Total         string      `json:"total"`
	OrderDate     time.Time   `json:"order_date"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Lines         []OrderLine `json:"lines"`
}

// OrderLine is an immutable copy of a cart line at purchase time.
type OrderLine struct {
	ProductID      int64  `json:"product_id"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// OrderQuote is the server-side price breakdown for a cart.
type OrderQuote struct {
	Items                      []CartItem `json:"items"`
	RemovedItems               int        `json:"removed_items"`
	SubtotalCents              int64      `json:"subtotal_cents"`
	TaxCents                   int64      `json:"tax_cents"`
	ShippingCents              int64      `json:"shipping_cents"`
	TotalCents                 int64      `json:"total_cents"`
	Subtotal                   string     `json:"subtotal"`
	Tax                        string     `json:"tax"`
	Shipping                   string     `json:"shipping"`
	Total                      string     `json:"total"`
	Currency                   string     `json:"currency"`
	FreeShippingThresholdCents int64      `json:"free_shipping_threshold_cents"`
	FreeShipping               bool       `json:"free_shipping"`
}

// CheckoutResult is returned by a successful checkout. CartEmptied is
// false when the order was created but the cart could not be cleared; the
// order stands and emptying is retried in the background.
type CheckoutResult struct {
	Order           *Order `json:"order"`
	CartEmptied     bool   `json:"cart_emptied"`
	Warning         string `json:"warning,omitempty"`
	InvoiceAttempts int    `json:"invoice_attempts"`
	RemovedItems    int    `json:"removed_items"`

	// Replayed is set when an idempotency key matched an earlier checkout
	// and Order is that checkout's order.
	Replayed bool `json:"replayed,omitempty"`
}

// PaymentOutcome is the simulated result of a payment attempt.
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	PaymentFailed    PaymentOutcome = "failed"
)
