// Package events publishes order lifecycle events to a message bus.
// Publishing is best effort: callers log failures and carry on, the order
// row in postgres is the source of truth.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
	"github.com/google/uuid"
)

// Event type names.
const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
)

// Envelope is the wire format of every event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// OrderCreated is published after an order commits.
type OrderCreated struct {
	OrderID    int64  `json:"order_id"`
	InvoiceNo  string `json:"invoice_no"`
	CustomerID int64  `json:"customer_id"`
	TotalCents int64  `json:"total_cents"`
	Currency   string `json:"currency"`
	LineCount  int    `json:"line_count"`
}

// OrderStatusChanged is published after a status transition commits.
type OrderStatusChanged struct {
	OrderID   int64              `json:"order_id"`
	InvoiceNo string             `json:"invoice_no"`
	From      domain.OrderStatus `json:"from"`
	To        domain.OrderStatus `json:"to"`
}

// Publisher delivers envelopes to a bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// NewEnvelope marshals data into an envelope keyed by key. The key selects
// the kafka partition so events for one order stay ordered.
func NewEnvelope(eventType, key string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// OrderCreatedEvent builds the order.created envelope for o.
func OrderCreatedEvent(o *domain.Order) (Envelope, error) {
	return NewEnvelope(TypeOrderCreated, o.InvoiceNo, OrderCreated{
		OrderID:    o.ID,
		InvoiceNo:  o.InvoiceNo,
		CustomerID: o.CustomerID,
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
		LineCount:  len(o.Lines),
	})
}

// OrderStatusChangedEvent builds the order.status_changed envelope.
func OrderStatusChangedEvent(o *domain.Order, from domain.OrderStatus) (Envelope, error) {
	return NewEnvelope(TypeOrderStatusChanged, o.InvoiceNo, OrderStatusChanged{
		OrderID:   o.ID,
		InvoiceNo: o.InvoiceNo,
		From:      from,
		To:        o.Status,
	})
}

func record(eventType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.Business.EventsPublished.WithLabelValues(eventType, outcome).Inc()
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Envelope) error { return nil }
func (NopPublisher) Close() error                            { return nil }

var _ Publisher = NopPublisher{}
