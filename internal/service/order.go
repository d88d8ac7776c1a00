package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/events"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
)

// Pagination bounds for ListOrders.
const (
	DefaultOrderPageSize = 20
	MaxOrderPageSize     = 100
)

// OrderList is one page of a customer's orders.
type OrderList struct {
	Orders []*domain.Order `json:"orders"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// OrderService provides business logic for order operations
type OrderService interface {
	// GetOrder returns an order owned by customerID. Orders of other
	// customers are reported as not found.
	GetOrder(ctx context.Context, customerID, orderID int64) (*domain.Order, error)

	// GetOrderByInvoice looks an order up by its invoice number.
	GetOrderByInvoice(ctx context.Context, customerID int64, invoiceNo string) (*domain.Order, error)

	// ListOrders returns the customer's orders, newest first.
	ListOrders(ctx context.Context, customerID int64, limit, offset int) (*OrderList, error)

	// UpdateStatus moves an order along its lifecycle.
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error)

	// SimulatePayment confirms (succeeded) or cancels (failed) a pending order.
	SimulatePayment(ctx context.Context, customerID, orderID int64, outcome domain.PaymentOutcome) (*domain.Order, error)
}

type orderService struct {
	store     repository.Store
	publisher events.Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

// NewOrderService creates a new OrderService instance
func NewOrderService(store repository.Store, publisher events.Publisher, timeout time.Duration, logger *slog.Logger) OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &orderService{
		store:     store,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}
}

func requireCustomerID(op string, customerID int64) error {
	if customerID <= 0 {
		return domain.AuthenticationRequired(op, "Please log in to view your orders")
	}
	return nil
}

func (s *orderService) GetOrder(ctx context.Context, customerID, orderID int64) (*domain.Order, error) {
	const op = "order.GetOrder"

	if err := requireCustomerID(op, customerID); err != nil {
		return nil, err
	}
	if orderID <= 0 {
		return nil, domain.NewValidationError(op, "order_id", "must be a positive integer")
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row, err := s.store.GetOrderForCustomer(ctx, repository.GetOrderForCustomerParams{
		ID:         orderID,
		CustomerID: customerID,
	})
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound(op, "order", strconv.FormatInt(orderID, 10))
		}
		return nil, storeErr(err, op, "Failed to load order")
	}
	return s.withLines(ctx, op, row)
}

func (s *orderService) GetOrderByInvoice(ctx context.Context, customerID int64, invoiceNo string) (*domain.Order, error) {
	const op = "order.GetOrderByInvoice"

	if err := requireCustomerID(op, customerID); err != nil {
		return nil, err
	}
	if invoiceNo == "" {
		return nil, domain.NewValidationError(op, "invoice_no", "is required")
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row, err := s.store.GetOrderByInvoiceForCustomer(ctx, repository.GetOrderByInvoiceForCustomerParams{
		InvoiceNo:  invoiceNo,
		CustomerID: customerID,
	})
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound(op, "order", invoiceNo)
		}
		return nil, storeErr(err, op, "Failed to load order")
	}
	return s.withLines(ctx, op, row)
}

func (s *orderService) ListOrders(ctx context.Context, customerID int64, limit, offset int) (*OrderList, error) {
	const op = "order.ListOrders"

	if err := requireCustomerID(op, customerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultOrderPageSize
	}
	if limit > MaxOrderPageSize {
		limit = MaxOrderPageSize
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.store.ListOrdersForCustomer(ctx, repository.ListOrdersForCustomerParams{
		CustomerID: customerID,
		Limit:      int32(limit),
		Offset:     int32(offset),
	})
	if err != nil {
		return nil, storeErr(err, op, "Failed to list orders")
	}
	total, err := s.store.CountOrdersForCustomer(ctx, customerID)
	if err != nil {
		return nil, storeErr(err, op, "Failed to count orders")
	}

	list := &OrderList{
		Orders: make([]*domain.Order, 0, len(rows)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, row := range rows {
		o, err := s.withLines(ctx, op, row)
		if err != nil {
			return nil, err
		}
		list.Orders = append(list.Orders, o)
	}
	return list, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error) {
	const op = "order.UpdateStatus"

	if orderID <= 0 {
		return nil, domain.NewValidationError(op, "order_id", "must be a positive integer")
	}
	if !status.Valid() {
		return nil, domain.NewValidationError(op, "status", "unknown order status")
	}
	return s.transition(ctx, op, orderID, 0, status)
}

func (s *orderService) SimulatePayment(ctx context.Context, customerID, orderID int64, outcome domain.PaymentOutcome) (*domain.Order, error) {
	const op = "order.SimulatePayment"

	if err := requireCustomerID(op, customerID); err != nil {
		return nil, err
	}

	var next domain.OrderStatus
	switch outcome {
	case domain.PaymentSucceeded:
		next = domain.OrderStatusConfirmed
	case domain.PaymentFailed:
		next = domain.OrderStatusCancelled
	default:
		return nil, domain.NewValidationError(op, "outcome", "must be succeeded or failed")
	}
	return s.transition(ctx, op, orderID, customerID, next)
}

// transition locks the order row, checks the lifecycle and writes the new
// status. A non-zero customerID restricts the change to that customer's
// orders.
func (s *orderService) transition(ctx context.Context, op string, orderID, customerID int64, next domain.OrderStatus) (*domain.Order, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		from    domain.OrderStatus
		updated repository.Order
		lines   []repository.OrderLine
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		current, err := q.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			if repository.IsNotFound(err) {
				return domain.NotFound(op, "order", strconv.FormatInt(orderID, 10))
			}
			return err
		}
		if customerID != 0 && current.CustomerID != customerID {
			return domain.NotFound(op, "order", strconv.FormatInt(orderID, 10))
		}

		from = domain.OrderStatus(current.Status)
		if !from.CanTransitionTo(next) {
			return domain.InvalidStatusTransition(op, from, next)
		}

		updated, err = q.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{
			ID:     orderID,
			Status: string(next),
		})
		if err != nil {
			return err
		}
		lines, err = q.ListOrderLines(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, storeErr(err, op, "Failed to update order status")
	}

	order := toDomainOrder(updated, lines)
	telemetry.Business.OrderStatusChanges.WithLabelValues(string(from), string(next)).Inc()
	s.logger.Info("order status changed",
		"order_id", order.ID,
		"invoice_no", order.InvoiceNo,
		"from", from,
		"to", next,
	)

	env, err := events.OrderStatusChangedEvent(order, from)
	if err == nil {
		err = s.publisher.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Warn("failed to publish order event",
			"order_id", order.ID,
			"event", events.TypeOrderStatusChanged,
			"error", err,
		)
	}
	return order, nil
}

func (s *orderService) withLines(ctx context.Context, op string, row repository.Order) (*domain.Order, error) {
	lines, err := s.store.ListOrderLines(ctx, row.ID)
	if err != nil {
		return nil, storeErr(err, op, "Failed to load order lines")
	}
	return toDomainOrder(row, lines), nil
}

func toDomainOrder(row repository.Order, lines []repository.OrderLine) *domain.Order {
	o := &domain.Order{
		ID:            row.ID,
		CustomerID:    row.CustomerID,
		InvoiceNo:     row.InvoiceNo,
		Status:        domain.OrderStatus(row.Status),
		Currency:      row.Currency,
		SubtotalCents: row.SubtotalCents,
		TaxCents:      row.TaxCents,
		ShippingCents: row.ShippingCents,
		TotalCents:    row.TotalCents,
		Total:         domain.FormatCents(row.TotalCents),
		OrderDate:     row.OrderDate.Time,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
		Lines:         make([]domain.OrderLine, len(lines)),
	}
	for i, l := range lines {
		o.Lines[i] = domain.OrderLine{
			ProductID:      l.ProductID,
			Title:          l.Title,
			UnitPriceCents: l.UnitPriceCents,
			Quantity:       int(l.Quantity),
			LineTotalCents: l.LineTotalCents,
		}
	}
	return o
}
