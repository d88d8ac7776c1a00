package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	ClaimNextJob(ctx context.Context, arg ClaimNextJobParams) (Job, error)
	CompleteJob(ctx context.Context, id pgtype.UUID) error
	CountOrdersForCustomer(ctx context.Context, customerID int64) (int64, error)
	CountPendingJobsByType(ctx context.Context, jobType string) (int64, error)
	CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error)
	CreateOrderLine(ctx context.Context, arg CreateOrderLineParams) (OrderLine, error)
	DeleteCartLine(ctx context.Context, arg DeleteCartLineParams) (int64, error)
	DeleteCartLinesByOwner(ctx context.Context, arg DeleteCartLinesByOwnerParams) (int64, error)
	DeleteCartLinesForOrder(ctx context.Context, arg DeleteCartLinesForOrderParams) (int64, error)
	DeleteExpiredGuestCartLines(ctx context.Context, cutoff pgtype.Timestamptz) (DeleteExpiredGuestCartLinesRow, error)
	EnqueueJob(ctx context.Context, arg EnqueueJobParams) (Job, error)
	FailJob(ctx context.Context, arg FailJobParams) (Job, error)
	GetActiveProduct(ctx context.Context, id int64) (Product, error)
	GetGuestCartStats(ctx context.Context) (GetGuestCartStatsRow, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	GetOrderByInvoiceForCustomer(ctx context.Context, arg GetOrderByInvoiceForCustomerParams) (Order, error)
	GetOrderForCustomer(ctx context.Context, arg GetOrderForCustomerParams) (Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	InvoiceNumberExists(ctx context.Context, invoiceNo string) (bool, error)
	ListActiveProductsByIDs(ctx context.Context, ids []int64) ([]Product, error)
	ListCartLinesByOwner(ctx context.Context, arg ListCartLinesByOwnerParams) ([]CartLine, error)
	ListOrderLines(ctx context.Context, orderID int64) ([]OrderLine, error)
	ListOrdersForCustomer(ctx context.Context, arg ListOrdersForCustomerParams) ([]Order, error)
	MergeCartLine(ctx context.Context, arg MergeCartLineParams) (UpsertCartLineRow, error)
	ProductExists(ctx context.Context, id int64) (bool, error)
	UpdateCartLineQuantity(ctx context.Context, arg UpdateCartLineQuantityParams) (CartLine, error)
	UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error)
	UpsertCartLine(ctx context.Context, arg UpsertCartLineParams) (UpsertCartLineRow, error)
}

var _ Querier = (*Queries)(nil)
