package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, customer_id, invoice_no, status, currency, subtotal_cents, tax_cents, shipping_cents, total_cents, order_date, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.CustomerID,
		&i.InvoiceNo,
		&i.Status,
		&i.Currency,
		&i.SubtotalCents,
		&i.TaxCents,
		&i.ShippingCents,
		&i.TotalCents,
		&i.OrderDate,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const invoiceNumberExists = `-- name: InvoiceNumberExists :one
SELECT EXISTS (SELECT 1 FROM orders WHERE invoice_no = $1)
`

func (q *Queries) InvoiceNumberExists(ctx context.Context, invoiceNo string) (bool, error) {
	row := q.db.QueryRow(ctx, invoiceNumberExists, invoiceNo)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    customer_id, invoice_no, status, currency,
    subtotal_cents, tax_cents, shipping_cents, total_cents, order_date
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	CustomerID    int64              `json:"customer_id"`
	InvoiceNo     string             `json:"invoice_no"`
	Status        string             `json:"status"`
	Currency      string             `json:"currency"`
	SubtotalCents int64              `json:"subtotal_cents"`
	TaxCents      int64              `json:"tax_cents"`
	ShippingCents int64              `json:"shipping_cents"`
	TotalCents    int64              `json:"total_cents"`
	OrderDate     pgtype.Timestamptz `json:"order_date"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.CustomerID,
		arg.InvoiceNo,
		arg.Status,
		arg.Currency,
		arg.SubtotalCents,
		arg.TaxCents,
		arg.ShippingCents,
		arg.TotalCents,
		arg.OrderDate,
	)
	return scanOrder(row)
}

const createOrderLine = `-- name: CreateOrderLine :one
INSERT INTO order_lines (order_id, product_id, title, unit_price_cents, quantity, line_total_cents)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, order_id, product_id, title, unit_price_cents, quantity, line_total_cents
`

type CreateOrderLineParams struct {
	OrderID        int64  `json:"order_id"`
	ProductID      int64  `json:"product_id"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int32  `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

func (q *Queries) CreateOrderLine(ctx context.Context, arg CreateOrderLineParams) (OrderLine, error) {
	row := q.db.QueryRow(ctx, createOrderLine,
		arg.OrderID,
		arg.ProductID,
		arg.Title,
		arg.UnitPriceCents,
		arg.Quantity,
		arg.LineTotalCents,
	)
	var i OrderLine
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.ProductID,
		&i.Title,
		&i.UnitPriceCents,
		&i.Quantity,
		&i.LineTotalCents,
	)
	return i, err
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
`

func (q *Queries) GetOrder(ctx context.Context, id int64) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderForUpdate = `-- name: GetOrderForUpdate :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

const getOrderForCustomer = `-- name: GetOrderForCustomer :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1 AND customer_id = $2
`

type GetOrderForCustomerParams struct {
	ID         int64 `json:"id"`
	CustomerID int64 `json:"customer_id"`
}

func (q *Queries) GetOrderForCustomer(ctx context.Context, arg GetOrderForCustomerParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForCustomer, arg.ID, arg.CustomerID))
}

const getOrderByInvoiceForCustomer = `-- name: GetOrderByInvoiceForCustomer :one
SELECT ` + orderColumns + `
FROM orders
WHERE invoice_no = $1 AND customer_id = $2
`

type GetOrderByInvoiceForCustomerParams struct {
	InvoiceNo  string `json:"invoice_no"`
	CustomerID int64  `json:"customer_id"`
}

func (q *Queries) GetOrderByInvoiceForCustomer(ctx context.Context, arg GetOrderByInvoiceForCustomerParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByInvoiceForCustomer, arg.InvoiceNo, arg.CustomerID))
}

const listOrdersForCustomer = `-- name: ListOrdersForCustomer :many
SELECT ` + orderColumns + `
FROM orders
WHERE customer_id = $1
ORDER BY order_date DESC, id DESC
LIMIT $2 OFFSET $3
`

type ListOrdersForCustomerParams struct {
	CustomerID int64 `json:"customer_id"`
	Limit      int32 `json:"limit"`
	Offset     int32 `json:"offset"`
}

func (q *Queries) ListOrdersForCustomer(ctx context.Context, arg ListOrdersForCustomerParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrdersForCustomer, arg.CustomerID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		i, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countOrdersForCustomer = `-- name: CountOrdersForCustomer :one
SELECT count(*) FROM orders WHERE customer_id = $1
`

func (q *Queries) CountOrdersForCustomer(ctx context.Context, customerID int64) (int64, error) {
	row := q.db.QueryRow(ctx, countOrdersForCustomer, customerID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const listOrderLines = `-- name: ListOrderLines :many
SELECT id, order_id, product_id, title, unit_price_cents, quantity, line_total_cents
FROM order_lines
WHERE order_id = $1
ORDER BY id
`

func (q *Queries) ListOrderLines(ctx context.Context, orderID int64) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, listOrderLines, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderLine
	for rows.Next() {
		var i OrderLine
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.ProductID,
			&i.Title,
			&i.UnitPriceCents,
			&i.Quantity,
			&i.LineTotalCents,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateOrderStatus = `-- name: UpdateOrderStatus :one
UPDATE orders
SET status = $2, updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderStatusParams struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.Status))
}
