package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type CartLine struct {
	OwnerKind string             `json:"owner_kind"`
	OwnerRef  string             `json:"owner_ref"`
	ProductID int64              `json:"product_id"`
	Quantity  int32              `json:"quantity"`
	AddedAt   pgtype.Timestamptz `json:"added_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type Job struct {
	ID             pgtype.UUID        `json:"id"`
	JobType        string             `json:"job_type"`
	Queue          string             `json:"queue"`
	Status         string             `json:"status"`
	Payload        []byte             `json:"payload"`
	Priority       int32              `json:"priority"`
	RetryCount     int32              `json:"retry_count"`
	MaxRetries     int32              `json:"max_retries"`
	TimeoutSeconds int32              `json:"timeout_seconds"`
	ScheduledAt    pgtype.Timestamptz `json:"scheduled_at"`
	StartedAt      pgtype.Timestamptz `json:"started_at"`
	CompletedAt    pgtype.Timestamptz `json:"completed_at"`
	WorkerID       pgtype.Text        `json:"worker_id"`
	ErrorMessage   pgtype.Text        `json:"error_message"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
}

type Order struct {
	ID            int64              `json:"id"`
	CustomerID    int64              `json:"customer_id"`
	InvoiceNo     string             `json:"invoice_no"`
	Status        string             `json:"status"`
	Currency      string             `json:"currency"`
	SubtotalCents int64              `json:"subtotal_cents"`
	TaxCents      int64              `json:"tax_cents"`
	ShippingCents int64              `json:"shipping_cents"`
	TotalCents    int64              `json:"total_cents"`
	OrderDate     pgtype.Timestamptz `json:"order_date"`
	CreatedAt     pgtype.Timestamptz `json:"created_at"`
	UpdatedAt     pgtype.Timestamptz `json:"updated_at"`
}

type OrderLine struct {
	ID             int64  `json:"id"`
	OrderID        int64  `json:"order_id"`
	ProductID      int64  `json:"product_id"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int32  `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type Product struct {
	ID         int64              `json:"id"`
	Title      string             `json:"title"`
	PriceCents int64              `json:"price_cents"`
	Active     bool               `json:"active"`
	CreatedAt  pgtype.Timestamptz `json:"created_at"`
	UpdatedAt  pgtype.Timestamptz `json:"updated_at"`
}
