package tax

import (
	"context"
)

// Calculator defines the interface for tax calculation.
// Implementations: PercentageCalculator, NoTaxCalculator
type Calculator interface {
	// CalculateTax computes tax for order line items and shipping.
	// Returns tax amount in cents.
	CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error)
}

// TaxParams contains all information needed for tax calculation.
type TaxParams struct {
	LineItems     []LineItem
	SubtotalCents int64
	ShippingCents int64
}

// LineItem represents a single item being taxed.
type LineItem struct {
	ProductID      int64
	Description    string
	Quantity       int
	UnitPriceCents int64
	TotalCents     int64
}

// TaxResult contains the calculated tax amount and breakdown.
type TaxResult struct {
	TotalTaxCents int64
	TaxableCents  int64
	Breakdown     []TaxBreakdown
	IsEstimate    bool
}

// TaxBreakdown represents tax for a single jurisdiction.
type TaxBreakdown struct {
	Jurisdiction string // "state", "county", "city"
	Name         string
	Rate         string // decimal rate, e.g. "0.08"
	AmountCents  int64
}
