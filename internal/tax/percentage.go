package tax

import (
	"context"

	"github.com/shopspring/decimal"
)

// PercentageCalculator calculates tax using a single flat rate.
type PercentageCalculator struct {
	rate        decimal.Decimal // e.g., 0.08 for 8%
	taxShipping bool
}

// NewPercentageCalculator creates a new percentage-based tax calculator.
// When taxShipping is set the shipping charge is part of the taxable base.
func NewPercentageCalculator(rate decimal.Decimal, taxShipping bool) (*PercentageCalculator, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, ErrInvalidTaxRate
	}
	return &PercentageCalculator{rate: rate, taxShipping: taxShipping}, nil
}

// Rate returns the configured rate.
func (c *PercentageCalculator) Rate() decimal.Decimal {
	return c.rate
}

// CalculateTax computes round_half_up(taxable × rate) in cents.
func (c *PercentageCalculator) CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error) {
	if params.SubtotalCents < 0 || params.ShippingCents < 0 {
		return nil, ErrNegativeAmount
	}

	taxable := params.SubtotalCents
	if c.taxShipping {
		taxable += params.ShippingCents
	}

	// Amounts are non-negative so Round (half away from zero) is half up.
	amount := decimal.NewFromInt(taxable).Mul(c.rate).Round(0).IntPart()

	return &TaxResult{
		TotalTaxCents: amount,
		TaxableCents:  taxable,
		Breakdown: []TaxBreakdown{
			{
				Jurisdiction: "state",
				Name:         "Default Sales Tax",
				Rate:         c.rate.String(),
				AmountCents:  amount,
			},
		},
	}, nil
}

var _ Calculator = (*PercentageCalculator)(nil)
