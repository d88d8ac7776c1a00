package tax

import "context"

// NoTaxCalculator returns zero tax for all calculations.
// Selected when TAX_RATE is zero.
type NoTaxCalculator struct{}

// NewNoTaxCalculator creates a new no-tax calculator.
func NewNoTaxCalculator() *NoTaxCalculator {
	return &NoTaxCalculator{}
}

// CalculateTax always returns zero tax.
func (c *NoTaxCalculator) CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error) {
	if params.SubtotalCents < 0 || params.ShippingCents < 0 {
		return nil, ErrNegativeAmount
	}
	return &TaxResult{TotalTaxCents: 0, Breakdown: []TaxBreakdown{}}, nil
}

var _ Calculator = (*NoTaxCalculator)(nil)
