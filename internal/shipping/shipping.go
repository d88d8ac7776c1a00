package shipping

import (
	"context"
)

// Provider defines the interface for shipping rate lookup.
type Provider interface {
	// GetRates returns available shipping options for an order, cheapest first.
	GetRates(ctx context.Context, params RateParams) ([]Rate, error)
}

// RateParams contains parameters for calculating shipping rates.
type RateParams struct {
	SubtotalCents int64
	ItemCount     int
}

// Rate represents a shipping rate option.
type Rate struct {
	RateID           string
	Carrier          string
	ServiceName      string
	ServiceCode      string
	CostCents        int64
	EstimatedDaysMin int
	EstimatedDaysMax int

	// Free reports that the cost was waived by the free shipping threshold.
	Free bool
}

// Cheapest returns the lowest-cost rate, or ErrNoRates.
func Cheapest(rates []Rate) (Rate, error) {
	if len(rates) == 0 {
		return Rate{}, ErrNoRates
	}
	best := rates[0]
	for _, r := range rates[1:] {
		if r.CostCents < best.CostCents {
			best = r
		}
	}
	return best, nil
}
