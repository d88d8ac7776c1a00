package shipping

import (
	"context"
)

// FlatRateProvider returns predefined flat-rate shipping options. Orders
// whose subtotal reaches FreeThresholdCents ship free on every option.
type FlatRateProvider struct {
	rates              []FlatRate
	freeThresholdCents int64
}

// FlatRate defines a single flat-rate shipping option.
type FlatRate struct {
	ServiceName string
	ServiceCode string
	CostCents   int64
	DaysMin     int
	DaysMax     int
}

// NewFlatRateProvider creates a new flat-rate shipping provider.
// A zero freeThresholdCents disables free shipping.
func NewFlatRateProvider(rates []FlatRate, freeThresholdCents int64) *FlatRateProvider {
	return &FlatRateProvider{rates: rates, freeThresholdCents: freeThresholdCents}
}

// NewStandardProvider is the single "Standard Shipping" option used by checkout.
func NewStandardProvider(flatFeeCents, freeThresholdCents int64) *FlatRateProvider {
	return NewFlatRateProvider([]FlatRate{
		{
			ServiceName: "Standard Shipping",
			ServiceCode: "STD",
			CostCents:   flatFeeCents,
			DaysMin:     3,
			DaysMax:     5,
		},
	}, freeThresholdCents)
}

// FreeThresholdCents returns the subtotal at which shipping becomes free.
func (p *FlatRateProvider) FreeThresholdCents() int64 {
	return p.freeThresholdCents
}

// GetRates converts flat rates to Rate objects.
func (p *FlatRateProvider) GetRates(ctx context.Context, params RateParams) ([]Rate, error) {
	if params.SubtotalCents < 0 {
		return nil, ErrInvalidSubtotal
	}
	if len(p.rates) == 0 {
		return nil, ErrNoRates
	}

	free := p.freeThresholdCents > 0 && params.SubtotalCents >= p.freeThresholdCents

	result := make([]Rate, len(p.rates))
	for i, fr := range p.rates {
		cost := fr.CostCents
		if free {
			cost = 0
		}
		result[i] = Rate{
			RateID:           fr.ServiceCode,
			Carrier:          "Flat Rate",
			ServiceName:      fr.ServiceName,
			ServiceCode:      fr.ServiceCode,
			CostCents:        cost,
			EstimatedDaysMin: fr.DaysMin,
			EstimatedDaysMax: fr.DaysMax,
			Free:             free,
		}
	}
	return result, nil
}

var _ Provider = (*FlatRateProvider)(nil)
