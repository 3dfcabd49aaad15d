package external

import (
	"github.com/shopspring/decimal"
)

// RateProvider resolves the exchange rate of a currency against the
// settlement base (USD).
type RateProvider interface {
	GetRate(currency string) decimal.Decimal
}

type staticRateProvider struct {
	rates map[string]decimal.Decimal
}

// NewStaticRateProvider returns a RateProvider backed by a fixed table.
// Unknown currencies resolve to 1.0.
func NewStaticRateProvider() RateProvider {
	return &staticRateProvider{
		rates: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1),
			"EUR": decimal.NewFromFloat(1.09),
			"GBP": decimal.NewFromFloat(1.27),
			"JPY": decimal.NewFromFloat(0.0067),
			"CHF": decimal.NewFromFloat(1.13),
			"CAD": decimal.NewFromFloat(0.74),
			"AUD": decimal.NewFromFloat(0.66),
		},
	}
}

func (p *staticRateProvider) GetRate(currency string) decimal.Decimal {
	if rate, ok := p.rates[currency]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}
