package fee

import (
	"github.com/shopspring/decimal"

	"payments-api/internal/config"
)

// Calculator computes per-transaction fees from tiered percentage/min/max
// rules. It is pure: same amount in, same fee out.
type Calculator struct {
	rate   decimal.Decimal
	minFee decimal.Decimal
	maxFee decimal.Decimal
}

func NewCalculator(cfg config.EngineConfig) *Calculator {
	return &Calculator{
		rate:   decimal.NewFromFloat(cfg.FeeRate),
		minFee: decimal.NewFromFloat(cfg.MinFee),
		maxFee: decimal.NewFromFloat(cfg.MaxFee),
	}
}

// Fee returns clamp(amount * rate, minFee, maxFee), rounded to cents.
func (c *Calculator) Fee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(c.rate).Round(2)
	if fee.LessThan(c.minFee) {
		return c.minFee
	}
	if fee.GreaterThan(c.maxFee) {
		return c.maxFee
	}
	return fee
}
