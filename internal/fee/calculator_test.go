package fee

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"payments-api/internal/config"
)

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		FeeRate: 0.029,
		MinFee:  0.30,
		MaxFee:  2.99,
	}
}

func TestFee(t *testing.T) {
	calc := NewCalculator(testConfig())

	tests := []struct {
		name     string
		amount   string
		expected string
	}{
		{"percentage within band", "50.00", "1.45"},
		{"minimum applies to small amounts", "1.00", "0.3"},
		{"minimum applies at zero-rounding boundary", "0.10", "0.3"},
		{"maximum caps large amounts", "1000.00", "2.99"},
		{"exactly at maximum", "103.10", "2.99"},
		{"rounds to cents", "10.31", "0.3"},
		{"mid-range amount", "75.50", "2.19"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			fee := calc.Fee(amount)
			assert.True(t, decimal.RequireFromString(tt.expected).Equal(fee),
				"Fee(%s) = %s, expected %s", tt.amount, fee, tt.expected)
		})
	}
}

func TestFeeDeterministic(t *testing.T) {
	calc := NewCalculator(testConfig())
	amount := decimal.RequireFromString("123.45")

	first := calc.Fee(amount)
	for i := 0; i < 10; i++ {
		assert.True(t, first.Equal(calc.Fee(amount)))
	}
}

func TestFeeNeverBelowMinOrAboveMax(t *testing.T) {
	calc := NewCalculator(testConfig())

	for _, raw := range []string{"0.01", "5", "10.34", "99.99", "103.45", "250000"} {
		fee := calc.Fee(decimal.RequireFromString(raw))
		assert.True(t, fee.GreaterThanOrEqual(decimal.RequireFromString("0.30")), "amount %s", raw)
		assert.True(t, fee.LessThanOrEqual(decimal.RequireFromString("2.99")), "amount %s", raw)
	}
}
