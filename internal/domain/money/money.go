// Package money holds the fixed-point arithmetic helpers shared by all
// pricing code. Every persisted monetary amount is quantized to 2 decimal
// places with round-half-up before it is written or compared.
package money

import "github.com/shopspring/decimal"

var (
	// Zero is the canonical zero amount.
	Zero = decimal.Zero

	hundred = decimal.NewFromInt(100)
)

// Quantize rounds d to 2 decimal places, half away from zero. All amounts
// in this codebase are non-negative, so this matches round-half-up.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// QuantizeUp rounds d up to the next cent. Prorated line shares round this
// way; the remainder-to-last rule absorbs the difference so allocations
// still sum exactly.
func QuantizeUp(d decimal.Decimal) decimal.Decimal {
	return d.RoundUp(2)
}

// FloorAtZero clamps negative amounts to zero.
func FloorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}

// Percent returns base * pct / 100 without quantization, leaving rounding
// decisions to the caller.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// Line returns unitPrice * quantity.
func Line(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
