package coupon

import (
	"github.com/shopspring/decimal"

	"github.com/vendora/bazaar/internal/domain/money"
	"github.com/vendora/bazaar/internal/domain/order"
)

// LineShare is one line's slice of a vendor-level discount.
type LineShare struct {
	ItemID string
	Amount decimal.Decimal
}

// Prorate splits discount across the vendor's lines, which must already be
// in deterministic order (by item id). Every line but the last receives a
// rounded proportional share; the last receives the exact remainder, so the
// shares always sum to discount despite rounding.
//
// FIXED shares are proportional to each line's gross. PERCENT shares apply
// percent_off to each line's gross directly, mirroring the vendor-level
// formula per line; shares are clamped to the line's gross and to the
// remaining amount so a capped or over-100 percent discount still sums
// exactly.
func Prorate(c *Coupon, discount decimal.Decimal, lines []order.Item) []LineShare {
	if len(lines) == 0 || !discount.IsPositive() {
		return nil
	}

	vendorGross := money.Zero
	for i := range lines {
		vendorGross = vendorGross.Add(lines[i].Gross())
	}

	shares := make([]LineShare, 0, len(lines))
	remaining := discount
	for i := range lines {
		if i == len(lines)-1 {
			shares = append(shares, LineShare{ItemID: lines[i].ID, Amount: remaining})
			break
		}

		var share decimal.Decimal
		switch c.DiscountType {
		case DiscountPercent:
			share = money.QuantizeUp(money.Percent(lines[i].Gross(), c.PercentOff))
			// Percents over 100 saturate the line instead of pushing its
			// net negative.
			if g := lines[i].Gross(); share.GreaterThan(g) {
				share = g
			}
		default: // FIXED
			share = money.QuantizeUp(discount.Mul(lines[i].Gross()).Div(vendorGross))
		}
		if share.GreaterThan(remaining) {
			share = remaining
		}
		shares = append(shares, LineShare{ItemID: lines[i].ID, Amount: share})
		remaining = remaining.Sub(share)
	}
	return shares
}
