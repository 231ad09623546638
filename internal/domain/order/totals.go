package order

import "github.com/shopspring/decimal"

// Recompute refreshes the order's layered totals from its line items and
// shipping fee:
//
//	item_total          = Σ price * quantity
//	item_discount_total = Σ line_discount_total
//	item_total_net      = max(item_total - item_discount_total, 0)
//	amount_payable      = item_total_net + shipping_fee
//
// It is pure and idempotent; it must run after snapshot creation, every
// coupon apply/remove, and every shipping-fee assignment. No other code may
// write AmountPayable.
func Recompute(o *Order, items []Item) {
	gross := decimal.Zero
	disc := decimal.Zero
	for i := range items {
		gross = gross.Add(items[i].Gross())
		disc = disc.Add(items[i].LineDiscountTotal)
	}

	o.ItemTotal = gross
	o.ItemDiscountTotal = disc
	net := gross.Sub(disc)
	if net.IsNegative() {
		net = decimal.Zero
	}
	o.ItemTotalNet = net
	o.AmountPayable = net.Add(o.ShippingFee)
}
