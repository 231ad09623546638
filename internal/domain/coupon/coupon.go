// Package coupon implements vendor-scoped coupon validation, discount
// computation, exact-cent proration across order lines, and the idempotent
// allocation engine that persists or reverses discounts.
package coupon

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vendora/bazaar/internal/domain/money"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercent takes percent_off of the vendor's gross subtotal,
	// optionally capped at MaxDiscountAmount.
	DiscountPercent DiscountType = "PERCENT"
	// DiscountFixed takes amount_off, capped at the vendor's gross subtotal.
	DiscountFixed DiscountType = "FIXED"
)

// ErrInvalidCode is returned when a coupon code does not exist.
var ErrInvalidCode = errors.New("invalid coupon code")

// RejectionError is a validation failure surfaced to the caller as a
// structured reason. No partial state is written when one is returned.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

// Coupon is a vendor-scoped discount rule. Exactly one of PercentOff or
// AmountOff is meaningful, selected by DiscountType.
type Coupon struct {
	ID       string
	Code     string
	VendorID string
	Title    string

	DiscountType      DiscountType
	PercentOff        decimal.Decimal
	AmountOff         decimal.Decimal
	MaxDiscountAmount *decimal.Decimal // PERCENT only

	MinOrderAmount decimal.Decimal
	StartsAt       *time.Time
	EndsAt         *time.Time

	// Zero means unlimited.
	UsageLimitTotal   int
	UsageLimitPerUser int

	Active bool
}

// Live reports whether the coupon is active and inside its validity window.
func (c *Coupon) Live(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return false
	}
	return true
}

// Discount computes the vendor-level discount for the given gross subtotal,
// quantized to 2 decimals.
func (c *Coupon) Discount(vendorGross decimal.Decimal) decimal.Decimal {
	switch c.DiscountType {
	case DiscountPercent:
		d := money.Percent(vendorGross, c.PercentOff)
		if c.MaxDiscountAmount != nil && d.GreaterThan(*c.MaxDiscountAmount) {
			d = *c.MaxDiscountAmount
		}
		// A miskeyed percent over 100 never discounts more than the vendor
		// subtotal.
		return money.Quantize(money.FloorAtZero(decimal.Min(d, vendorGross)))
	case DiscountFixed:
		return money.Quantize(money.FloorAtZero(decimal.Min(c.AmountOff, vendorGross)))
	}
	return money.Zero
}

// Redemption records one coupon grant against one order. At most one exists
// per (coupon, order, vendor), enforced by a database constraint.
type Redemption struct {
	ID             string
	CouponID       string
	CouponCode     string
	OrderID        string
	UserID         string
	VendorID       string
	DiscountAmount decimal.Decimal
	AppliedAt      time.Time
}

// Allocation is one line-level slice of a redemption. The allocations for a
// (coupon, order, vendor) sum to the redemption's DiscountAmount exactly.
type Allocation struct {
	ID          string
	OrderItemID string
	CouponID    string
	VendorID    string
	Amount      decimal.Decimal
}

// Policy holds the externally-configured coupon stacking toggles, enforced
// by Engine.Apply under the order lock.
type Policy struct {
	SingleCouponPerOrder  bool
	SingleCouponPerVendor bool
}

// Check validates the policy against the order's existing redemptions. A
// redemption of the same coupon never blocks: re-applying supersedes it.
func (p Policy) Check(existing []Redemption, c *Coupon) error {
	for _, r := range existing {
		if r.CouponID == c.ID {
			continue
		}
		if p.SingleCouponPerOrder {
			return reject("only one coupon may be applied per order")
		}
		if p.SingleCouponPerVendor && r.VendorID == c.VendorID {
			return reject("only one coupon may be applied per vendor")
		}
	}
	return nil
}
