package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/vendora/bazaar/internal/domain/money"
	"github.com/vendora/bazaar/internal/domain/order"
)

// Tx is the transactional view the engine works through. Implementations
// run every method of one Apply/Remove call inside a single database
// transaction with the order row locked, so racing calls for the same order
// serialize and the delete-then-recreate allocation pattern cannot stack
// discounts.
type Tx interface {
	CouponByCode(ctx context.Context, code string) (*Coupon, error)
	// OrderForUpdate locks and returns the order row.
	OrderForUpdate(ctx context.Context, orderID string) (*order.Order, error)
	// OrderItemsForUpdate locks and returns the order's items ordered by id.
	OrderItemsForUpdate(ctx context.Context, orderID string) ([]order.Item, error)
	// RedemptionsForOrder lists the order's current redemptions.
	RedemptionsForOrder(ctx context.Context, orderID string) ([]Redemption, error)
	// RedemptionCount counts redemptions of the coupon, excluding the given
	// order so that re-applying never competes with itself.
	RedemptionCount(ctx context.Context, couponID, excludeOrderID string) (int, error)
	RedemptionCountForUser(ctx context.Context, couponID, userID, excludeOrderID string) (int, error)
	AllocationsForCoupon(ctx context.Context, orderID, couponID string) ([]Allocation, error)
	DeleteAllocations(ctx context.Context, orderID, couponID string) error
	UpsertRedemption(ctx context.Context, r *Redemption) error
	DeleteRedemption(ctx context.Context, couponID, orderID, vendorID string) error
	InsertAllocation(ctx context.Context, a *Allocation) error
	UpdateItemDiscount(ctx context.Context, item *order.Item) error
	UpdateOrderTotals(ctx context.Context, o *order.Order) error
}

// Store provides transactional and read access to coupon state.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Redemptions(ctx context.Context, orderID string) ([]Redemption, error)
}

// Engine validates, applies, and removes coupons against orders. All
// mutations are atomic: any failure rolls back every row touched.
type Engine struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// NewEngine creates an Engine backed by the given store.
func NewEngine(store Store, policy Policy) *Engine {
	return &Engine{store: store, policy: policy, now: time.Now}
}

// Redemptions lists the order's current redemptions, for policy checks and
// order summaries.
func (e *Engine) Redemptions(ctx context.Context, orderID string) ([]Redemption, error) {
	return e.store.Redemptions(ctx, orderID)
}

// Apply validates the coupon against the order and, on success, persists the
// vendor-level redemption and its per-line allocations, superseding any
// previous application of the same coupon. It returns the refreshed totals.
//
// The validation chain short-circuits on the first failure: live window,
// stacking policy, vendor presence, total usage limit, per-user usage limit,
// minimum order amount, positive discount.
func (e *Engine) Apply(ctx context.Context, orderID, code, userID string) (order.Totals, error) {
	var totals order.Totals
	err := e.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.CouponByCode(ctx, code)
		if err != nil {
			return err
		}
		if !c.Live(e.now()) {
			return reject("coupon %s is not active", c.Code)
		}

		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.OrderItemsForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		existing, err := tx.RedemptionsForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := e.policy.Check(existing, c); err != nil {
			return err
		}

		vendorLines := vendorItems(items, c.VendorID)
		if len(vendorLines) == 0 {
			return reject("coupon %s does not apply to any item in this order", c.Code)
		}

		if c.UsageLimitTotal > 0 {
			n, err := tx.RedemptionCount(ctx, c.ID, orderID)
			if err != nil {
				return err
			}
			if n >= c.UsageLimitTotal {
				return reject("coupon %s usage limit reached", c.Code)
			}
		}
		if c.UsageLimitPerUser > 0 {
			n, err := tx.RedemptionCountForUser(ctx, c.ID, userID, orderID)
			if err != nil {
				return err
			}
			if n >= c.UsageLimitPerUser {
				return reject("coupon %s usage limit reached for this user", c.Code)
			}
		}

		vendorGross := money.Zero
		for _, line := range vendorLines {
			vendorGross = vendorGross.Add(line.Gross())
		}
		if vendorGross.LessThan(c.MinOrderAmount) {
			return reject("minimum order amount not met")
		}

		discount := c.Discount(vendorGross)
		if !discount.IsPositive() {
			return reject("coupon %s yields no discount", c.Code)
		}

		// Reverse any previous application of this coupon so re-applying a
		// changed coupon never double-counts.
		if err := e.reverse(ctx, tx, orderID, c, items); err != nil {
			return err
		}

		shares := Prorate(c, discount, vendorItems(items, c.VendorID))

		if err := tx.UpsertRedemption(ctx, &Redemption{
			ID:             uuid.New().String(),
			CouponID:       c.ID,
			CouponCode:     c.Code,
			OrderID:        orderID,
			UserID:         userID,
			VendorID:       c.VendorID,
			DiscountAmount: discount,
		}); err != nil {
			return err
		}

		byID := itemIndex(items)
		for _, share := range shares {
			if !share.Amount.IsPositive() {
				continue
			}
			if err := tx.InsertAllocation(ctx, &Allocation{
				ID:          uuid.New().String(),
				OrderItemID: share.ItemID,
				CouponID:    c.ID,
				VendorID:    c.VendorID,
				Amount:      share.Amount,
			}); err != nil {
				return err
			}
			item := byID[share.ItemID]
			item.LineDiscountTotal = item.LineDiscountTotal.Add(share.Amount)
			if err := item.RecomputeNet(); err != nil {
				return err
			}
			if err := tx.UpdateItemDiscount(ctx, item); err != nil {
				return err
			}
		}

		order.Recompute(o, items)
		if err := tx.UpdateOrderTotals(ctx, o); err != nil {
			return err
		}
		totals = o.Totals()
		return nil
	})
	if err != nil {
		return order.Totals{}, err
	}
	return totals, nil
}

// Remove reverses a previously applied coupon and returns the refreshed
// totals. Removing a coupon that was never applied succeeds without effect.
func (e *Engine) Remove(ctx context.Context, orderID, code string) (order.Totals, error) {
	var totals order.Totals
	err := e.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.CouponByCode(ctx, code)
		if err != nil {
			return err
		}
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.OrderItemsForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if err := e.reverse(ctx, tx, orderID, c, items); err != nil {
			return err
		}
		if err := tx.DeleteRedemption(ctx, c.ID, orderID, c.VendorID); err != nil {
			return err
		}

		order.Recompute(o, items)
		if err := tx.UpdateOrderTotals(ctx, o); err != nil {
			return err
		}
		totals = o.Totals()
		return nil
	})
	if err != nil {
		return order.Totals{}, err
	}
	return totals, nil
}

// reverse subtracts this coupon's existing allocations from the affected
// lines (floored at zero) and deletes the allocation rows. items is mutated
// in place so the caller's Recompute sees the reversed state.
func (e *Engine) reverse(ctx context.Context, tx Tx, orderID string, c *Coupon, items []order.Item) error {
	existing, err := tx.AllocationsForCoupon(ctx, orderID, c.ID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}

	byID := itemIndex(items)
	for _, alloc := range existing {
		item, ok := byID[alloc.OrderItemID]
		if !ok {
			return errors.Errorf("allocation %s references unknown item %s", alloc.ID, alloc.OrderItemID)
		}
		item.LineDiscountTotal = money.FloorAtZero(item.LineDiscountTotal.Sub(alloc.Amount))
		if err := item.RecomputeNet(); err != nil {
			return err
		}
		if err := tx.UpdateItemDiscount(ctx, item); err != nil {
			return err
		}
	}
	return tx.DeleteAllocations(ctx, orderID, c.ID)
}

func vendorItems(items []order.Item, vendorID string) []order.Item {
	out := make([]order.Item, 0, len(items))
	for i := range items {
		if items[i].VendorID == vendorID {
			out = append(out, items[i])
		}
	}
	return out
}

func itemIndex(items []order.Item) map[string]*order.Item {
	byID := make(map[string]*order.Item, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}
	return byID
}
