package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendora/bazaar/internal/domain/order"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// fakeStore keeps the full coupon state in memory. InTx offers no rollback;
// tests only assert on paths where the engine either commits everything or
// fails before mutating.
type fakeStore struct {
	coupons     map[string]*Coupon
	order       *order.Order
	items       []order.Item
	redemptions []Redemption
	allocations []Allocation
}

func newFakeStore(o *order.Order, items []order.Item, coupons ...*Coupon) *fakeStore {
	byCode := make(map[string]*Coupon, len(coupons))
	for _, c := range coupons {
		byCode[c.Code] = c
	}
	return &fakeStore{coupons: byCode, order: o, items: items}
}

func (s *fakeStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return fn(s)
}

func (s *fakeStore) Redemptions(ctx context.Context, orderID string) ([]Redemption, error) {
	return s.RedemptionsForOrder(ctx, orderID)
}

func (s *fakeStore) CouponByCode(_ context.Context, code string) (*Coupon, error) {
	c, ok := s.coupons[code]
	if !ok {
		return nil, ErrInvalidCode
	}
	return c, nil
}

func (s *fakeStore) OrderForUpdate(_ context.Context, orderID string) (*order.Order, error) {
	if s.order == nil || s.order.ID != orderID {
		return nil, order.ErrNotFound
	}
	o := *s.order
	return &o, nil
}

func (s *fakeStore) OrderItemsForUpdate(_ context.Context, orderID string) ([]order.Item, error) {
	items := make([]order.Item, len(s.items))
	copy(items, s.items)
	return items, nil
}

func (s *fakeStore) RedemptionsForOrder(_ context.Context, orderID string) ([]Redemption, error) {
	var out []Redemption
	for _, r := range s.redemptions {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) RedemptionCount(_ context.Context, couponID, excludeOrderID string) (int, error) {
	n := 0
	for _, r := range s.redemptions {
		if r.CouponID == couponID && r.OrderID != excludeOrderID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) RedemptionCountForUser(_ context.Context, couponID, userID, excludeOrderID string) (int, error) {
	n := 0
	for _, r := range s.redemptions {
		if r.CouponID == couponID && r.UserID == userID && r.OrderID != excludeOrderID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) AllocationsForCoupon(_ context.Context, orderID, couponID string) ([]Allocation, error) {
	var out []Allocation
	for _, a := range s.allocations {
		if a.CouponID == couponID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteAllocations(_ context.Context, orderID, couponID string) error {
	kept := s.allocations[:0]
	for _, a := range s.allocations {
		if a.CouponID != couponID {
			kept = append(kept, a)
		}
	}
	s.allocations = kept
	return nil
}

func (s *fakeStore) UpsertRedemption(_ context.Context, r *Redemption) error {
	for i := range s.redemptions {
		old := &s.redemptions[i]
		if old.CouponID == r.CouponID && old.OrderID == r.OrderID && old.VendorID == r.VendorID {
			old.DiscountAmount = r.DiscountAmount
			old.UserID = r.UserID
			return nil
		}
	}
	s.redemptions = append(s.redemptions, *r)
	return nil
}

func (s *fakeStore) DeleteRedemption(_ context.Context, couponID, orderID, vendorID string) error {
	kept := s.redemptions[:0]
	for _, r := range s.redemptions {
		if !(r.CouponID == couponID && r.OrderID == orderID && r.VendorID == vendorID) {
			kept = append(kept, r)
		}
	}
	s.redemptions = kept
	return nil
}

func (s *fakeStore) InsertAllocation(_ context.Context, a *Allocation) error {
	s.allocations = append(s.allocations, *a)
	return nil
}

func (s *fakeStore) UpdateItemDiscount(_ context.Context, item *order.Item) error {
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i].LineDiscountTotal = item.LineDiscountTotal
			s.items[i].LineSubtotalNet = item.LineSubtotalNet
			return nil
		}
	}
	return order.ErrNotFound
}

func (s *fakeStore) UpdateOrderTotals(_ context.Context, o *order.Order) error {
	s.order.ItemTotal = o.ItemTotal
	s.order.ItemDiscountTotal = o.ItemDiscountTotal
	s.order.ItemTotalNet = o.ItemTotalNet
	s.order.AmountPayable = o.AmountPayable
	return nil
}

func twoLineOrder() (*order.Order, []order.Item) {
	o := &order.Order{
		ID:          "ord-1",
		Number:      "10000001",
		ShippingFee: d("5.00"),
	}
	items := []order.Item{
		{ID: "item-1", OrderID: "ord-1", VendorID: "vendor-a", Quantity: 4, Price: d("10.00"), LineSubtotalNet: d("40.00")},
		{ID: "item-2", OrderID: "ord-1", VendorID: "vendor-a", Quantity: 2, Price: d("15.00"), LineSubtotalNet: d("30.00")},
	}
	order.Recompute(o, items)
	return o, items
}

func fixedCoupon(amount string) *Coupon {
	return &Coupon{
		ID:           "cpn-fixed",
		Code:         "TENOFF",
		VendorID:     "vendor-a",
		DiscountType: DiscountFixed,
		AmountOff:    d(amount),
		Active:       true,
	}
}

func percentCoupon(pct string) *Coupon {
	return &Coupon{
		ID:           "cpn-pct",
		Code:         "TWENTY",
		VendorID:     "vendor-a",
		DiscountType: DiscountPercent,
		PercentOff:   d(pct),
		Active:       true,
	}
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(d(want)), "want %s, got %s", want, got)
}

func TestApplyFixedProration(t *testing.T) {
	o, items := twoLineOrder()
	store := newFakeStore(o, items, fixedCoupon("10.00"))
	engine := NewEngine(store, Policy{})

	totals, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	require.NoError(t, err)

	requireAmount(t, "70.00", totals.ItemTotal)
	requireAmount(t, "10.00", totals.ItemDiscountTotal)
	requireAmount(t, "60.00", totals.ItemTotalNet)
	requireAmount(t, "65.00", totals.AmountPayable)

	// Non-last share rounds up to the next cent, last takes the remainder.
	requireAmount(t, "5.72", store.items[0].LineDiscountTotal)
	requireAmount(t, "4.28", store.items[1].LineDiscountTotal)
	requireAmount(t, "34.28", store.items[0].LineSubtotalNet)
	requireAmount(t, "25.72", store.items[1].LineSubtotalNet)

	require.Len(t, store.redemptions, 1)
	requireAmount(t, "10.00", store.redemptions[0].DiscountAmount)
	require.Len(t, store.allocations, 2)
}

func TestApplyPercent(t *testing.T) {
	o, items := twoLineOrder()
	store := newFakeStore(o, items, percentCoupon("20"))
	engine := NewEngine(store, Policy{})

	totals, err := engine.Apply(context.Background(), "ord-1", "TWENTY", "user-1")
	require.NoError(t, err)

	requireAmount(t, "14.00", totals.ItemDiscountTotal)
	requireAmount(t, "56.00", totals.ItemTotalNet)
	requireAmount(t, "8.00", store.items[0].LineDiscountTotal)
	requireAmount(t, "6.00", store.items[1].LineDiscountTotal)
}

func TestApplyPercentCapClampsShares(t *testing.T) {
	o, items := twoLineOrder()
	cap := d("5.00")
	c := percentCoupon("20")
	c.MaxDiscountAmount = &cap
	store := newFakeStore(o, items, c)
	engine := NewEngine(store, Policy{})

	totals, err := engine.Apply(context.Background(), "ord-1", "TWENTY", "user-1")
	require.NoError(t, err)

	requireAmount(t, "5.00", totals.ItemDiscountTotal)
	// The per-line 20% share exceeds the capped discount; the clamp keeps
	// the allocation sum exact.
	requireAmount(t, "5.00", store.items[0].LineDiscountTotal)
	requireAmount(t, "0.00", store.items[1].LineDiscountTotal)
}

func TestApplyPercentOverHundredClampsAtGross(t *testing.T) {
	o, items := twoLineOrder()
	store := newFakeStore(o, items, percentCoupon("150"))
	engine := NewEngine(store, Policy{})

	totals, err := engine.Apply(context.Background(), "ord-1", "TWENTY", "user-1")
	require.NoError(t, err)

	// The discount saturates at the vendor subtotal; only shipping remains
	// payable.
	requireAmount(t, "70.00", totals.ItemDiscountTotal)
	requireAmount(t, "0.00", totals.ItemTotalNet)
	requireAmount(t, "5.00", totals.AmountPayable)

	// Each line saturates at its own gross, no negative nets.
	requireAmount(t, "40.00", store.items[0].LineDiscountTotal)
	requireAmount(t, "30.00", store.items[1].LineDiscountTotal)
	requireAmount(t, "0.00", store.items[0].LineSubtotalNet)
	requireAmount(t, "0.00", store.items[1].LineSubtotalNet)
}

func TestApplyIsIdempotent(t *testing.T) {
	o, items := twoLineOrder()
	store := newFakeStore(o, items, fixedCoupon("10.00"))
	engine := NewEngine(store, Policy{})

	_, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	require.NoError(t, err)
	totals, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	require.NoError(t, err)

	requireAmount(t, "10.00", totals.ItemDiscountTotal)
	requireAmount(t, "60.00", totals.ItemTotalNet)
	require.Len(t, store.redemptions, 1)
	require.Len(t, store.allocations, 2)
}

func TestApplyPerUserLimitCountsOtherOrdersOnly(t *testing.T) {
	o, items := twoLineOrder()
	c := fixedCoupon("10.00")
	c.UsageLimitPerUser = 1
	store := newFakeStore(o, items, c)
	engine := NewEngine(store, Policy{})

	// First application and re-application both succeed: the order's own
	// redemption does not count against the limit.
	_, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	require.NoError(t, err)
	_, err = engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	require.NoError(t, err)

	// A redemption on another order does.
	store.redemptions = append(store.redemptions, Redemption{
		CouponID: c.ID, OrderID: "ord-other", UserID: "user-1", VendorID: c.VendorID,
	})
	_, err = engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Contains(t, rejection.Reason, "usage limit")
}

func TestApplyTotalUsageLimit(t *testing.T) {
	o, items := twoLineOrder()
	c := fixedCoupon("10.00")
	c.UsageLimitTotal = 2
	store := newFakeStore(o, items, c)
	store.redemptions = append(store.redemptions,
		Redemption{CouponID: c.ID, OrderID: "ord-x", VendorID: c.VendorID},
		Redemption{CouponID: c.ID, OrderID: "ord-y", VendorID: c.VendorID},
	)
	engine := NewEngine(store, Policy{})

	_, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Contains(t, rejection.Reason, "usage limit reached")
}

func TestApplyMinOrderAmount(t *testing.T) {
	o, items := twoLineOrder()
	c := fixedCoupon("10.00")
	c.MinOrderAmount = d("100.00")
	store := newFakeStore(o, items, c)
	engine := NewEngine(store, Policy{})

	_, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, "minimum order amount not met", rejection.Reason)
}

func TestApplyRejectsExpiredCoupon(t *testing.T) {
	o, items := twoLineOrder()
	c := fixedCoupon("10.00")
	past := time.Now().Add(-time.Hour)
	c.EndsAt = &past
	store := newFakeStore(o, items, c)
	engine := NewEngine(store, Policy{})

	_, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Contains(t, rejection.Reason, "not active")
}

func TestApplyRejectsForeignVendor(t *testing.T) {
	o, items := twoLineOrder()
	c := fixedCoupon("10.00")
	c.VendorID = "vendor-z"
	store := newFakeStore(o, items, c)
	engine := NewEngine(store, Policy{})

	_, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Contains(t, rejection.Reason, "does not apply")
}

func TestApplyUnknownCode(t *testing.T) {
	o, items := twoLineOrder()
	store := newFakeStore(o, items)
	engine := NewEngine(store, Policy{})

	_, err := engine.Apply(context.Background(), "ord-1", "NOPE", "user-1")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestApplySingleCouponPerOrderPolicy(t *testing.T) {
	o, items := twoLineOrder()
	fixed, pct := fixedCoupon("10.00"), percentCoupon("20")
	store := newFakeStore(o, items, fixed, pct)
	engine := NewEngine(store, Policy{SingleCouponPerOrder: true})

	_, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	require.NoError(t, err)

	// A second distinct coupon violates the policy; the same one does not.
	_, err = engine.Apply(context.Background(), "ord-1", "TWENTY", "user-1")
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Contains(t, rejection.Reason, "one coupon")

	_, err = engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	require.NoError(t, err)
}

func TestRemoveRestoresTotals(t *testing.T) {
	o, items := twoLineOrder()
	store := newFakeStore(o, items, fixedCoupon("10.00"))
	engine := NewEngine(store, Policy{})

	_, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	require.NoError(t, err)

	totals, err := engine.Remove(context.Background(), "ord-1", "TENOFF")
	require.NoError(t, err)

	requireAmount(t, "70.00", totals.ItemTotal)
	requireAmount(t, "0.00", totals.ItemDiscountTotal)
	requireAmount(t, "70.00", totals.ItemTotalNet)
	requireAmount(t, "75.00", totals.AmountPayable)
	require.Empty(t, store.redemptions)
	require.Empty(t, store.allocations)
	requireAmount(t, "0.00", store.items[0].LineDiscountTotal)
	requireAmount(t, "40.00", store.items[0].LineSubtotalNet)
}

func TestRemoveNeverAppliedIsNoOp(t *testing.T) {
	o, items := twoLineOrder()
	store := newFakeStore(o, items, fixedCoupon("10.00"))
	engine := NewEngine(store, Policy{})

	totals, err := engine.Remove(context.Background(), "ord-1", "TENOFF")
	require.NoError(t, err)
	requireAmount(t, "70.00", totals.ItemTotalNet)
	requireAmount(t, "0.00", totals.ItemDiscountTotal)
}

func TestApplyZeroDiscountRejected(t *testing.T) {
	o, items := twoLineOrder()
	store := newFakeStore(o, items, fixedCoupon("0.00"))
	engine := NewEngine(store, Policy{})

	_, err := engine.Apply(context.Background(), "ord-1", "TENOFF", "user-1")
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Contains(t, rejection.Reason, "no discount")
}
