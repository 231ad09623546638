package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendora/bazaar/internal/domain/coupon"
	"github.com/vendora/bazaar/internal/domain/order"
)

const (
	couponColumns = `id, code, vendor_id, title, discount_type, percent_off, amount_off,
		max_discount_amount, min_order_amount, starts_at, ends_at,
		usage_limit_total, usage_limit_per_user, active`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	orderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	orderItemsForUpdateSQL = `SELECT id, order_id, variant_id, vendor_id, quantity, price,
		line_discount_total, line_subtotal_net, selections
		FROM order_items WHERE order_id = $1 ORDER BY id FOR UPDATE`

	redemptionCountSQL = `SELECT COUNT(*) FROM coupon_redemptions
		WHERE coupon_id = $1 AND order_id <> $2`

	redemptionCountForUserSQL = `SELECT COUNT(*) FROM coupon_redemptions
		WHERE coupon_id = $1 AND user_id = $2 AND order_id <> $3`

	redemptionsForOrderSQL = `SELECT r.id, r.coupon_id, c.code, r.order_id, r.user_id,
		r.vendor_id, r.discount_amount, r.applied_at
		FROM coupon_redemptions r JOIN coupons c ON c.id = r.coupon_id
		WHERE r.order_id = $1 ORDER BY r.applied_at, r.id`

	allocationsForCouponSQL = `SELECT d.id, d.order_item_id, d.coupon_id, d.vendor_id, d.amount
		FROM order_item_discounts d
		JOIN order_items i ON i.id = d.order_item_id
		WHERE i.order_id = $1 AND d.coupon_id = $2
		ORDER BY d.order_item_id`

	deleteAllocationsSQL = `DELETE FROM order_item_discounts d
		USING order_items i
		WHERE i.id = d.order_item_id AND i.order_id = $1 AND d.coupon_id = $2`

	upsertRedemptionSQL = `INSERT INTO coupon_redemptions
		(id, coupon_id, order_id, user_id, vendor_id, discount_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (coupon_id, order_id, vendor_id)
		DO UPDATE SET discount_amount = EXCLUDED.discount_amount,
			user_id = EXCLUDED.user_id, applied_at = now()`

	deleteRedemptionSQL = `DELETE FROM coupon_redemptions
		WHERE coupon_id = $1 AND order_id = $2 AND vendor_id = $3`

	insertAllocationSQL = `INSERT INTO order_item_discounts
		(id, order_item_id, coupon_id, vendor_id, amount)
		VALUES ($1, $2, $3, $4, $5)`

	updateItemDiscountSQL = `UPDATE order_items
		SET line_discount_total = $2, line_subtotal_net = $3 WHERE id = $1`

	updateOrderTotalsSQL = `UPDATE orders SET
		item_total = $2, item_discount_total = $3, item_total_net = $4,
		amount_payable = $5, updated_at = now()
		WHERE id = $1`
)

var _ coupon.Store = (*CouponStore)(nil)

// CouponStore implements coupon.Store backed by PostgreSQL. Every engine
// call runs in one transaction; the order row lock taken by OrderForUpdate
// serializes racing applies so the delete-then-recreate allocation pattern
// never stacks discounts.
type CouponStore struct {
	pool *pgxpool.Pool
}

// NewCouponStore returns a CouponStore that uses the given pool.
func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

// Redemptions lists the order's redemptions with their coupon codes.
func (s *CouponStore) Redemptions(ctx context.Context, orderID string) ([]coupon.Redemption, error) {
	rows, err := s.pool.Query(ctx, redemptionsForOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing redemptions: %w", err)
	}
	return pgx.CollectRows(rows, scanRedemption)
}

// InTx runs fn inside a single transaction.
func (s *CouponStore) InTx(ctx context.Context, fn func(tx coupon.Tx) error) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&couponTx{tx: tx})
	})
}

type couponTx struct {
	tx pgx.Tx
}

func (t *couponTx) CouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := t.tx.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCode
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

func (t *couponTx) OrderForUpdate(ctx context.Context, orderID string) (*order.Order, error) {
	rows, err := t.tx.Query(ctx, orderForUpdateSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("locking order %q: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("locking order %q: %w", orderID, err)
	}
	return &o, nil
}

func (t *couponTx) OrderItemsForUpdate(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := t.tx.Query(ctx, orderItemsForUpdateSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("locking order items: %w", err)
	}
	return pgx.CollectRows(rows, scanOrderItem)
}

func (t *couponTx) RedemptionsForOrder(ctx context.Context, orderID string) ([]coupon.Redemption, error) {
	rows, err := t.tx.Query(ctx, redemptionsForOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing redemptions: %w", err)
	}
	return pgx.CollectRows(rows, scanRedemption)
}

func (t *couponTx) RedemptionCount(ctx context.Context, couponID, excludeOrderID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, redemptionCountSQL, couponID, excludeOrderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting redemptions: %w", err)
	}
	return n, nil
}

func (t *couponTx) RedemptionCountForUser(ctx context.Context, couponID, userID, excludeOrderID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, redemptionCountForUserSQL, couponID, userID, excludeOrderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting user redemptions: %w", err)
	}
	return n, nil
}

func (t *couponTx) AllocationsForCoupon(ctx context.Context, orderID, couponID string) ([]coupon.Allocation, error) {
	rows, err := t.tx.Query(ctx, allocationsForCouponSQL, orderID, couponID)
	if err != nil {
		return nil, fmt.Errorf("listing allocations: %w", err)
	}
	return pgx.CollectRows(rows, scanAllocation)
}

func (t *couponTx) DeleteAllocations(ctx context.Context, orderID, couponID string) error {
	_, err := t.tx.Exec(ctx, deleteAllocationsSQL, orderID, couponID)
	if err != nil {
		return fmt.Errorf("deleting allocations: %w", err)
	}
	return nil
}

func (t *couponTx) UpsertRedemption(ctx context.Context, r *coupon.Redemption) error {
	_, err := t.tx.Exec(ctx, upsertRedemptionSQL,
		r.ID, r.CouponID, r.OrderID, r.UserID, r.VendorID, r.DiscountAmount)
	if err != nil {
		return fmt.Errorf("upserting redemption: %w", err)
	}
	return nil
}

func (t *couponTx) DeleteRedemption(ctx context.Context, couponID, orderID, vendorID string) error {
	_, err := t.tx.Exec(ctx, deleteRedemptionSQL, couponID, orderID, vendorID)
	if err != nil {
		return fmt.Errorf("deleting redemption: %w", err)
	}
	return nil
}

func (t *couponTx) InsertAllocation(ctx context.Context, a *coupon.Allocation) error {
	_, err := t.tx.Exec(ctx, insertAllocationSQL,
		a.ID, a.OrderItemID, a.CouponID, a.VendorID, a.Amount)
	if err != nil {
		return fmt.Errorf("inserting allocation: %w", err)
	}
	return nil
}

func (t *couponTx) UpdateItemDiscount(ctx context.Context, item *order.Item) error {
	_, err := t.tx.Exec(ctx, updateItemDiscountSQL,
		item.ID, item.LineDiscountTotal, item.LineSubtotalNet)
	if err != nil {
		return fmt.Errorf("updating item discount: %w", err)
	}
	return nil
}

func (t *couponTx) UpdateOrderTotals(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx, updateOrderTotalsSQL,
		o.ID, o.ItemTotal, o.ItemDiscountTotal, o.ItemTotalNet, o.AmountPayable)
	if err != nil {
		return fmt.Errorf("updating order totals: %w", err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.ID, &c.Code, &c.VendorID, &c.Title, (*string)(&c.DiscountType),
		&c.PercentOff, &c.AmountOff, &c.MaxDiscountAmount, &c.MinOrderAmount,
		&c.StartsAt, &c.EndsAt, &c.UsageLimitTotal, &c.UsageLimitPerUser, &c.Active,
	)
	return c, err
}

func scanRedemption(row pgx.CollectableRow) (coupon.Redemption, error) {
	var r coupon.Redemption
	err := row.Scan(
		&r.ID, &r.CouponID, &r.CouponCode, &r.OrderID, &r.UserID,
		&r.VendorID, &r.DiscountAmount, &r.AppliedAt,
	)
	return r, err
}

func scanAllocation(row pgx.CollectableRow) (coupon.Allocation, error) {
	var a coupon.Allocation
	err := row.Scan(&a.ID, &a.OrderItemID, &a.CouponID, &a.VendorID, &a.Amount)
	return a, err
}
