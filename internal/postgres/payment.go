package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendora/bazaar/internal/domain/order"
	"github.com/vendora/bazaar/internal/domain/payment"
)

const (
	markPendingSQL = `UPDATE orders SET
		payment_status = 'PENDING', gateway_txn_id = $2, updated_at = now()
		WHERE id = $1 AND payment_status <> 'PAID'`

	paymentStatusSQL = `SELECT payment_status FROM orders WHERE id = $1`

	transitionPaidSQL = `UPDATE orders SET
		payment_status = 'PAID', status = 'PROCESSING',
		gateway_payment_id = $2, updated_at = now()
		WHERE id = $1 AND payment_status <> 'PAID'`

	transitionFailedSQL = `UPDATE orders SET
		payment_status = 'FAILED', updated_at = now()
		WHERE id = $1 AND payment_status <> 'PAID'`

	appendMetaSQL = `UPDATE orders SET
		payment_meta = payment_meta || jsonb_build_object($2::text, $3::jsonb),
		updated_at = now()
		WHERE id = $1`

	vendorSummariesSQL = `SELECT vendor_id, COUNT(*),
		COALESCE(SUM(price * quantity), 0),
		COALESCE(SUM(line_discount_total), 0)
		FROM order_items WHERE order_id = $1
		GROUP BY vendor_id ORDER BY vendor_id`
)

var _ payment.Store = (*PaymentStore)(nil)

// PaymentStore persists payment state transitions. PAID is terminal: every
// status write carries a payment_status guard so a replayed webhook, a losing
// concurrent callback, or a stale retried initiation becomes a no-op at the
// row level.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore returns a PaymentStore that uses the given pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

// MarkPending records the gateway transaction id and moves the order to
// PENDING. The guard keeps a webhook that landed PAID during the gateway
// initiation round-trip from being demoted; that case surfaces as
// payment.ErrAlreadyPaid.
func (s *PaymentStore) MarkPending(ctx context.Context, orderID, txnID string) error {
	tag, err := s.pool.Exec(ctx, markPendingSQL, orderID, txnID)
	if err != nil {
		return fmt.Errorf("marking order pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx, paymentStatusSQL, orderID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("marking order pending: %w", err)
		}
		return payment.ErrAlreadyPaid
	}
	return nil
}

// TransitionPaid attempts the PENDING to PAID transition. It reports whether
// this call won the transition; false means the order was already PAID.
func (s *PaymentStore) TransitionPaid(ctx context.Context, orderID, gatewayPaymentID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, transitionPaidSQL, orderID, gatewayPaymentID)
	if err != nil {
		return false, fmt.Errorf("transitioning order to paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TransitionFailed moves the order to FAILED unless it is already PAID.
func (s *PaymentStore) TransitionFailed(ctx context.Context, orderID string) error {
	_, err := s.pool.Exec(ctx, transitionFailedSQL, orderID)
	if err != nil {
		return fmt.Errorf("transitioning order to failed: %w", err)
	}
	return nil
}

// AppendMeta merges one raw gateway payload into the order's audit trail
// under the given key.
func (s *PaymentStore) AppendMeta(ctx context.Context, orderID, key string, raw []byte) error {
	_, err := s.pool.Exec(ctx, appendMetaSQL, orderID, key, raw)
	if err != nil {
		return fmt.Errorf("appending payment meta: %w", err)
	}
	return nil
}

// VendorSummaries aggregates the order's items per vendor for fan-out.
func (s *PaymentStore) VendorSummaries(ctx context.Context, orderID string) ([]payment.VendorSummary, error) {
	rows, err := s.pool.Query(ctx, vendorSummariesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("summarizing vendors: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (payment.VendorSummary, error) {
		var v payment.VendorSummary
		err := row.Scan(&v.VendorID, &v.ItemCount, &v.Gross, &v.Discount)
		return v, err
	})
}
