package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendora/bazaar/internal/domain/order"
)

const (
	orderColumns = `id, order_number, buyer_id, currency,
		item_total, item_discount_total, item_total_net, shipping_fee, amount_payable,
		courier_code, courier_name, courier_mode, etd_days,
		payment_status, status, gateway_txn_id, gateway_payment_id, created_at`

	getOrderSQL         = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	insertOrderSQL = `INSERT INTO orders (id, order_number, buyer_id, currency,
		item_total, item_discount_total, item_total_net, shipping_fee, amount_payable,
		courier_code, courier_name, courier_mode, etd_days, payment_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, variant_id, vendor_id,
		quantity, price, line_discount_total, line_subtotal_net, selections)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	orderItemsSQL = `SELECT id, order_id, variant_id, vendor_id, quantity, price,
		line_discount_total, line_subtotal_net, selections
		FROM order_items WHERE order_id = $1 ORDER BY id`

	setShippingSQL = `UPDATE orders SET
		courier_code = $2, courier_name = $3, courier_mode = $4, etd_days = $5,
		shipping_fee = $6, currency = $7,
		item_total = $8, item_discount_total = $9, item_total_net = $10, amount_payable = $11,
		updated_at = now()
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get returns an order by its internal id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderSQL, id)
}

// GetByNumber returns an order by its public order number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.one(ctx, getOrderByNumberSQL, number)
}

func (r *OrderRepository) one(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return &o, nil
}

// Items returns the order's lines ordered by id.
func (r *OrderRepository) Items(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.pool.Query(ctx, orderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}
	return pgx.CollectRows(rows, scanOrderItem)
}

// CreateWithItems persists the order and all its items in one transaction.
func (r *OrderRepository) CreateWithItems(ctx context.Context, o *order.Order, items []order.Item) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var buyerID *string
		if o.BuyerID != "" {
			buyerID = &o.BuyerID
		}
		_, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Number, buyerID, o.Currency,
			o.ItemTotal, o.ItemDiscountTotal, o.ItemTotalNet, o.ShippingFee, o.AmountPayable,
			o.CourierCode, o.CourierName, o.CourierMode, o.ETDDays,
			string(o.PaymentStatus), string(o.Status),
		)
		if err != nil {
			return fmt.Errorf("creating order %q: %w", o.Number, err)
		}

		for i := range items {
			item := &items[i]
			selections, err := marshalSelections(item.Selections)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, insertOrderItemSQL,
				item.ID, item.OrderID, item.VariantID, item.VendorID,
				item.Quantity, item.Price, item.LineDiscountTotal, item.LineSubtotalNet,
				selections,
			)
			if err != nil {
				return fmt.Errorf("creating order item: %w", err)
			}
		}
		return nil
	})
}

// SetShipping persists the order's shipping selection and recomputed totals.
func (r *OrderRepository) SetShipping(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, setShippingSQL,
		o.ID, o.CourierCode, o.CourierName, o.CourierMode, o.ETDDays,
		o.ShippingFee, o.Currency,
		o.ItemTotal, o.ItemDiscountTotal, o.ItemTotalNet, o.AmountPayable,
	)
	if err != nil {
		return fmt.Errorf("setting shipping for order %q: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		buyerID       *string
		paymentStatus string
		status        string
	)
	err := row.Scan(
		&o.ID, &o.Number, &buyerID, &o.Currency,
		&o.ItemTotal, &o.ItemDiscountTotal, &o.ItemTotalNet, &o.ShippingFee, &o.AmountPayable,
		&o.CourierCode, &o.CourierName, &o.CourierMode, &o.ETDDays,
		&paymentStatus, &status, &o.GatewayTxnID, &o.GatewayPaymentID, &o.CreatedAt,
	)
	if buyerID != nil {
		o.BuyerID = *buyerID
	}
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		item       order.Item
		selections []byte
	)
	err := row.Scan(
		&item.ID, &item.OrderID, &item.VariantID, &item.VendorID,
		&item.Quantity, &item.Price, &item.LineDiscountTotal, &item.LineSubtotalNet,
		&selections,
	)
	if err != nil {
		return item, err
	}
	if len(selections) > 0 {
		if err := unmarshalSelections(selections, &item.Selections); err != nil {
			return item, err
		}
	}
	return item, nil
}
