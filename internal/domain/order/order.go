// Package order holds the immutable order snapshot, its line items, the
// layered totals calculator, and the checkout-time snapshotter that freezes
// a cart into an order. After snapshot creation no code path re-derives
// prices from the catalog: all downstream pricing operates on the frozen
// line data only.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vendora/bazaar/internal/domain/money"
)

// PaymentStatus tracks how far the gateway reconciliation has advanced.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "UNPAID"
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Status is the fulfillment state, independent of payment.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCanceled   Status = "CANCELED"
	StatusRefunded   Status = "REFUNDED"
)

var (
	ErrEmptyCart = errors.New("cart has no items")
	ErrNotFound  = errors.New("order not found")
	// ErrNegativeLineNet signals a broken allocation invariant. It is a
	// programming error: the enclosing transaction must roll back.
	ErrNegativeLineNet = errors.New("line net subtotal below zero")
)

// Order is an immutable snapshot of a cart plus its evolving payment and
// fulfillment state. AmountPayable is written only by Recompute.
type Order struct {
	ID       string
	Number   string // public 8-digit identifier used in URLs and txn ids
	BuyerID  string
	Currency string

	ItemTotal         decimal.Decimal
	ItemDiscountTotal decimal.Decimal
	ItemTotalNet      decimal.Decimal
	ShippingFee       decimal.Decimal
	AmountPayable     decimal.Decimal

	CourierCode string
	CourierName string
	CourierMode string // "surface", "air", or empty
	ETDDays     int

	PaymentStatus    PaymentStatus
	Status           Status
	GatewayTxnID     string
	GatewayPaymentID string

	CreatedAt time.Time
}

// Item is a frozen order line: unit price captured from the variant's sale
// price at snapshot time, vendor attributed from the variant's owner.
type Item struct {
	ID                string
	OrderID           string
	VariantID         string
	VendorID          string
	Quantity          int
	Price             decimal.Decimal
	LineDiscountTotal decimal.Decimal
	LineSubtotalNet   decimal.Decimal
	Selections        map[string]string
}

// Gross returns price * quantity for this line.
func (i *Item) Gross() decimal.Decimal {
	return money.Line(i.Price, i.Quantity)
}

// RecomputeNet refreshes LineSubtotalNet from the frozen price and the
// accumulated discount. A negative result violates the allocation invariant.
func (i *Item) RecomputeNet() error {
	net := i.Gross().Sub(i.LineDiscountTotal)
	if net.IsNegative() {
		return errors.Wrapf(ErrNegativeLineNet, "item %s", i.ID)
	}
	i.LineSubtotalNet = net
	return nil
}

// Totals is the tuple returned by every mutating operation.
type Totals struct {
	ItemTotal         decimal.Decimal
	ItemDiscountTotal decimal.Decimal
	ItemTotalNet      decimal.Decimal
	ShippingFee       decimal.Decimal
	AmountPayable     decimal.Decimal
}

// Totals reports the order's current totals tuple.
func (o *Order) Totals() Totals {
	return Totals{
		ItemTotal:         o.ItemTotal,
		ItemDiscountTotal: o.ItemDiscountTotal,
		ItemTotalNet:      o.ItemTotalNet,
		ShippingFee:       o.ShippingFee,
		AmountPayable:     o.AmountPayable,
	}
}

// Repository provides order persistence for the snapshot and read paths.
// Multi-row mutations (coupon apply/remove, payment transitions) flow
// through the transactional stores of their own packages.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	Items(ctx context.Context, orderID string) ([]Item, error)
	CreateWithItems(ctx context.Context, o *Order, items []Item) error
	SetShipping(ctx context.Context, o *Order) error
}
