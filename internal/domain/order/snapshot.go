package order

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/vendora/bazaar/internal/domain/cart"
	"github.com/vendora/bazaar/internal/domain/catalog"
	"github.com/vendora/bazaar/internal/domain/money"
	"github.com/vendora/bazaar/internal/domain/shipping"
)

// Snapshotter freezes a live cart into an immutable order. The cart itself
// is left untouched so an interrupted checkout can resume; it is discarded
// only after payment succeeds.
type Snapshotter struct {
	orders   Repository
	variants catalog.Repository
}

// NewSnapshotter creates a Snapshotter.
func NewSnapshotter(orders Repository, variants catalog.Repository) *Snapshotter {
	return &Snapshotter{orders: orders, variants: variants}
}

// SnapshotRequest holds the checkout-start input.
type SnapshotRequest struct {
	BuyerID  string
	Currency string
	Items    []cart.Item
	Rate     shipping.RateOption
}

// Snapshot creates one order item per cart item with the unit price frozen
// from the variant's current sale price and the vendor attributed from the
// variant's owner, applies the chosen shipping rate, recomputes totals once,
// and persists the order with its items atomically.
func (s *Snapshotter) Snapshot(ctx context.Context, req SnapshotRequest) (*Order, []Item, error) {
	if len(req.Items) == 0 {
		return nil, nil, ErrEmptyCart
	}

	ids := make([]string, len(req.Items))
	for i, it := range req.Items {
		ids[i] = it.VariantID
	}
	variants, err := s.variants.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get variants")
	}
	byID := make(map[string]catalog.Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}

	o := &Order{
		ID:            uuid.New().String(),
		Number:        newOrderNumber(),
		BuyerID:       req.BuyerID,
		Currency:      req.Currency,
		PaymentStatus: PaymentUnpaid,
		Status:        StatusPending,
	}

	items := make([]Item, 0, len(req.Items))
	for _, ci := range req.Items {
		v, ok := byID[ci.VariantID]
		if !ok {
			return nil, nil, errors.Wrapf(catalog.ErrNotFound, "variant %s", ci.VariantID)
		}
		item := Item{
			ID:                uuid.New().String(),
			OrderID:           o.ID,
			VariantID:         v.ID,
			VendorID:          v.VendorID,
			Quantity:          ci.Quantity,
			Price:             money.Quantize(v.Price),
			LineDiscountTotal: money.Zero,
			Selections:        ci.Selections,
		}
		if err := item.RecomputeNet(); err != nil {
			return nil, nil, err
		}
		items = append(items, item)
	}

	applyRate(o, req.Rate)
	Recompute(o, items)

	if err := s.orders.CreateWithItems(ctx, o, items); err != nil {
		return nil, nil, errors.Wrap(err, "create order")
	}
	return o, items, nil
}

// AssignShipping replaces the order's shipping selection and recomputes
// totals. Used when the buyer changes couriers before paying.
func (s *Snapshotter) AssignShipping(ctx context.Context, o *Order, items []Item, rate shipping.RateOption) error {
	applyRate(o, rate)
	Recompute(o, items)
	return s.orders.SetShipping(ctx, o)
}

func applyRate(o *Order, rate shipping.RateOption) {
	o.CourierCode = rate.Code
	o.CourierName = rate.Name
	o.CourierMode = rate.Mode()
	o.ETDDays = rate.EstimatedDays
	o.ShippingFee = money.Quantize(rate.Amount)
	if rate.Currency != "" {
		o.Currency = rate.Currency
	}
}

// newOrderNumber generates the public 8-digit order identifier. Uniqueness
// is enforced by the database constraint; collisions on 10^8 values are rare
// enough that the insert simply retries at a higher level.
func newOrderNumber() string {
	n, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(err)
	}
	digits := n.String()
	for len(digits) < 8 {
		digits = "0" + digits
	}
	return digits
}
