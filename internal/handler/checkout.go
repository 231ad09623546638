package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vendora/bazaar/internal/domain/order"
	"github.com/vendora/bazaar/internal/domain/payment"
	"github.com/vendora/bazaar/internal/domain/shipping"
)

// defaultUnitWeightKg is assumed per item unit when the client does not send
// a weight. Variant-level weights are a catalog concern not modeled yet.
var defaultUnitWeightKg = decimal.RequireFromString("0.5")

type checkoutRequest struct {
	DeliveryPostcode string          `json:"delivery_postcode"`
	WeightKg         decimal.Decimal `json:"weight_kg,omitempty"`
}

type checkoutResponse struct {
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	Courier     string         `json:"courier"`
	CourierMode string         `json:"courier_mode,omitempty"`
	Totals      totalsResponse `json:"totals"`
}

// Checkout snapshots the caller's cart into an order with a resolved
// shipping rate and returns the frozen totals.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.DeliveryPostcode == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_postcode", "delivery_postcode is required")
		return
	}

	owner := ownerFromRequest(r)
	items, err := h.carts.Items(ctx, owner)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if len(items) == 0 {
		respondDomainError(w, r, order.ErrEmptyCart)
		return
	}

	weight := req.WeightKg
	if !weight.IsPositive() {
		units := 0
		for _, it := range items {
			units += it.Quantity
		}
		weight = defaultUnitWeightKg.Mul(decimal.NewFromInt(int64(units)))
	}

	options, err := h.rates.Rates(ctx, shipping.Query{
		DeliveryPostcode: req.DeliveryPostcode,
		WeightKg:         weight,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	rate, err := shipping.Select(options, h.cfg.PreferredCourier)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	o, _, err := h.snapshots.Snapshot(ctx, order.SnapshotRequest{
		BuyerID:  owner.UserID,
		Currency: h.cfg.Currency,
		Items:    items,
		Rate:     rate,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, checkoutResponse{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Courier:     o.CourierName,
		CourierMode: o.CourierMode,
		Totals:      totalsJSON(o.Totals()),
	})
}

type changeShippingRequest struct {
	DeliveryPostcode string `json:"delivery_postcode"`
	// Courier overrides the server-side preferred courier for this order.
	Courier  string          `json:"courier,omitempty"`
	WeightKg decimal.Decimal `json:"weight_kg,omitempty"`
}

type shippingResponse struct {
	Courier     string         `json:"courier"`
	CourierMode string         `json:"courier_mode,omitempty"`
	ETDDays     int            `json:"etd_days,omitempty"`
	Totals      totalsResponse `json:"totals"`
}

// ChangeShipping re-resolves rates and replaces the order's shipping
// selection, recomputing the payable amount. Refused once the order is paid.
func (h *Handler) ChangeShipping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	var req changeShippingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.DeliveryPostcode == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_postcode", "delivery_postcode is required")
		return
	}

	o, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if o.PaymentStatus == order.PaymentPaid {
		respondDomainError(w, r, payment.ErrAlreadyPaid)
		return
	}
	items, err := h.orders.Items(ctx, o.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	weight := req.WeightKg
	if !weight.IsPositive() {
		units := 0
		for _, it := range items {
			units += it.Quantity
		}
		weight = defaultUnitWeightKg.Mul(decimal.NewFromInt(int64(units)))
	}

	options, err := h.rates.Rates(ctx, shipping.Query{
		DeliveryPostcode: req.DeliveryPostcode,
		WeightKg:         weight,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	preferred := req.Courier
	if preferred == "" {
		preferred = h.cfg.PreferredCourier
	}
	rate, err := shipping.Select(options, preferred)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	if err := h.snapshots.AssignShipping(ctx, o, items, rate); err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, shippingResponse{
		Courier:     o.CourierName,
		CourierMode: o.CourierMode,
		ETDDays:     o.ETDDays,
		Totals:      totalsJSON(o.Totals()),
	})
}
