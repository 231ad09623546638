// Package handler exposes the storefront HTTP API. Handlers translate
// between the JSON surface and the domain services; they hold no business
// rules of their own.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vendora/bazaar/internal/domain/cart"
	"github.com/vendora/bazaar/internal/domain/catalog"
	"github.com/vendora/bazaar/internal/domain/coupon"
	"github.com/vendora/bazaar/internal/domain/order"
	"github.com/vendora/bazaar/internal/domain/payment"
	"github.com/vendora/bazaar/internal/domain/shipping"
)

// Identity headers. Authentication itself lives at the edge; the API trusts
// these headers the way the services behind a gateway usually do.
const (
	headerUserID     = "X-User-ID"
	headerSessionKey = "X-Session-Key"
)

// Config carries the request-independent knobs the handlers need.
type Config struct {
	Currency         string
	PreferredCourier string
	// ThankYouURL and FailedURL are the browser destinations after payment.
	ThankYouURL string
	FailedURL   string
	// ReturnURL is handed to the gateway as both surl and furl.
	ReturnURL string
	Timeout   time.Duration
}

// Handler wires the domain services to the chi router.
type Handler struct {
	carts      *cart.Service
	orders     order.Repository
	snapshots  *order.Snapshotter
	coupons    *coupon.Engine
	reconciler *payment.Reconciler
	rates      shipping.Resolver
	cfg        Config
}

// New creates a Handler.
func New(
	carts *cart.Service,
	orders order.Repository,
	snapshots *order.Snapshotter,
	coupons *coupon.Engine,
	reconciler *payment.Reconciler,
	rates shipping.Resolver,
	cfg Config,
) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Handler{
		carts:      carts,
		orders:     orders,
		snapshots:  snapshots,
		coupons:    coupons,
		reconciler: reconciler,
		rates:      rates,
		cfg:        cfg,
	}
}

// Routes mounts the API surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/cart/items", h.AddCartItem)
		r.Post("/cart/merge", h.MergeCart)
		r.Post("/checkout", h.Checkout)
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Post("/coupon", h.ApplyCoupon)
			r.Delete("/coupon", h.RemoveCoupon)
			r.Put("/shipping", h.ChangeShipping)
			r.Post("/payment/start", h.StartPayment)
			r.Post("/payment/poll", h.PollPayment)
		})
		r.Get("/payments/return", h.PaymentReturn)
		r.Post("/payments/return", h.PaymentReturn)
		r.Post("/payments/webhook", h.PaymentWebhook)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type totalsResponse struct {
	ItemTotal         string `json:"item_total"`
	ItemDiscountTotal string `json:"item_discount_total"`
	ItemTotalNet      string `json:"item_total_net"`
	ShippingFee       string `json:"shipping_fee"`
	AmountPayable     string `json:"amount_payable"`
}

func totalsJSON(t order.Totals) totalsResponse {
	return totalsResponse{
		ItemTotal:         t.ItemTotal.StringFixed(2),
		ItemDiscountTotal: t.ItemDiscountTotal.StringFixed(2),
		ItemTotalNet:      t.ItemTotalNet.StringFixed(2),
		ShippingFee:       t.ShippingFee.StringFixed(2),
		AmountPayable:     t.AmountPayable.StringFixed(2),
	}
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zctx.From(r.Context()).Error("Encoding response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, r, status, errorResponse{Error: message, Code: code})
}

// respondDomainError maps domain sentinels and rejection types onto the HTTP
// surface.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var rejection *coupon.RejectionError
	var gatewayErr *payment.GatewayError
	switch {
	case errors.As(err, &rejection):
		respondError(w, r, http.StatusUnprocessableEntity, "coupon_rejected", rejection.Reason)
	case errors.Is(err, coupon.ErrInvalidCode):
		respondError(w, r, http.StatusNotFound, "invalid_code", "coupon code not found")
	case errors.Is(err, order.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "order_not_found", "order not found")
	case errors.Is(err, order.ErrEmptyCart):
		respondError(w, r, http.StatusUnprocessableEntity, "empty_cart", "cart is empty")
	case errors.Is(err, cart.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "cart_not_found", "cart not found")
	case errors.Is(err, catalog.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "variant_not_found", "product variant not found")
	case errors.Is(err, cart.ErrVariantInactive):
		respondError(w, r, http.StatusUnprocessableEntity, "variant_inactive", "product variant is not available")
	case errors.Is(err, cart.ErrInsufficientStock):
		respondError(w, r, http.StatusUnprocessableEntity, "insufficient_stock", "not enough stock for the requested quantity")
	case errors.Is(err, cart.ErrInvalidQuantity):
		respondError(w, r, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
	case errors.Is(err, cart.ErrOwnerUnspecified), errors.Is(err, cart.ErrOwnerOverspecified):
		respondError(w, r, http.StatusBadRequest, "invalid_identity", "exactly one of user id or session key is required")
	case errors.Is(err, shipping.ErrNoRates):
		respondError(w, r, http.StatusUnprocessableEntity, "no_shipping_rates", "no shipping rates available for this destination")
	case errors.Is(err, payment.ErrAlreadyPaid):
		respondError(w, r, http.StatusConflict, "already_paid", "order is already paid")
	case errors.As(err, &gatewayErr):
		respondError(w, r, http.StatusBadGateway, "gateway_rejected", gatewayErr.Reason)
	default:
		zctx.From(r.Context()).Error("Unhandled error", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func ownerFromRequest(r *http.Request) cart.Owner {
	return cart.Owner{
		UserID:     r.Header.Get(headerUserID),
		SessionKey: r.Header.Get(headerSessionKey),
	}
}
