package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vendora/bazaar/internal/domain/payment"
)

type startPaymentRequest struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type startPaymentResponse struct {
	TxnID       string `json:"txn_id"`
	CheckoutURL string `json:"checkout_url"`
}

// StartPayment initiates a hosted-checkout session for the order.
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	var req startPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.FirstName == "" || req.Email == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_buyer", "first_name and email are required")
		return
	}

	o, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	res, err := h.reconciler.Start(ctx, o, payment.Buyer{
		FirstName: req.FirstName,
		Email:     req.Email,
		Phone:     req.Phone,
	}, h.cfg.ReturnURL, h.cfg.ReturnURL)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, startPaymentResponse{
		TxnID:       res.TxnID,
		CheckoutURL: res.CheckoutURL,
	})
}

type pollPaymentResponse struct {
	Outcome       string `json:"outcome"`
	PaymentStatus string `json:"payment_status"`
}

// PollPayment re-verifies the order's transaction against the gateway on
// demand. It covers the case where neither the browser return nor the
// webhook arrived, such as a closed tab after a completed payment.
func (h *Handler) PollPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	o, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	outcome, o, err := h.reconciler.Poll(ctx, o.Number)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, pollPaymentResponse{
		Outcome:       string(outcome),
		PaymentStatus: string(o.PaymentStatus),
	})
}

// PaymentReturn is the browser redirect entry point. The claimed status in
// the payload is recorded but never trusted; the destination follows the
// verified outcome alone.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	cb := callbackFromRequest(r)
	outcome, o, err := h.reconciler.HandleReturn(ctx, cb)
	if err != nil {
		zctx.From(ctx).Warn("Payment return reconciliation failed",
			zap.String("txn_id", cb.TxnID), zap.Error(err))
		outcome = payment.OutcomeInconclusive
	}

	dest := h.cfg.FailedURL
	if outcome == payment.OutcomePaid {
		dest = h.cfg.ThankYouURL
	}
	q := url.Values{}
	if o != nil {
		q.Set("order", o.Number)
	}
	if outcome == payment.OutcomeInconclusive {
		q.Set("status", "pending")
	}
	if len(q) > 0 {
		dest += "?" + q.Encode()
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

// PaymentWebhook is the asynchronous gateway push. It always answers 200 so
// the gateway does not retry storms on transient verification failures; the
// poll entry point covers anything missed.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	cb := callbackFromRequest(r)
	outcome, _, err := h.reconciler.HandleWebhook(ctx, cb)
	if err != nil {
		zctx.From(ctx).Warn("Payment webhook reconciliation failed",
			zap.String("txn_id", cb.TxnID), zap.Error(err))
		respondJSON(w, r, http.StatusOK, map[string]bool{"ok": false})
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]bool{
		"ok": outcome != payment.OutcomeInconclusive,
	})
}

// callbackFromRequest extracts the gateway fields from a redirect or webhook
// payload. Both arrive form-encoded; the full set of values is kept raw for
// the audit trail.
func callbackFromRequest(r *http.Request) payment.GatewayCallback {
	_ = r.ParseForm()
	values := r.Form

	raw, err := json.Marshal(values)
	if err != nil {
		raw = nil
	}
	return payment.GatewayCallback{
		OrderNumber:      values.Get("udf1"),
		TxnID:            values.Get("txnid"),
		GatewayPaymentID: values.Get("easepayid"),
		ClaimedStatus:    values.Get("status"),
		Raw:              raw,
	}
}
