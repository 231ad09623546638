package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type couponRequest struct {
	Code string `json:"code"`
}

type couponResponse struct {
	Code   string         `json:"code"`
	Totals totalsResponse `json:"totals"`
}

// ApplyCoupon applies a coupon code to the order and returns the refreshed
// totals. Re-applying the same code supersedes the previous application.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	orderID := chi.URLParam(r, "orderID")

	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_code", "code is required")
		return
	}

	totals, err := h.coupons.Apply(ctx, orderID, code, r.Header.Get(headerUserID))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, couponResponse{
		Code:   code,
		Totals: totalsJSON(totals),
	})
}

// RemoveCoupon reverses a coupon application. Removing a code that was never
// applied succeeds and returns the current totals.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	orderID := chi.URLParam(r, "orderID")

	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_code", "code is required")
		return
	}

	totals, err := h.coupons.Remove(ctx, orderID, code)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, couponResponse{
		Code:   code,
		Totals: totalsJSON(totals),
	})
}
