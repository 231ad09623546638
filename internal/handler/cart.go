package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vendora/bazaar/internal/domain/cart"
)

type addCartItemRequest struct {
	VariantID  string            `json:"variant_id"`
	Quantity   int               `json:"quantity"`
	Selections map[string]string `json:"selections,omitempty"`
	Override   bool              `json:"override,omitempty"`
}

type cartItemResponse struct {
	ID         string            `json:"id"`
	VariantID  string            `json:"variant_id"`
	Quantity   int               `json:"quantity"`
	Selections map[string]string `json:"selections,omitempty"`
}

// AddCartItem adds a variant to the caller's cart, or overrides its quantity
// when override is set.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.VariantID == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_variant_id", "variant_id is required")
		return
	}

	item, err := h.carts.AddItem(ctx, cart.AddItemRequest{
		Owner:      ownerFromRequest(r),
		VariantID:  req.VariantID,
		Quantity:   req.Quantity,
		Selections: req.Selections,
		Override:   req.Override,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, cartItemResponse{
		ID:         item.ID,
		VariantID:  item.VariantID,
		Quantity:   item.Quantity,
		Selections: item.Selections,
	})
}

// MergeCart folds the caller's session cart into their user cart after
// login. Both identity headers are required.
func (h *Handler) MergeCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	userID := r.Header.Get(headerUserID)
	sessionKey := r.Header.Get(headerSessionKey)
	if userID == "" || sessionKey == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_identity", "both user id and session key are required for merge")
		return
	}

	if err := h.carts.Merge(ctx, userID, sessionKey); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}
