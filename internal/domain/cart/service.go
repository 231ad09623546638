package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/vendora/bazaar/internal/domain/catalog"
)

// Service implements cart mutations on top of a Store and the catalog.
type Service struct {
	store    Store
	variants catalog.Repository
}

// NewService creates a cart Service.
func NewService(store Store, variants catalog.Repository) *Service {
	return &Service{store: store, variants: variants}
}

// AddItemRequest holds the input for adding a variant to a cart.
type AddItemRequest struct {
	Owner      Owner
	VariantID  string
	Quantity   int
	Selections map[string]string
	// Override replaces the existing quantity instead of incrementing it.
	Override bool
}

// AddItem adds a variant to the owner's cart, creating the cart lazily on
// first add. The stock check only verifies availability; real stock is not
// decremented until fulfillment.
func (s *Service) AddItem(ctx context.Context, req AddItemRequest) (*Item, error) {
	if err := req.Owner.Validate(); err != nil {
		return nil, err
	}
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	variant, err := s.variants.GetByID(ctx, req.VariantID)
	if err != nil {
		return nil, errors.Wrap(err, "get variant")
	}
	if !variant.Active {
		return nil, ErrVariantInactive
	}
	if variant.Stock < req.Quantity {
		return nil, ErrInsufficientStock
	}

	crt, err := s.store.GetOrCreate(ctx, req.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "get or create cart")
	}

	var result *Item
	addLine := func(tx Tx) error {
		existing, err := tx.ItemForUpdate(ctx, crt.ID, req.VariantID)
		if err != nil {
			return err
		}

		if existing == nil {
			item := &Item{
				ID:         uuid.New().String(),
				CartID:     crt.ID,
				VariantID:  req.VariantID,
				Quantity:   req.Quantity,
				Selections: req.Selections,
			}
			if err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
			result = item
			return nil
		}

		newQty := existing.Quantity + req.Quantity
		if req.Override {
			newQty = req.Quantity
		}
		if variant.Stock < newQty {
			return ErrInsufficientStock
		}
		if err := tx.UpdateItemQuantity(ctx, existing.ID, newQty); err != nil {
			return err
		}
		existing.Quantity = newQty
		result = existing
		return nil
	}

	err = s.store.InTx(ctx, addLine)
	if errors.Is(err, ErrItemExists) {
		// Lost a first-insert race; the retry locks the winner's row and
		// increments it.
		err = s.store.InTx(ctx, addLine)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Merge folds the session cart's items into the user's cart, summing
// quantities for matching variants, then deletes the session cart. Missing
// session carts are a no-op: there is nothing to merge after, for example,
// a double-submitted login.
func (s *Service) Merge(ctx context.Context, userID, sessionKey string) error {
	if userID == "" || sessionKey == "" {
		return ErrOwnerUnspecified
	}

	src, err := s.store.Get(ctx, Owner{SessionKey: sessionKey})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "get session cart")
	}

	dst, err := s.store.GetOrCreate(ctx, Owner{UserID: userID})
	if err != nil {
		return errors.Wrap(err, "get or create user cart")
	}

	return s.store.InTx(ctx, func(tx Tx) error {
		srcItems, err := tx.Items(ctx, src.ID)
		if err != nil {
			return err
		}
		for _, item := range srcItems {
			existing, err := tx.ItemForUpdate(ctx, dst.ID, item.VariantID)
			if err != nil {
				return err
			}
			if existing == nil {
				moved := item
				moved.ID = uuid.New().String()
				moved.CartID = dst.ID
				if err := tx.InsertItem(ctx, &moved); err != nil {
					return err
				}
				continue
			}
			if err := tx.UpdateItemQuantity(ctx, existing.ID, existing.Quantity+item.Quantity); err != nil {
				return err
			}
		}
		return tx.DeleteCart(ctx, src.ID)
	})
}

// Items returns the current lines of the owner's cart. A missing cart is
// reported as empty, not as an error.
func (s *Service) Items(ctx context.Context, owner Owner) ([]Item, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	crt, err := s.store.Get(ctx, owner)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.store.Items(ctx, crt.ID)
}
