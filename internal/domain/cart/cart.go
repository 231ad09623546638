// Package cart implements the mutable pre-checkout shopping cart: one cart
// per identity (authenticated user or anonymous session), line items unique
// per variant, and the merge that folds a session cart into a user cart on
// login.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors surfaced to callers as rejection reasons.
var (
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrVariantInactive    = errors.New("variant is not active")
	ErrInsufficientStock  = errors.New("insufficient stock for requested quantity")
	ErrNotFound           = errors.New("cart not found")
	ErrOwnerUnspecified   = errors.New("cart owner must be a user or a session")
	ErrOwnerOverspecified = errors.New("cart owner cannot be both a user and a session")
	// ErrItemExists is returned by Tx.InsertItem when a concurrent request
	// inserted the same (cart, variant) line first. The service retries the
	// transaction, which then finds the row and increments it.
	ErrItemExists = errors.New("cart item already exists")
)

// Owner identifies who a cart belongs to. Exactly one of UserID or
// SessionKey must be set.
type Owner struct {
	UserID     string
	SessionKey string
}

// Validate checks the user-XOR-session invariant.
func (o Owner) Validate() error {
	switch {
	case o.UserID == "" && o.SessionKey == "":
		return ErrOwnerUnspecified
	case o.UserID != "" && o.SessionKey != "":
		return ErrOwnerOverspecified
	}
	return nil
}

// Cart is a mutable collection of items owned by one identity.
type Cart struct {
	ID         string
	UserID     string
	SessionKey string
	CreatedAt  time.Time
}

// Item is a (cart, variant) line. Selections captures the variant option
// labels chosen at add time; they are display-only and never affect pricing.
type Item struct {
	ID         string
	CartID     string
	VariantID  string
	Quantity   int
	Selections map[string]string
	AddedAt    time.Time
}

// Tx is the transactional view the service works through. Implementations
// must lock the item row (ItemForUpdate) before the stock check so that
// concurrent adds on the same cart/variant cannot produce an over-committed
// quantity.
type Tx interface {
	// ItemForUpdate returns the locked item for (cartID, variantID),
	// or nil when the cart has no such line yet.
	ItemForUpdate(ctx context.Context, cartID, variantID string) (*Item, error)
	// InsertItem adds a new line, returning ErrItemExists on a unique
	// conflict. FOR UPDATE cannot lock a row that does not exist yet, so two
	// first-adds of the same line can both reach the insert.
	InsertItem(ctx context.Context, item *Item) error
	UpdateItemQuantity(ctx context.Context, itemID string, quantity int) error
	Items(ctx context.Context, cartID string) ([]Item, error)
	DeleteCart(ctx context.Context, cartID string) error
}

// Store provides cart persistence. InTx runs fn inside a single database
// transaction, rolling back when fn returns an error.
type Store interface {
	GetOrCreate(ctx context.Context, owner Owner) (*Cart, error)
	Get(ctx context.Context, owner Owner) (*Cart, error)
	Items(ctx context.Context, cartID string) ([]Item, error)
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
