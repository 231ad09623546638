// Package catalog exposes the read-only slice of the product catalog that
// the pricing core depends on: sellable variants with their current sale
// price, owning vendor, and stock level. Catalog management itself (CRUD,
// images, search) lives outside this module.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested variant does not exist.
var ErrNotFound = errors.New("variant not found")

// Variant is a sellable product variation. Price is the current sale price;
// orders freeze it at snapshot time and never read it again.
type Variant struct {
	ID       string
	Name     string
	VendorID string
	Price    decimal.Decimal
	Stock    int
	Active   bool
}

// Repository provides variant lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Variant, error)
	GetByIDs(ctx context.Context, ids []string) ([]Variant, error)
}
