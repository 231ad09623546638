// Package shipping defines the rate-resolver boundary. Provider internals
// (auth, serviceability APIs) live under internal/shipping; the pricing core
// consumes only the chosen RateOption.
package shipping

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNoRates is returned when the provider reports no serviceable couriers.
var ErrNoRates = errors.New("no shipping rates available")

// RateOption is one courier quote for a pickup/delivery/weight triple.
type RateOption struct {
	Name          string
	Code          string
	Amount        decimal.Decimal
	Currency      string
	EstimatedDays int
}

// Mode derives the transport mode from the courier name.
func (r RateOption) Mode() string {
	name := strings.ToLower(r.Name)
	switch {
	case strings.Contains(name, "surface"):
		return "surface"
	case strings.Contains(name, "air"):
		return "air"
	}
	return ""
}

// Query describes a rate lookup.
type Query struct {
	PickupPostcode   string
	DeliveryPostcode string
	WeightKg         decimal.Decimal
}

// Resolver fetches courier rate options from the shipping provider.
type Resolver interface {
	Rates(ctx context.Context, q Query) ([]RateOption, error)
}

// Select picks one option deterministically: an option whose name contains
// both preferredCourier and "surface", else any surface option, else the
// first option returned.
func Select(options []RateOption, preferredCourier string) (RateOption, error) {
	if len(options) == 0 {
		return RateOption{}, ErrNoRates
	}

	preferred := strings.ToLower(preferredCourier)
	for _, opt := range options {
		name := strings.ToLower(opt.Name)
		if preferred != "" && strings.Contains(name, preferred) && strings.Contains(name, "surface") {
			return opt, nil
		}
	}
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Name), "surface") {
			return opt, nil
		}
	}
	return options[0], nil
}
