// Package payment reconciles the three racing notifications from the
// payment gateway (browser return, async webhook, manual status poll) into a
// single idempotent order state transition. The gateway's status endpoint is
// the only source of truth: redirect payloads are never trusted, and
// inconclusive verification fails closed, so an order is never marked PAID
// without a positive verified answer.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrVerificationInconclusive means every candidate status endpoint
	// failed or returned an unparseable answer. The order must stay in its
	// last safe state.
	ErrVerificationInconclusive = errors.New("gateway verification inconclusive")
	// ErrAlreadyPaid is returned by Start when the order needs no payment,
	// including when a callback settled it mid-initiation.
	ErrAlreadyPaid = errors.New("order already paid")
)

// GatewayError is a validation rejection from the payment provider,
// surfaced to the caller without advancing order state.
type GatewayError struct {
	Reason string
}

func (e *GatewayError) Error() string {
	return "gateway rejected payment: " + e.Reason
}

// InitiateRequest holds what the gateway needs to open a hosted checkout.
type InitiateRequest struct {
	TxnID       string
	Amount      decimal.Decimal
	ProductInfo string
	FirstName   string
	Email       string
	Phone       string
	SuccessURL  string
	FailureURL  string
	// OrderNumber travels in the first user-defined field so return and
	// webhook payloads can be mapped back to the order.
	OrderNumber string
}

// InitiateResult is a successful gateway initiation.
type InitiateResult struct {
	CheckoutURL string
	Raw         []byte
}

// VerifyResult is the gateway's authoritative answer for one transaction.
type VerifyResult struct {
	// Success is true only for definitive success states (success/captured).
	Success bool
	// Status is the raw gateway status string, for audit.
	Status           string
	GatewayPaymentID string
	Raw              []byte
}

// Gateway is the payment provider client. QueryStatus must try its
// configured candidate endpoints in order and return
// ErrVerificationInconclusive when none yields a definitive answer.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	QueryStatus(ctx context.Context, txnID, gatewayPaymentID string) (*VerifyResult, error)
}

// VendorSummary aggregates one vendor's share of an order, used in the
// per-vendor paid notification.
type VendorSummary struct {
	VendorID  string
	ItemCount int
	Gross     decimal.Decimal
	Discount  decimal.Decimal
}

// Net returns the vendor's net take.
func (v VendorSummary) Net() decimal.Decimal {
	return v.Gross.Sub(v.Discount)
}

// Store persists payment state transitions. TransitionPaid and
// TransitionFailed are conditional updates guarded by payment_status so
// that of two racing callers exactly one observes won == true, and a PAID
// order can never be demoted.
type Store interface {
	// MarkPending records the gateway transaction id and moves the order to
	// PENDING iff payment_status != PAID. It returns ErrAlreadyPaid when the
	// guard refuses the write, so an initiation that raced a successful
	// callback cannot demote the order.
	MarkPending(ctx context.Context, orderID, txnID string) error
	// TransitionPaid sets payment_status = PAID and fulfillment status =
	// PROCESSING iff payment_status != PAID. won reports whether this call
	// performed the transition.
	TransitionPaid(ctx context.Context, orderID, gatewayPaymentID string) (won bool, err error)
	// TransitionFailed sets payment_status = FAILED iff payment_status !=
	// PAID.
	TransitionFailed(ctx context.Context, orderID string) error
	// AppendMeta merges a raw gateway exchange into the order's audit
	// payload. It must succeed or fail independently of state transitions:
	// raw payloads are persisted regardless of parse outcome.
	AppendMeta(ctx context.Context, orderID, key string, payload []byte) error
	// VendorSummaries aggregates the order's lines per vendor.
	VendorSummaries(ctx context.Context, orderID string) ([]VendorSummary, error)
}

// Event is published after a successful PAID commit.
type Event struct {
	OrderID     string
	OrderNumber string
	BuyerID     string
	Amount      decimal.Decimal
	Currency    string
}

// Publisher emits post-commit events. Implementations must only be invoked
// after the PAID transition is durable, so consumers never observe an event
// for a rolled-back transaction.
type Publisher interface {
	OrderPaid(ctx context.Context, ev Event) error
}
