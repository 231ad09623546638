package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vendora/bazaar/internal/domain/notify"
	"github.com/vendora/bazaar/internal/domain/order"
)

// Outcome is the reconciler's verdict for one entry-point invocation. The
// HTTP layer derives redirect destinations from it and from nothing else.
type Outcome string

const (
	// OutcomePaid: the order is PAID (this call won the transition or it
	// was already paid).
	OutcomePaid Outcome = "PAID"
	// OutcomeFailed: verification returned a definitive failure.
	OutcomeFailed Outcome = "FAILED"
	// OutcomeInconclusive: verification could not be completed; the order
	// keeps its last safe state.
	OutcomeInconclusive Outcome = "INCONCLUSIVE"
)

// Buyer carries the payer identity fields the gateway requires.
type Buyer struct {
	FirstName string
	Email     string
	Phone     string
}

// Reconciler drives the payment state machine
// UNPAID → PENDING → {PAID, FAILED} from its three entry points. FAILED may
// move back to PENDING on retry; PAID is sticky.
type Reconciler struct {
	orders    order.Repository
	store     Store
	gateway   Gateway
	notifier  notify.Dispatcher
	publisher Publisher
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	orders order.Repository,
	store Store,
	gateway Gateway,
	notifier notify.Dispatcher,
	publisher Publisher,
) *Reconciler {
	return &Reconciler{
		orders:    orders,
		store:     store,
		gateway:   gateway,
		notifier:  notifier,
		publisher: publisher,
	}
}

// StartResult is the successful outcome of Start.
type StartResult struct {
	TxnID       string
	CheckoutURL string
}

// Start initiates a gateway payment for the order: builds the signed
// initiation request, persists the transaction id, and moves the order to
// PENDING. Gateway rejections surface as *GatewayError without mutating
// order state beyond the recorded raw exchange.
func (r *Reconciler) Start(ctx context.Context, o *order.Order, buyer Buyer, successURL, failureURL string) (*StartResult, error) {
	if o.PaymentStatus == order.PaymentPaid {
		return nil, ErrAlreadyPaid
	}
	if !o.AmountPayable.IsPositive() {
		return nil, &GatewayError{Reason: "amount must be greater than 0"}
	}

	txnID := newTxnID(o.Number)
	res, err := r.gateway.Initiate(ctx, InitiateRequest{
		TxnID:       txnID,
		Amount:      o.AmountPayable,
		ProductInfo: fmt.Sprintf("Order %s", o.Number),
		FirstName:   buyer.FirstName,
		Email:       buyer.Email,
		Phone:       buyer.Phone,
		SuccessURL:  successURL,
		FailureURL:  failureURL,
		OrderNumber: o.Number,
	})
	if res != nil && len(res.Raw) > 0 {
		r.audit(ctx, o.ID, "initiate", res.Raw)
	}
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			r.audit(ctx, o.ID, "initiate_rejected", []byte(fmt.Sprintf("%q", gwErr.Reason)))
			return nil, err
		}
		return nil, errors.Wrap(err, "initiate payment")
	}

	if err := r.store.MarkPending(ctx, o.ID, txnID); err != nil {
		if errors.Is(err, ErrAlreadyPaid) {
			// A webhook or return settled the payment while the initiation
			// round-trip was in flight; the order stays PAID.
			return nil, ErrAlreadyPaid
		}
		return nil, errors.Wrap(err, "mark pending")
	}
	return &StartResult{TxnID: txnID, CheckoutURL: res.CheckoutURL}, nil
}

// GatewayCallback is the parsed redirect or webhook payload. Its claimed
// status is untrusted input and only recorded for audit.
type GatewayCallback struct {
	OrderNumber      string
	TxnID            string
	GatewayPaymentID string
	ClaimedStatus    string
	Raw              []byte
}

// HandleReturn processes the synchronous browser-redirect entry point.
func (r *Reconciler) HandleReturn(ctx context.Context, cb GatewayCallback) (Outcome, *order.Order, error) {
	return r.reconcile(ctx, cb, "return")
}

// HandleWebhook processes the asynchronous server-to-server entry point.
func (r *Reconciler) HandleWebhook(ctx context.Context, cb GatewayCallback) (Outcome, *order.Order, error) {
	return r.reconcile(ctx, cb, "webhook")
}

// Poll re-verifies the order's transaction on demand (manual status check).
func (r *Reconciler) Poll(ctx context.Context, orderNumber string) (Outcome, *order.Order, error) {
	return r.reconcile(ctx, GatewayCallback{OrderNumber: orderNumber}, "poll")
}

// reconcile is the single convergence point for all entry points: persist
// the raw payload, re-verify against the gateway, and apply the one
// transition rule.
func (r *Reconciler) reconcile(ctx context.Context, cb GatewayCallback, source string) (Outcome, *order.Order, error) {
	lg := zctx.From(ctx)

	o, err := r.orders.GetByNumber(ctx, cb.OrderNumber)
	if err != nil {
		return "", nil, err
	}

	if len(cb.Raw) > 0 {
		r.audit(ctx, o.ID, source, cb.Raw)
	}

	txnID := cb.TxnID
	if txnID == "" {
		txnID = o.GatewayTxnID
	}
	gatewayPaymentID := cb.GatewayPaymentID
	if gatewayPaymentID == "" {
		gatewayPaymentID = o.GatewayPaymentID
	}

	verified, err := r.gateway.QueryStatus(ctx, txnID, gatewayPaymentID)
	if err != nil {
		// Fail closed: no transition on inconclusive verification.
		lg.Warn("Gateway verification inconclusive",
			zap.String("order", o.Number),
			zap.String("source", source),
			zap.Error(err))
		return OutcomeInconclusive, o, nil
	}

	r.audit(ctx, o.ID, source+"_verify", verified.Raw)
	if verified.GatewayPaymentID != "" {
		gatewayPaymentID = verified.GatewayPaymentID
	}

	if verified.Success {
		won, err := r.store.TransitionPaid(ctx, o.ID, gatewayPaymentID)
		if err != nil {
			return "", nil, errors.Wrap(err, "transition paid")
		}
		o.PaymentStatus = order.PaymentPaid
		o.Status = order.StatusProcessing
		if won {
			r.fanOut(ctx, o)
		}
		return OutcomePaid, o, nil
	}

	lg.Info("Gateway reported failure",
		zap.String("order", o.Number),
		zap.String("source", source),
		zap.String("status", verified.Status))
	if err := r.store.TransitionFailed(ctx, o.ID); err != nil {
		return "", nil, errors.Wrap(err, "transition failed")
	}
	if o.PaymentStatus == order.PaymentPaid {
		// The conditional update refused the demotion; report the durable
		// state, not the stale gateway answer.
		return OutcomePaid, o, nil
	}
	o.PaymentStatus = order.PaymentFailed
	return OutcomeFailed, o, nil
}

// fanOut emits the one-time PAID side effects: buyer notification, one
// notification per vendor present in the order, and the post-commit event.
// It runs only in the call that won the PAID transition; NotifyOnce
// deduplicates by (recipient, title, order) as a second line of defense.
func (r *Reconciler) fanOut(ctx context.Context, o *order.Order) {
	lg := zctx.From(ctx)

	if o.BuyerID != "" {
		err := r.notifier.NotifyOnce(ctx, notify.Notification{
			RecipientID: o.BuyerID,
			Type:        notify.TypeOrder,
			Level:       notify.LevelSuccess,
			Title:       "Order placed",
			Message:     fmt.Sprintf("Thanks! Your order #%s has been placed.", o.Number),
			OrderID:     o.ID,
			TargetURL:   fmt.Sprintf("/customer/orders/%s/", o.Number),
		})
		if err != nil {
			lg.Warn("Buyer notification failed", zap.String("order", o.Number), zap.Error(err))
		}
	}

	summaries, err := r.store.VendorSummaries(ctx, o.ID)
	if err != nil {
		lg.Warn("Vendor summary lookup failed", zap.String("order", o.Number), zap.Error(err))
		summaries = nil
	}
	for _, vs := range summaries {
		err := r.notifier.NotifyOnce(ctx, notify.Notification{
			RecipientID: vs.VendorID,
			Type:        notify.TypeOrder,
			Level:       notify.LevelSuccess,
			Title:       fmt.Sprintf("New paid order #%s", o.Number),
			Message:     fmt.Sprintf("%d item(s), %s %s net for you.", vs.ItemCount, o.Currency, vs.Net().StringFixed(2)),
			OrderID:     o.ID,
			TargetURL:   fmt.Sprintf("/vendor/orders/%s/", o.Number),
		})
		if err != nil {
			lg.Warn("Vendor notification failed",
				zap.String("order", o.Number),
				zap.String("vendor", vs.VendorID),
				zap.Error(err))
		}
	}

	if err := r.publisher.OrderPaid(ctx, Event{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerID:     o.BuyerID,
		Amount:      o.AmountPayable,
		Currency:    o.Currency,
	}); err != nil {
		lg.Warn("Order paid event publish failed", zap.String("order", o.Number), zap.Error(err))
	}
}

// audit persists a raw gateway exchange. Audit failures are logged, never
// fatal: losing an audit row must not block a money transition.
func (r *Reconciler) audit(ctx context.Context, orderID, key string, payload []byte) {
	if err := r.store.AppendMeta(ctx, orderID, key, payload); err != nil {
		zctx.From(ctx).Warn("Payment audit write failed",
			zap.String("order_id", orderID),
			zap.String("key", key),
			zap.Error(err))
	}
}

// newTxnID builds the gateway transaction id: ORD + order number + random
// hex suffix, alphanumeric, at most 25 characters.
func newTxnID(orderNumber string) string {
	base := "ORD" + strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return r
		}
		return -1
	}, orderNumber)
	if len(base) > 18 {
		base = base[:18]
	}
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		panic(err)
	}
	id := base + hex.EncodeToString(suffix)
	if len(id) > 25 {
		id = id[:25]
	}
	return id
}
