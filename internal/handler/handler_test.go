package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendora/bazaar/internal/domain/cart"
	"github.com/vendora/bazaar/internal/domain/coupon"
	"github.com/vendora/bazaar/internal/domain/notify"
	"github.com/vendora/bazaar/internal/domain/order"
	"github.com/vendora/bazaar/internal/domain/payment"
	"github.com/vendora/bazaar/internal/domain/shipping"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// fakeCouponStore backs the coupon engine with in-memory state. It serves
// as both the store and its transaction.
type fakeCouponStore struct {
	coupons map[string]*coupon.Coupon
	order   *order.Order
	items   []order.Item
}

func (s *fakeCouponStore) InTx(ctx context.Context, fn func(tx coupon.Tx) error) error {
	return fn(s)
}

func (s *fakeCouponStore) Redemptions(ctx context.Context, orderID string) ([]coupon.Redemption, error) {
	return nil, nil
}

func (s *fakeCouponStore) CouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, ok := s.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, coupon.ErrInvalidCode
	}
	cp := *c
	return &cp, nil
}

func (s *fakeCouponStore) OrderForUpdate(ctx context.Context, orderID string) (*order.Order, error) {
	if s.order == nil || s.order.ID != orderID {
		return nil, order.ErrNotFound
	}
	o := *s.order
	return &o, nil
}

func (s *fakeCouponStore) OrderItemsForUpdate(ctx context.Context, orderID string) ([]order.Item, error) {
	items := make([]order.Item, len(s.items))
	copy(items, s.items)
	return items, nil
}

func (s *fakeCouponStore) RedemptionsForOrder(ctx context.Context, orderID string) ([]coupon.Redemption, error) {
	return nil, nil
}

func (s *fakeCouponStore) RedemptionCount(ctx context.Context, couponID, excludeOrderID string) (int, error) {
	return 0, nil
}

func (s *fakeCouponStore) RedemptionCountForUser(ctx context.Context, couponID, userID, excludeOrderID string) (int, error) {
	return 0, nil
}

func (s *fakeCouponStore) AllocationsForCoupon(ctx context.Context, orderID, couponID string) ([]coupon.Allocation, error) {
	return nil, nil
}

func (s *fakeCouponStore) DeleteAllocations(ctx context.Context, orderID, couponID string) error {
	return nil
}

func (s *fakeCouponStore) UpsertRedemption(ctx context.Context, r *coupon.Redemption) error {
	return nil
}

func (s *fakeCouponStore) DeleteRedemption(ctx context.Context, couponID, orderID, vendorID string) error {
	return nil
}

func (s *fakeCouponStore) InsertAllocation(ctx context.Context, a *coupon.Allocation) error {
	return nil
}

func (s *fakeCouponStore) UpdateItemDiscount(ctx context.Context, item *order.Item) error {
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i] = *item
		}
	}
	return nil
}

func (s *fakeCouponStore) UpdateOrderTotals(ctx context.Context, o *order.Order) error {
	cp := *o
	s.order = &cp
	return nil
}

type fakeOrders struct {
	byID     map[string]*order.Order
	byNumber map[string]*order.Order
	items    []order.Item
}

func (r *fakeOrders) Get(ctx context.Context, id string) (*order.Order, error) {
	o, ok := r.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrders) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	o, ok := r.byNumber[number]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrders) Items(ctx context.Context, orderID string) ([]order.Item, error) {
	items := make([]order.Item, len(r.items))
	copy(items, r.items)
	return items, nil
}

func (r *fakeOrders) CreateWithItems(ctx context.Context, o *order.Order, items []order.Item) error {
	return nil
}

func (r *fakeOrders) SetShipping(ctx context.Context, o *order.Order) error {
	cp := *o
	r.byID[o.ID] = &cp
	r.byNumber[o.Number] = &cp
	return nil
}

type fakePaymentStore struct {
	pendingTxn string
	paid       bool
	failed     bool
	meta       map[string][]byte
}

func (s *fakePaymentStore) MarkPending(ctx context.Context, orderID, txnID string) error {
	if s.paid {
		return payment.ErrAlreadyPaid
	}
	s.pendingTxn = txnID
	return nil
}

func (s *fakePaymentStore) TransitionPaid(ctx context.Context, orderID, gatewayPaymentID string) (bool, error) {
	if s.paid {
		return false, nil
	}
	s.paid = true
	return true, nil
}

func (s *fakePaymentStore) TransitionFailed(ctx context.Context, orderID string) error {
	if !s.paid {
		s.failed = true
	}
	return nil
}

func (s *fakePaymentStore) AppendMeta(ctx context.Context, orderID, key string, payload []byte) error {
	if s.meta == nil {
		s.meta = map[string][]byte{}
	}
	s.meta[key] = payload
	return nil
}

func (s *fakePaymentStore) VendorSummaries(ctx context.Context, orderID string) ([]payment.VendorSummary, error) {
	return nil, nil
}

type fakeGateway struct {
	initiate *payment.InitiateResult
	verify   *payment.VerifyResult
	err      error
}

func (g *fakeGateway) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	if g.initiate == nil {
		return nil, &payment.GatewayError{Reason: "declined"}
	}
	return g.initiate, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, txnID, gatewayPaymentID string) (*payment.VerifyResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.verify, nil
}

type fakeRates struct {
	options []shipping.RateOption
	err     error
}

func (f *fakeRates) Rates(ctx context.Context, q shipping.Query) ([]shipping.RateOption, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.options, nil
}

type notifierStub struct{}

func (notifierStub) NotifyOnce(ctx context.Context, n notify.Notification) error { return nil }

type publisherStub struct{}

func (publisherStub) OrderPaid(ctx context.Context, ev payment.Event) error { return nil }

type fixture struct {
	h           *Handler
	couponStore *fakeCouponStore
	orders      *fakeOrders
	payStore    *fakePaymentStore
	gateway     *fakeGateway
	rates       *fakeRates
}

func pendingOrder() *order.Order {
	return &order.Order{
		ID:                "ord-1",
		Number:            "10000001",
		BuyerID:           "buyer-1",
		Currency:          "USD",
		ItemTotal:         d("80.00"),
		ItemDiscountTotal: d("0"),
		ItemTotalNet:      d("80.00"),
		ShippingFee:       d("5.00"),
		AmountPayable:     d("85.00"),
		PaymentStatus:     order.PaymentPending,
		Status:            order.StatusPending,
		GatewayTxnID:      "ORD10000001aaaa",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	o := pendingOrder()
	couponStore := &fakeCouponStore{
		coupons: map[string]*coupon.Coupon{
			"TENOFF": {
				ID:           "cpn-1",
				Code:         "TENOFF",
				VendorID:     "vendor-a",
				DiscountType: coupon.DiscountFixed,
				AmountOff:    d("10"),
				Active:       true,
			},
		},
		order: o,
		items: []order.Item{{
			ID:        "item-1",
			OrderID:   o.ID,
			VariantID: "var-1",
			VendorID:  "vendor-a",
			Quantity:  4,
			Price:     d("20"),
		}},
	}
	orders := &fakeOrders{
		byID:     map[string]*order.Order{o.ID: o},
		byNumber: map[string]*order.Order{o.Number: o},
		items: []order.Item{{
			ID:        "item-1",
			OrderID:   o.ID,
			VariantID: "var-1",
			VendorID:  "vendor-a",
			Quantity:  4,
			Price:     d("20"),
		}},
	}
	payStore := &fakePaymentStore{}
	rates := &fakeRates{options: []shipping.RateOption{
		{Name: "Aero Air", Code: "aero", Amount: d("11.00"), Currency: "USD", EstimatedDays: 2},
	}}
	gateway := &fakeGateway{
		initiate: &payment.InitiateResult{CheckoutURL: "https://pay.example/pay/abc", Raw: []byte(`{}`)},
		verify:   &payment.VerifyResult{Success: true, Status: "success", GatewayPaymentID: "E123"},
	}

	engine := coupon.NewEngine(couponStore, coupon.Policy{SingleCouponPerVendor: true})
	reconciler := payment.NewReconciler(orders, payStore, gateway, notifierStub{}, publisherStub{})

	h := New(
		cart.NewService(nil, nil),
		orders,
		order.NewSnapshotter(orders, nil),
		engine,
		reconciler,
		rates,
		Config{
			Currency:    "USD",
			ThankYouURL: "https://shop.example/thank-you",
			FailedURL:   "https://shop.example/payment-failed",
			ReturnURL:   "https://shop.example/api/payments/return",
		},
	)
	return &fixture{
		h:           h,
		couponStore: couponStore,
		orders:      orders,
		payStore:    payStore,
		gateway:     gateway,
		rates:       rates,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.h.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestApplyCouponRecomputesTotals(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/orders/ord-1/coupon",
		`{"code":"TENOFF"}`, map[string]string{"X-User-ID": "buyer-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "TENOFF", body["code"])
	totals := body["totals"].(map[string]any)
	require.Equal(t, "80.00", totals["item_total"])
	require.Equal(t, "10.00", totals["item_discount_total"])
	require.Equal(t, "70.00", totals["item_total_net"])
	require.Equal(t, "5.00", totals["shipping_fee"])
	require.Equal(t, "75.00", totals["amount_payable"])
}

func TestApplyCouponUnknownCode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/orders/ord-1/coupon",
		`{"code":"NOSUCH"}`, map[string]string{"X-User-ID": "buyer-1"})

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "invalid_code", decodeBody(t, rec)["code"])
}

func TestApplyCouponRejectionReason(t *testing.T) {
	f := newFixture(t)
	f.couponStore.coupons["TENOFF"].Active = false

	rec := f.do(t, http.MethodPost, "/api/orders/ord-1/coupon",
		`{"code":"TENOFF"}`, map[string]string{"X-User-ID": "buyer-1"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "coupon_rejected", body["code"])
	require.Contains(t, body["error"], "not active")
}

func TestApplyCouponMissingCode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/orders/ord-1/coupon",
		`{"code":"  "}`, map[string]string{"X-User-ID": "buyer-1"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveCouponNeverApplied(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodDelete, "/api/orders/ord-1/coupon",
		`{"code":"TENOFF"}`, map[string]string{"X-User-ID": "buyer-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	totals := decodeBody(t, rec)["totals"].(map[string]any)
	require.Equal(t, "85.00", totals["amount_payable"])
}

func TestStartPayment(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/orders/ord-1/payment/start",
		`{"first_name":"Ada","email":"ada@example.com"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "https://pay.example/pay/abc", body["checkout_url"])
	require.Equal(t, f.payStore.pendingTxn, body["txn_id"])
}

func TestStartPaymentAlreadyPaid(t *testing.T) {
	f := newFixture(t)
	f.orders.byID["ord-1"].PaymentStatus = order.PaymentPaid

	rec := f.do(t, http.MethodPost, "/api/orders/ord-1/payment/start",
		`{"first_name":"Ada","email":"ada@example.com"}`, nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "already_paid", decodeBody(t, rec)["code"])
}

func TestStartPaymentMissingBuyer(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/orders/ord-1/payment/start",
		`{"email":"ada@example.com"}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_buyer", decodeBody(t, rec)["code"])
}

func TestPaymentReturnPaidRedirectsToThankYou(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet,
		"/api/payments/return?udf1=10000001&txnid=ORD10000001aaaa&status=success", "", nil)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "https://shop.example/thank-you?order=10000001", rec.Header().Get("Location"))
	require.True(t, f.payStore.paid)
}

func TestPaymentReturnFailureRedirectsToFailed(t *testing.T) {
	f := newFixture(t)
	f.gateway.verify = &payment.VerifyResult{Success: false, Status: "failure"}

	rec := f.do(t, http.MethodGet,
		"/api/payments/return?udf1=10000001&txnid=ORD10000001aaaa&status=success", "", nil)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "https://shop.example/payment-failed?order=10000001", rec.Header().Get("Location"))
	require.True(t, f.payStore.failed)
}

func TestPaymentReturnInconclusiveRedirectsPending(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = payment.ErrVerificationInconclusive

	rec := f.do(t, http.MethodGet,
		"/api/payments/return?udf1=10000001&txnid=ORD10000001aaaa&status=success", "", nil)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t,
		"https://shop.example/payment-failed?order=10000001&status=pending",
		rec.Header().Get("Location"))
	require.False(t, f.payStore.paid)
	require.False(t, f.payStore.failed)
}

func TestPaymentWebhookAlwaysAnswers200(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost,
		"/api/payments/webhook?udf1=10000001&txnid=ORD10000001aaaa", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["ok"])

	f.gateway.err = payment.ErrVerificationInconclusive
	rec = f.do(t, http.MethodPost,
		"/api/payments/webhook?udf1=10000001&txnid=ORD10000001aaaa", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decodeBody(t, rec)["ok"])
}

func TestPaymentWebhookUnknownOrder(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost,
		"/api/payments/webhook?udf1=99999999&txnid=ORDxxx", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decodeBody(t, rec)["ok"])
}

func TestPollPaymentConfirmsPaid(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/orders/ord-1/payment/poll", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "PAID", body["outcome"])
	require.Equal(t, "PAID", body["payment_status"])
	require.True(t, f.payStore.paid)
}

func TestPollPaymentInconclusiveLeavesPending(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = payment.ErrVerificationInconclusive

	rec := f.do(t, http.MethodPost, "/api/orders/ord-1/payment/poll", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "INCONCLUSIVE", body["outcome"])
	require.Equal(t, "PENDING", body["payment_status"])
	require.False(t, f.payStore.paid)
}

func TestChangeShippingRecomputesPayable(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/orders/ord-1/shipping",
		`{"delivery_postcode":"4000"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "Aero Air", body["courier"])
	require.Equal(t, "air", body["courier_mode"])
	totals := body["totals"].(map[string]any)
	require.Equal(t, "80.00", totals["item_total_net"])
	require.Equal(t, "11.00", totals["shipping_fee"])
	require.Equal(t, "91.00", totals["amount_payable"])

	stored, err := f.orders.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	require.True(t, stored.AmountPayable.Equal(d("91.00")))
}

func TestChangeShippingRefusedWhenPaid(t *testing.T) {
	f := newFixture(t)
	f.orders.byID["ord-1"].PaymentStatus = order.PaymentPaid

	rec := f.do(t, http.MethodPut, "/api/orders/ord-1/shipping",
		`{"delivery_postcode":"4000"}`, nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "already_paid", decodeBody(t, rec)["code"])
}

func TestAddCartItemRequiresIdentity(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/cart/items",
		`{"variant_id":"var-1","quantity":1}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_identity", decodeBody(t, rec)["code"])
}
