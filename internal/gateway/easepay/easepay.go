// Package easepay is a client for the Easepay hosted-checkout gateway.
//
// Easepay authenticates every call with a SHA-512 hash over a fixed
// pipe-delimited field sequence. The status API has moved between path
// prefixes across gateway versions, so verification walks an ordered list of
// candidate endpoints and treats an answer from any of them as
// authoritative; only when all of them fail is the result inconclusive.
package easepay

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vendora/bazaar/internal/domain/payment"
)

const (
	initiatePath = "/payment/initiateLink"
	checkoutPath = "/pay/"
)

// defaultStatusPaths are tried in order until one yields a definitive answer.
var defaultStatusPaths = []string{
	"/payment/transaction/v2/retrieve",
	"/transaction/v2/retrieve",
	"/payment/v2/transaction",
}

// successStatuses are the gateway states that mean money was captured.
var successStatuses = map[string]struct{}{
	"success":          {},
	"captured":         {},
	"success-verified": {},
}

// Config holds the merchant credentials and endpoints for one Easepay account.
type Config struct {
	BaseURL string
	Key     string
	Salt    string
	// StatusPaths overrides the candidate status endpoints when set.
	StatusPaths []string
	Timeout     time.Duration
}

var _ payment.Gateway = (*Client)(nil)

// Client implements payment.Gateway against the Easepay HTTP API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a gateway client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if len(cfg.StatusPaths) == 0 {
		cfg.StatusPaths = defaultStatusPaths
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient}
}

// Initiate opens a hosted checkout session and returns its URL.
func (c *Client) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	amount := req.Amount.StringFixed(2)
	form := url.Values{
		"key":         {c.cfg.Key},
		"txnid":       {req.TxnID},
		"amount":      {amount},
		"productinfo": {req.ProductInfo},
		"firstname":   {req.FirstName},
		"email":       {req.Email},
		"phone":       {req.Phone},
		"surl":        {req.SuccessURL},
		"furl":        {req.FailureURL},
		"udf1":        {req.OrderNumber},
		"hash":        {initiateHash(c.cfg, req.TxnID, amount, req.ProductInfo, req.FirstName, req.Email, req.OrderNumber)},
	}

	raw, err := c.postForm(ctx, c.cfg.BaseURL+initiatePath, form)
	if err != nil {
		return nil, errors.Wrap(err, "initiate request")
	}

	resp, err := parseInitiate(raw)
	if err != nil {
		return nil, errors.Wrap(err, "initiate response")
	}
	if !resp.OK {
		return nil, &payment.GatewayError{Reason: resp.Reason}
	}
	return &payment.InitiateResult{
		CheckoutURL: c.cfg.BaseURL + checkoutPath + resp.AccessKey,
		Raw:         raw,
	}, nil
}

// QueryStatus asks the gateway for the transaction's authoritative state. It
// returns payment.ErrVerificationInconclusive when no candidate endpoint
// yields a definitive answer.
func (c *Client) QueryStatus(ctx context.Context, txnID, gatewayPaymentID string) (*payment.VerifyResult, error) {
	form := url.Values{
		"key":   {c.cfg.Key},
		"txnid": {txnID},
		"hash":  {statusHash(c.cfg, txnID)},
	}
	if gatewayPaymentID != "" {
		form.Set("easepayid", gatewayPaymentID)
	}

	lg := zctx.From(ctx)
	for _, path := range c.cfg.StatusPaths {
		raw, err := c.postForm(ctx, c.cfg.BaseURL+path, form)
		if err != nil {
			lg.Warn("Status endpoint unreachable",
				zap.String("path", path), zap.Error(err))
			continue
		}
		st, err := parseStatus(raw)
		if err != nil {
			lg.Warn("Status endpoint gave no definitive answer",
				zap.String("path", path), zap.Error(err))
			continue
		}
		_, ok := successStatuses[strings.ToLower(st.Status)]
		return &payment.VerifyResult{
			Success:          ok,
			Status:           st.Status,
			GatewayPaymentID: st.PaymentID,
			Raw:              raw,
		}, nil
	}
	return nil, payment.ErrVerificationInconclusive
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "sending request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "reading response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

// initiateHash covers key|txnid|amount|productinfo|firstname|email|udf1..udf10|salt.
// Unused udf slots stay in the sequence as empty strings.
func initiateHash(cfg Config, txnID, amount, productInfo, firstName, email, udf1 string) string {
	fields := []string{
		cfg.Key, txnID, amount, productInfo, firstName, email,
		udf1, "", "", "", "", "", "", "", "", "",
		cfg.Salt,
	}
	return hashFields(fields)
}

// statusHash covers key|txnid|salt.
func statusHash(cfg Config, txnID string) string {
	return hashFields([]string{cfg.Key, txnID, cfg.Salt})
}

func hashFields(fields []string) string {
	sum := sha512.Sum512([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
