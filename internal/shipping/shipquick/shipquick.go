// Package shipquick is a client for the Shipquick courier aggregator.
//
// Every serviceability call needs a bearer token from the auth endpoint.
// Tokens are valid for days, so the client caches one and refreshes lazily;
// concurrent refreshes collapse into a single login via singleflight, and an
// optional Redis cache shares the token across instances.
package shipquick

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vendora/bazaar/internal/domain/shipping"
)

const (
	loginPath          = "/v1/external/auth/login"
	serviceabilityPath = "/v1/external/courier/serviceability/"

	tokenCacheKey = "shipquick:token"
	tokenTTL      = 72 * time.Hour
)

// Config holds the aggregator account and endpoints.
type Config struct {
	BaseURL  string
	Email    string
	Password string
	// PickupPostcode is the warehouse postcode used for every quote.
	PickupPostcode string
	Currency       string
	Timeout        time.Duration
}

var _ shipping.Resolver = (*Client)(nil)

// Client implements shipping.Resolver against the Shipquick HTTP API.
type Client struct {
	cfg   Config
	http  *http.Client
	redis redis.UniversalClient

	group singleflight.Group

	// in-process fallback when redis is not configured
	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a resolver. httpClient and redisClient may be nil; without
// Redis the token is cached in process only.
func NewClient(cfg Config, httpClient *http.Client, redisClient redis.UniversalClient) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Client{cfg: cfg, http: httpClient, redis: redisClient}
}

// Rates quotes all serviceable couriers for the query. A quote rejected with
// 401 retries once with a fresh token.
func (c *Client) Rates(ctx context.Context, q shipping.Query) ([]shipping.RateOption, error) {
	token, err := c.bearerToken(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring token")
	}

	opts, status, err := c.serviceability(ctx, token, q)
	if status == http.StatusUnauthorized {
		token, err = c.bearerToken(ctx, true)
		if err != nil {
			return nil, errors.Wrap(err, "refreshing token")
		}
		opts, _, err = c.serviceability(ctx, token, q)
	}
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		return nil, shipping.ErrNoRates
	}
	return opts, nil
}

// bearerToken returns a cached token or logs in for a fresh one. All callers
// racing on a refresh share one login call.
func (c *Client) bearerToken(ctx context.Context, force bool) (string, error) {
	if !force {
		if tok := c.cachedToken(ctx); tok != "" {
			return tok, nil
		}
	}

	v, err, _ := c.group.Do("login", func() (interface{}, error) {
		tok, err := c.login(ctx)
		if err != nil {
			return nil, err
		}
		c.storeToken(ctx, tok)
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedToken(ctx context.Context) string {
	if c.redis != nil {
		tok, err := c.redis.Get(ctx, tokenCacheKey).Result()
		if err == nil && tok != "" {
			return tok
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			zctx.From(ctx).Warn("Token cache read failed", zap.Error(err))
		}
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.tokenExpiry) {
		return c.token
	}
	return ""
}

func (c *Client) storeToken(ctx context.Context, tok string) {
	if c.redis != nil {
		if err := c.redis.Set(ctx, tokenCacheKey, tok, tokenTTL).Err(); err != nil {
			zctx.From(ctx).Warn("Token cache write failed", zap.Error(err))
		}
		return
	}
	c.mu.Lock()
	c.token = tok
	c.tokenExpiry = time.Now().Add(tokenTTL)
	c.mu.Unlock()
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding login")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+loginPath, strings.NewReader(string(body)))
	if err != nil {
		return "", errors.Wrap(err, "building login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "sending login request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "reading login response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("login failed with status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errors.Wrap(err, "decoding login response")
	}
	if out.Token == "" {
		return "", errors.New("login response missing token")
	}
	return out.Token, nil
}

func (c *Client) serviceability(ctx context.Context, token string, q shipping.Query) ([]shipping.RateOption, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+serviceabilityPath, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "building serviceability request")
	}
	pickup := q.PickupPostcode
	if pickup == "" {
		pickup = c.cfg.PickupPostcode
	}
	query := req.URL.Query()
	query.Set("pickup_postcode", pickup)
	query.Set("delivery_postcode", q.DeliveryPostcode)
	query.Set("weight", q.WeightKg.String())
	query.Set("cod", "0")
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "sending serviceability request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "reading serviceability response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, errors.Errorf("serviceability failed with status %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			AvailableCourierCompanies []struct {
				CourierName      string          `json:"courier_name"`
				CourierCompanyID json.Number     `json:"courier_company_id"`
				Rate             decimal.Decimal `json:"rate"`
				EstimatedDays    json.Number     `json:"estimated_delivery_days"`
			} `json:"available_courier_companies"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "decoding serviceability response")
	}

	options := make([]shipping.RateOption, 0, len(out.Data.AvailableCourierCompanies))
	for _, cc := range out.Data.AvailableCourierCompanies {
		days, _ := cc.EstimatedDays.Int64()
		options = append(options, shipping.RateOption{
			Name:          cc.CourierName,
			Code:          cc.CourierCompanyID.String(),
			Amount:        cc.Rate,
			Currency:      c.cfg.Currency,
			EstimatedDays: int(days),
		})
	}
	return options, resp.StatusCode, nil
}
