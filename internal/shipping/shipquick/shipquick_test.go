package shipquick

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendora/bazaar/internal/domain/shipping"
)

func newFakeAggregator(t *testing.T, logins *atomic.Int32, rejectToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case loginPath:
			n := logins.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"token": map[int32]string{1: "tok-1", 2: "tok-2"}[n],
			})
		case serviceabilityPath:
			auth := r.Header.Get("Authorization")
			if auth == "Bearer "+rejectToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			require.Equal(t, "560001", r.URL.Query().Get("pickup_postcode"))
			_, _ = w.Write([]byte(`{"data":{"available_courier_companies":[
				{"courier_name":"Quickdart Surface","courier_company_id":12,"rate":6.50,"estimated_delivery_days":"4"},
				{"courier_name":"Aero Air","courier_company_id":7,"rate":11.00,"estimated_delivery_days":2}
			]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestRatesCachesToken(t *testing.T) {
	var logins atomic.Int32
	srv := newFakeAggregator(t, &logins, "")
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, PickupPostcode: "560001"}, srv.Client(), nil)
	q := shipping.Query{DeliveryPostcode: "110001", WeightKg: decimal.RequireFromString("1.5")}

	for range 3 {
		opts, err := c.Rates(context.Background(), q)
		require.NoError(t, err)
		require.Len(t, opts, 2)
	}
	require.Equal(t, int32(1), logins.Load())

	opts, err := c.Rates(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, "Quickdart Surface", opts[0].Name)
	require.Equal(t, "12", opts[0].Code)
	require.Equal(t, "surface", opts[0].Mode())
	require.Equal(t, 4, opts[0].EstimatedDays)
	require.True(t, opts[0].Amount.Equal(decimal.RequireFromString("6.5")))
}

func TestRatesRefreshesOnUnauthorized(t *testing.T) {
	var logins atomic.Int32
	srv := newFakeAggregator(t, &logins, "tok-1")
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, PickupPostcode: "560001"}, srv.Client(), nil)

	opts, err := c.Rates(context.Background(), shipping.Query{
		DeliveryPostcode: "110001",
		WeightKg:         decimal.RequireFromString("0.8"),
	})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	require.Equal(t, int32(2), logins.Load())
}
