package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceServer(t *testing.T, prices map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbol")
		price, ok := prices[sym]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"symbol": sym, "price": price})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetPricesBatch_IsolatesFailures(t *testing.T) {
	srv := priceServer(t, map[string]string{
		"BTCUSDT": "50000",
		"ETHUSDT": "3000",
	})
	src, err := New(Config{RESTBaseURL: srv.URL, RequestsPerSecond: 1000})
	require.NoError(t, err)
	defer src.Close()

	result := src.GetPricesBatch(context.Background(),
		[]string{"BTC/USDT", "BAD/USDT", "ETH/USDT"})

	require.Len(t, result.Prices, 2)
	assert.InDelta(t, 50000, result.Prices["BTC/USDT"].Price, 1e-9)
	assert.InDelta(t, 3000, result.Prices["ETH/USDT"].Price, 1e-9)
	require.Len(t, result.Errors, 1)
	assert.Error(t, result.Errors["BAD/USDT"])
}

func TestGetPricesBatch_BoundsConcurrency(t *testing.T) {
	var inflight, peak int64
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt64(&inflight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if cur <= p || atomic.CompareAndSwapInt64(&peak, p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&inflight, -1)
		sym := r.URL.Query().Get("symbol")
		_ = json.NewEncoder(w).Encode(map[string]string{"symbol": sym, "price": "100"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := New(Config{RESTBaseURL: srv.URL, MaxConcurrent: 2, RequestsPerSecond: 1000})
	require.NoError(t, err)
	defer src.Close()

	symbols := []string{"AAA/USDT", "BBB/USDT", "CCC/USDT", "DDD/USDT", "EEE/USDT", "FFF/USDT"}
	result := src.GetPricesBatch(context.Background(), symbols)

	assert.Len(t, result.Prices, len(symbols))
	assert.Empty(t, result.Errors)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestGetPrice_ServesFromCacheWithinTTL(t *testing.T) {
	var hits int64
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"symbol": "BTCUSDT", "price": "50000"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := New(Config{RESTBaseURL: srv.URL, RequestsPerSecond: 1000, CacheTTL: time.Minute})
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	first, err := src.GetPrice(ctx, "BTC/USDT")
	require.NoError(t, err)
	second, err := src.GetPrice(ctx, "BTC/USDT")
	require.NoError(t, err)

	assert.Equal(t, first.Price, second.Price)
	assert.EqualValues(t, 1, atomic.LoadInt64(&hits))
	assert.EqualValues(t, 1, src.Stats().CacheHits)
}
