package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/pkg/circuit"
	"marlin/internal/pkg/retry"
	symbolpkg "marlin/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const maxHistoryLimit = 1500

// Source implements market.Source on the go-binance futures SDK. All
// REST calls share one rate limiter, one concurrency semaphore and one
// circuit breaker so a batch cannot starve single-symbol callers.
type Source struct {
	cfg     Config
	client  *futures.Client
	cache   *market.Cache
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	breaker *circuit.Breaker

	statsMu sync.Mutex
	stats   market.SourceStats
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{
		cfg:     final,
		client:  client,
		cache:   market.NewCache(final.CacheTTL),
		limiter: rate.NewLimiter(rate.Limit(final.RequestsPerSecond), int(final.MaxConcurrent)),
		sem:     semaphore.NewWeighted(final.MaxConcurrent),
		breaker: circuit.NewBreaker("binance-rest", final.BreakerThreshold, final.BreakerTimeout),
	}, nil
}

func (s *Source) GetPrice(ctx context.Context, symbol string) (market.PriceQuote, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return market.PriceQuote{}, fmt.Errorf("symbol is required")
	}
	if cached, ok := s.cache.Get(symbol, "price"); ok {
		s.recordCacheHit()
		return cached.(market.PriceQuote), nil
	}

	clean := symbolpkg.ToExchange(symbol)
	var quote market.PriceQuote
	err := s.call(ctx, "get_price", func() error {
		prices, err := s.client.NewListPricesService().Symbol(clean).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 || prices[0] == nil {
			return fmt.Errorf("empty price response for %s", clean)
		}
		quote = market.PriceQuote{
			Symbol:    symbol,
			Price:     parseFloat(prices[0].Price),
			Timestamp: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return market.PriceQuote{}, err
	}
	if quote.Price <= 0 {
		return market.PriceQuote{}, fmt.Errorf("non-positive price for %s", symbol)
	}
	s.cache.Set(symbol, "price", quote)
	return quote, nil
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit, minBars int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}

	cacheOp := "klines:" + interval + ":" + strconv.Itoa(limit)
	if cached, ok := s.cache.Get(symbol, cacheOp); ok {
		s.recordCacheHit()
		return cached.([]market.Candle), nil
	}

	clean := symbolpkg.ToExchange(symbol)
	var out []market.Candle
	err := s.call(ctx, "get_klines", func() error {
		kls, err := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return err
		}
		out = make([]market.Candle, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
				Trades:    kl.TradeNum,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if minBars > 0 && len(out) < minBars {
		return nil, &market.InsufficientDataError{
			Symbol:   symbol,
			Interval: interval,
			Need:     minBars,
			Got:      len(out),
		}
	}
	s.cache.Set(symbol, cacheOp, out)
	return out, nil
}

func (s *Source) GetOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return market.OrderBook{}, fmt.Errorf("symbol is required")
	}
	if depth <= 0 {
		depth = 20
	}

	cacheOp := "depth:" + strconv.Itoa(depth)
	if cached, ok := s.cache.Get(symbol, cacheOp); ok {
		s.recordCacheHit()
		return cached.(market.OrderBook), nil
	}

	clean := symbolpkg.ToExchange(symbol)
	var book market.OrderBook
	err := s.call(ctx, "get_order_book", func() error {
		res, err := s.client.NewDepthService().Symbol(clean).Limit(depth).Do(ctx)
		if err != nil {
			return err
		}
		book = market.OrderBook{
			Symbol:    symbol,
			Bids:      toLevels(res.Bids),
			Asks:      toLevels(res.Asks),
			Timestamp: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return market.OrderBook{}, err
	}
	s.cache.Set(symbol, cacheOp, book)
	return book, nil
}

// GetPricesBatch fans out one request per symbol, bounded by the shared
// semaphore. Failures are isolated per symbol.
func (s *Source) GetPricesBatch(ctx context.Context, symbols []string) market.BatchResult {
	result := market.BatchResult{
		Prices: make(map[string]market.PriceQuote, len(symbols)),
		Errors: make(map[string]error),
	}
	normalized := symbolpkg.NormalizeList(symbols)
	if len(normalized) == 0 {
		return result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, sym := range normalized {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[sym] = err
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			defer s.sem.Release(1)
			quote, err := s.getPriceUnbounded(ctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[sym] = err
				return
			}
			result.Prices[sym] = quote
		}(sym)
	}
	wg.Wait()
	return result
}

// getPriceUnbounded skips the semaphore (the batch caller already holds
// a slot) but still goes through limiter, breaker and retry.
func (s *Source) getPriceUnbounded(ctx context.Context, symbol string) (market.PriceQuote, error) {
	if cached, ok := s.cache.Get(symbol, "price"); ok {
		s.recordCacheHit()
		return cached.(market.PriceQuote), nil
	}
	clean := symbolpkg.ToExchange(symbol)
	var quote market.PriceQuote
	err := s.doCall(ctx, "get_price", func() error {
		prices, err := s.client.NewListPricesService().Symbol(clean).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 || prices[0] == nil {
			return fmt.Errorf("empty price response for %s", clean)
		}
		quote = market.PriceQuote{
			Symbol:    symbol,
			Price:     parseFloat(prices[0].Price),
			Timestamp: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return market.PriceQuote{}, err
	}
	s.cache.Set(symbol, "price", quote)
	return quote, nil
}

// call acquires a semaphore slot then runs the request; doCall is the
// slotless variant for callers that already hold one.
func (s *Source) call(ctx context.Context, op string, fn func() error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return s.doCall(ctx, op, fn)
}

func (s *Source) doCall(ctx context.Context, op string, fn func() error) error {
	attempt := func() error {
		if !s.breaker.Allow() {
			return &market.NetworkError{Op: op, Err: fmt.Errorf("circuit breaker open")}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		s.recordRequest()
		err := classify(op, fn())
		if err == nil {
			s.breaker.RecordSuccess()
			return nil
		}
		if market.IsNetworkError(err) {
			s.breaker.RecordFailure()
		}
		s.recordError(err)
		return err
	}

	cfg := retry.DefaultConfig()
	err := retry.Do(ctx, cfg, retryable, func() error {
		err := attempt()
		if err != nil && market.IsNetworkError(err) {
			s.recordRetry()
		}
		return err
	})
	if err != nil && market.IsNetworkError(err) {
		logger.Warnf("binance %s failed after retries: %v", op, err)
	}
	return err
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.cache.Sweep()
	return nil
}

func (s *Source) recordRequest() {
	s.statsMu.Lock()
	s.stats.Requests++
	s.statsMu.Unlock()
}

func (s *Source) recordRetry() {
	s.statsMu.Lock()
	s.stats.Retries++
	s.statsMu.Unlock()
}

func (s *Source) recordCacheHit() {
	s.statsMu.Lock()
	s.stats.CacheHits++
	s.statsMu.Unlock()
}

func (s *Source) recordError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.LastError = err.Error()
	s.stats.LastErrAt = time.Now()
	s.statsMu.Unlock()
}

func toLevels(levels []common.PriceLevel) []market.BookLevel {
	out := make([]market.BookLevel, 0, len(levels))
	for _, lv := range levels {
		out = append(out, market.BookLevel{
			Price:    parseFloat(lv.Price),
			Quantity: parseFloat(lv.Quantity),
		})
	}
	return out
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
