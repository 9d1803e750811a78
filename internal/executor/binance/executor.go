package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"marlin/internal/exchange"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/pkg/retry"
	"marlin/internal/pkg/symbol"
)

// Config carries exchange credentials and executor tuning.
type Config struct {
	APIKey       string
	APISecret    string
	RESTBaseURL  string
	HTTPTimeout  time.Duration
	DedupeWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 10 * time.Minute
	}
	return c
}

type dedupeEntry struct {
	result exchange.OrderResult
	at     time.Time
}

// Executor submits orders to Binance futures. Repeated submissions of
// the same (correlation, symbol, side, quantity, price) tuple within
// the dedupe window return the original acknowledgement without
// touching the exchange again.
type Executor struct {
	client *futures.Client
	cfg    Config
	rt     retry.Config

	mu       sync.Mutex
	recent   map[string]dedupeEntry
	inflight map[string]chan struct{}
}

var _ exchange.Executor = (*Executor)(nil)

func NewExecutor(cfg Config) (*Executor, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("binance executor: api key and secret are required")
	}
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient.Timeout = cfg.HTTPTimeout
	return &Executor{
		client:   client,
		cfg:      cfg,
		rt:       retry.DefaultConfig(),
		recent:   make(map[string]dedupeEntry),
		inflight: make(map[string]chan struct{}),
	}, nil
}

func dedupeKey(req exchange.OrderRequest) string {
	return fmt.Sprintf("%s|%s|%s|%.8f|%.8f",
		strings.TrimSpace(req.CorrelationID),
		symbol.ToExchange(req.Symbol),
		strings.ToUpper(strings.TrimSpace(req.Side)),
		req.Quantity, req.Price)
}

// PlaceOrder submits a market order (or a GTC limit order when asked).
// Transient network failures are retried; a duplicate request returns
// the first submission's result.
func (e *Executor) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if req.Quantity <= 0 {
		return exchange.OrderResult{}, &exchange.ExecutionError{
			Op: "place", Symbol: req.Symbol, Err: errors.New("quantity must be positive"),
		}
	}
	side := strings.ToUpper(strings.TrimSpace(req.Side))
	if side != "BUY" && side != "SELL" {
		return exchange.OrderResult{}, &exchange.ExecutionError{
			Op: "place", Symbol: req.Symbol, Err: fmt.Errorf("unknown side %q", req.Side),
		}
	}

	// Claim the key before going on the wire so a concurrent duplicate
	// waits for this submission's outcome instead of racing it to the
	// exchange.
	key := dedupeKey(req)
	for {
		e.mu.Lock()
		e.purgeLocked()
		if entry, ok := e.recent[key]; ok {
			e.mu.Unlock()
			logger.Warnf("executor: duplicate order suppressed for %s (correlation %s)", req.Symbol, req.CorrelationID)
			return entry.result, nil
		}
		wait, busy := e.inflight[key]
		if !busy {
			e.inflight[key] = make(chan struct{})
			e.mu.Unlock()
			break
		}
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return exchange.OrderResult{}, ctx.Err()
		case <-wait:
		}
	}
	defer func() {
		e.mu.Lock()
		done := e.inflight[key]
		delete(e.inflight, key)
		e.mu.Unlock()
		close(done)
	}()

	exchangeSymbol := symbol.ToExchange(req.Symbol)
	var res *futures.CreateOrderResponse
	err := retry.Do(ctx, e.rt, market.IsNetworkError, func() error {
		svc := e.client.NewCreateOrderService().
			Symbol(exchangeSymbol).
			Side(futures.SideType(side)).
			Quantity(formatQty(req.Quantity))
		if req.Type == exchange.TypeLimit && req.Price > 0 {
			svc = svc.Type(futures.OrderTypeLimit).
				TimeInForce(futures.TimeInForceTypeGTC).
				Price(formatQty(req.Price))
		} else {
			svc = svc.Type(futures.OrderTypeMarket)
		}
		var callErr error
		res, callErr = svc.Do(ctx)
		if callErr != nil {
			return classify("place order", req.Symbol, callErr)
		}
		return nil
	})
	if err != nil {
		return exchange.OrderResult{}, err
	}

	result := exchange.OrderResult{
		OrderID:        strconv.FormatInt(res.OrderID, 10),
		Status:         exchange.OrderStatus(res.Status),
		FilledQuantity: parseFloat(res.ExecutedQuantity),
		AvgPrice:       parseFloat(res.AvgPrice),
		SubmittedAt:    time.Now(),
	}
	// Market orders can acknowledge before the fill propagates.
	if result.AvgPrice == 0 {
		result.AvgPrice = req.Price
	}

	e.mu.Lock()
	e.recent[key] = dedupeEntry{result: result, at: time.Now()}
	e.mu.Unlock()

	logger.Infof("executor: placed %s %s qty=%s order=%s status=%s",
		side, exchangeSymbol, formatQty(req.Quantity), result.OrderID, result.Status)
	return result, nil
}

func (e *Executor) CancelOrder(ctx context.Context, sym, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &exchange.ExecutionError{Op: "cancel", Symbol: sym, Err: fmt.Errorf("bad order id %q", orderID)}
	}
	return retry.Do(ctx, e.rt, market.IsNetworkError, func() error {
		_, callErr := e.client.NewCancelOrderService().
			Symbol(symbol.ToExchange(sym)).
			OrderID(id).
			Do(ctx)
		if callErr != nil {
			return classify("cancel order", sym, callErr)
		}
		return nil
	})
}

func (e *Executor) GetOrderStatus(ctx context.Context, sym, orderID string) (exchange.OrderResult, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.OrderResult{}, &exchange.ExecutionError{
			Op: "status", Symbol: sym, Err: fmt.Errorf("bad order id %q", orderID),
		}
	}
	var order *futures.Order
	err = retry.Do(ctx, e.rt, market.IsNetworkError, func() error {
		var callErr error
		order, callErr = e.client.NewGetOrderService().
			Symbol(symbol.ToExchange(sym)).
			OrderID(id).
			Do(ctx)
		if callErr != nil {
			return classify("order status", sym, callErr)
		}
		return nil
	})
	if err != nil {
		return exchange.OrderResult{}, err
	}
	return exchange.OrderResult{
		OrderID:        strconv.FormatInt(order.OrderID, 10),
		Status:         exchange.OrderStatus(order.Status),
		FilledQuantity: parseFloat(order.ExecutedQuantity),
		AvgPrice:       parseFloat(order.AvgPrice),
		SubmittedAt:    time.UnixMilli(order.Time),
	}, nil
}

// WaitForFill polls until the order reaches a terminal state or the
// context expires.
func (e *Executor) WaitForFill(ctx context.Context, sym, orderID string, interval time.Duration) (exchange.OrderResult, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := e.GetOrderStatus(ctx, sym, orderID)
		if err != nil {
			return exchange.OrderResult{}, err
		}
		switch res.Status {
		case exchange.StatusFilled, exchange.StatusCanceled, exchange.StatusRejected:
			return res, nil
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) purgeLocked() {
	cutoff := time.Now().Add(-e.cfg.DedupeWindow)
	for k, entry := range e.recent {
		if entry.at.Before(cutoff) {
			delete(e.recent, k)
		}
	}
}

// classify sorts a Binance error into the shared taxonomy: credential
// problems are fatal, transport problems retry, everything else is an
// execution failure.
func classify(op, sym string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1002, -1021, -1022, -2014, -2015:
			return &market.AuthError{Op: op, Err: err}
		case -1003:
			return &market.NetworkError{Op: op, Err: err}
		default:
			return &exchange.ExecutionError{Op: op, Symbol: sym, Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &market.NetworkError{Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &market.NetworkError{Op: op, Err: err}
	}
	return &market.NetworkError{Op: op, Err: err}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
