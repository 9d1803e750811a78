package paper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marlin/internal/exchange"
	"marlin/internal/logger"
)

// Executor simulates fills without touching an exchange. Orders fill
// immediately at the request price; the fee is a flat percentage of
// notional. Duplicate submissions are deduplicated the same way the
// live executor does it.
type Executor struct {
	feePct float64

	mu     sync.Mutex
	orders map[string]exchange.OrderResult
	recent map[string]string
}

var _ exchange.Executor = (*Executor)(nil)

func NewExecutor(feePct float64) *Executor {
	if feePct < 0 {
		feePct = 0
	}
	return &Executor{
		feePct: feePct,
		orders: make(map[string]exchange.OrderResult),
		recent: make(map[string]string),
	}
}

func (e *Executor) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderResult{}, err
	}
	if req.Quantity <= 0 || req.Price <= 0 {
		return exchange.OrderResult{}, &exchange.ExecutionError{
			Op: "place", Symbol: req.Symbol, Err: errors.New("paper fills need a positive quantity and price"),
		}
	}

	key := fmt.Sprintf("%s|%s|%s|%.8f|%.8f",
		strings.TrimSpace(req.CorrelationID), strings.ToUpper(req.Symbol),
		strings.ToUpper(strings.TrimSpace(req.Side)), req.Quantity, req.Price)

	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.recent[key]; ok {
		logger.Warnf("paper executor: duplicate order suppressed for %s", req.Symbol)
		return e.orders[id], nil
	}

	result := exchange.OrderResult{
		OrderID:        uuid.NewString(),
		Status:         exchange.StatusFilled,
		FilledQuantity: req.Quantity,
		AvgPrice:       req.Price,
		Fee:            req.Quantity * req.Price * e.feePct / 100,
		SubmittedAt:    time.Now(),
	}
	e.orders[result.OrderID] = result
	e.recent[key] = result.OrderID
	logger.Infof("paper executor: filled %s %s qty=%.8f at %.2f",
		req.Side, req.Symbol, req.Quantity, req.Price)
	return result, nil
}

func (e *Executor) CancelOrder(ctx context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.orders[orderID]; !ok {
		return &exchange.ExecutionError{Op: "cancel", Symbol: symbol, Err: fmt.Errorf("unknown order %s", orderID)}
	}
	// Paper fills are immediate, so there is never anything to cancel.
	return nil
}

func (e *Executor) GetOrderStatus(ctx context.Context, symbol, orderID string) (exchange.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.orders[orderID]
	if !ok {
		return exchange.OrderResult{}, &exchange.ExecutionError{
			Op: "status", Symbol: symbol, Err: fmt.Errorf("unknown order %s", orderID),
		}
	}
	return res, nil
}
