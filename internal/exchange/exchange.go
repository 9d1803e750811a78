package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// OrderStatus mirrors the exchange-side lifecycle of an order.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// OrderType selects how an order executes.
type OrderType string

const (
	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"
)

// OrderRequest is one order to submit. CorrelationID ties the order
// back to the workflow that produced it and participates in the
// duplicate-submission key. Price is the limit price for limit orders
// and the reference mark for market orders.
type OrderRequest struct {
	CorrelationID string
	Symbol        string
	Side          string
	Type          OrderType
	Quantity      float64
	Price         float64
}

// OrderResult is the exchange's acknowledgement.
type OrderResult struct {
	OrderID        string
	Status         OrderStatus
	FilledQuantity float64
	AvgPrice       float64
	Fee            float64
	SubmittedAt    time.Time
}

// Filled reports whether any quantity executed.
func (r OrderResult) Filled() bool {
	return r.FilledQuantity > 0
}

// Executor submits orders to an exchange. Implementations must be safe
// for concurrent use and must deduplicate repeated submissions of the
// same order.
type Executor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderResult, error)
}

// ExecutionError is a rejected or failed submission. The order did not
// reach a recordable fill; callers must not write it to the ledger.
type ExecutionError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed (%s %s): %v", e.Op, e.Symbol, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
