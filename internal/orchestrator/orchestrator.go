package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marlin/internal/exchange"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/monitoring"
	"marlin/internal/risk"
	"marlin/internal/signal"
)

// Stage names the workflow step a decision reached.
type Stage string

const (
	StageFetchData      Stage = "FETCH_DATA"
	StageGenerateSignal Stage = "GENERATE_SIGNAL"
	StageValidateRisk   Stage = "VALIDATE_RISK"
	StageExecute        Stage = "EXECUTE"
	StageRecordTrade    Stage = "RECORD_TRADE"
)

// MarketSource is the slice of the market gateway the workflow needs.
type MarketSource interface {
	GetPrice(ctx context.Context, symbol string) (market.PriceQuote, error)
	FetchHistory(ctx context.Context, symbol, interval string, limit, minBars int) ([]market.Candle, error)
}

// SignalGenerator evaluates a strategy over candle history.
type SignalGenerator interface {
	Generate(candles []market.Candle, strategy string) (signal.Signal, error)
	MinBars(strategy string) int
}

// RiskValidator gates proposed orders and absorbs trade outcomes.
type RiskValidator interface {
	Validate(ctx context.Context, req risk.Request) risk.Result
	RecordOutcome(ctx context.Context, realizedPnL float64)
}

// Portfolio is the ledger surface the workflow records against.
// RecordTrade returns the realized P&L of that trade alone so the
// outcome fed back to the risk gate is not polluted by concurrent
// fills on other symbols.
type Portfolio interface {
	Snapshot() ledger.Snapshot
	RecordTrade(ctx context.Context, t ledger.Trade) (float64, error)
}

// Request proposes one workflow run. Quantity zero lets the workflow
// size the order itself from equity and signal confidence.
type Request struct {
	Symbol   string
	Quantity float64
}

// Decision is the outcome of one workflow run. Err is set only for
// infrastructure failures; a rejected or held order is a successful
// decision with Approved false.
type Decision struct {
	CorrelationID    string
	Symbol           string
	Stage            Stage
	Signal           signal.Signal
	Approved         bool
	Reason           string
	AdjustedQuantity float64
	Order            *exchange.OrderResult
	Err              error
	Duration         time.Duration
}

// Config tunes the workflow.
type Config struct {
	Strategy       string
	Interval       string
	HistoryLimit   int
	BaseOrderPct   float64
	MaxConcurrent  int
	ExecuteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Strategy) == "" {
		c.Strategy = "combined"
	}
	if strings.TrimSpace(c.Interval) == "" {
		c.Interval = "1h"
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.BaseOrderPct <= 0 {
		c.BaseOrderPct = 2
	}
	if c.MaxConcurrent <= 0 || c.MaxConcurrent > 20 {
		c.MaxConcurrent = 10
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = 30 * time.Second
	}
	return c
}

// Orchestrator drives the fetch, signal, risk, execute, record pipeline
// for each symbol.
type Orchestrator struct {
	cfg      Config
	source   MarketSource
	signals  SignalGenerator
	gate     RiskValidator
	ledger   Portfolio
	executor exchange.Executor
	metrics  *monitoring.Metrics
}

func New(cfg Config, source MarketSource, signals SignalGenerator, gate RiskValidator, portfolio Portfolio, executor exchange.Executor, metrics *monitoring.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		source:   source,
		signals:  signals,
		gate:     gate,
		ledger:   portfolio,
		executor: executor,
		metrics:  metrics,
	}
}

// ExecuteWorkflow runs the full pipeline for one symbol with a
// caller-proposed quantity, zero meaning size automatically. It never
// panics; every failure mode lands in the returned Decision.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, symbol string, quantity float64) Decision {
	started := time.Now()
	dec := Decision{
		CorrelationID: uuid.NewString(),
		Symbol:        symbol,
	}
	defer func() {
		dec.Duration = time.Since(started)
		if o.metrics != nil {
			o.metrics.WorkflowDuration.Observe(dec.Duration.Seconds())
			o.metrics.WorkflowsTotal.WithLabelValues(o.outcome(dec)).Inc()
		}
	}()

	// FETCH_DATA
	dec.Stage = StageFetchData
	minBars := o.signals.MinBars(o.cfg.Strategy)
	limit := o.cfg.HistoryLimit
	if limit < minBars {
		limit = minBars
	}
	candles, err := o.source.FetchHistory(ctx, symbol, o.cfg.Interval, limit, minBars)
	if err != nil {
		if market.IsInsufficientData(err) {
			// Not enough history is a calm HOLD, not a failure.
			dec.Signal = signal.Signal{Type: signal.TypeHold, Strategy: o.cfg.Strategy, Insufficient: true}
			dec.Reason = "insufficient market history"
			logger.Infof("workflow %s %s: %s", dec.CorrelationID, symbol, dec.Reason)
			return dec
		}
		dec.Err = fmt.Errorf("fetch history: %w", err)
		return dec
	}
	quote, err := o.source.GetPrice(ctx, symbol)
	if err != nil {
		dec.Err = fmt.Errorf("fetch price: %w", err)
		return dec
	}

	// GENERATE_SIGNAL
	dec.Stage = StageGenerateSignal
	sig, err := o.signals.Generate(candles, o.cfg.Strategy)
	if err != nil {
		dec.Err = fmt.Errorf("generate signal: %w", err)
		return dec
	}
	dec.Signal = sig
	if !sig.Actionable() {
		dec.Reason = "signal is HOLD"
		return dec
	}

	// VALIDATE_RISK
	dec.Stage = StageValidateRisk
	snap := o.ledger.Snapshot()
	pos := snap.Positions[strings.ToUpper(strings.TrimSpace(symbol))]
	if sig.Type == signal.TypeSell && pos.Quantity <= 0 {
		dec.Reason = "no position to reduce"
		return dec
	}
	req := o.buildRiskRequest(symbol, quantity, sig, quote.Price, snap, pos, candles)
	res := o.gate.Validate(ctx, req)
	if !res.Approved {
		dec.Reason = res.Reason
		if o.metrics != nil {
			o.metrics.RiskRejections.WithLabelValues(rejectionCheck(res.Reason)).Inc()
		}
		logger.Infof("workflow %s %s: rejected by risk gate: %s", dec.CorrelationID, symbol, res.Reason)
		return dec
	}
	dec.Approved = true
	dec.Reason = res.Reason
	dec.AdjustedQuantity = res.AdjustedQuantity

	// EXECUTE
	dec.Stage = StageExecute
	execCtx, cancel := context.WithTimeout(ctx, o.cfg.ExecuteTimeout)
	defer cancel()
	order, err := o.executor.PlaceOrder(execCtx, exchange.OrderRequest{
		CorrelationID: dec.CorrelationID,
		Symbol:        symbol,
		Side:          string(sig.Type),
		Type:          exchange.TypeMarket,
		Quantity:      res.AdjustedQuantity,
		Price:         quote.Price,
	})
	if err != nil {
		// Nothing reached the ledger; the failed order is not recorded.
		dec.Err = err
		if o.metrics != nil {
			o.metrics.OrderErrors.Inc()
		}
		return dec
	}
	dec.Order = &order
	if o.metrics != nil {
		o.metrics.OrdersSubmitted.WithLabelValues(string(sig.Type)).Inc()
	}

	// RECORD_TRADE
	dec.Stage = StageRecordTrade
	fillPrice := order.AvgPrice
	if fillPrice <= 0 {
		fillPrice = quote.Price
	}
	fillQty := order.FilledQuantity
	if fillQty <= 0 {
		fillQty = res.AdjustedQuantity
	}
	realized, err := o.ledger.RecordTrade(ctx, ledger.Trade{
		TradeID:       order.OrderID,
		CorrelationID: dec.CorrelationID,
		Symbol:        symbol,
		Side:          string(sig.Type),
		Quantity:      fillQty,
		Price:         fillPrice,
		Fee:           order.Fee,
		Snapshot:      sig.Snapshot,
		Timestamp:     order.SubmittedAt,
	})
	if err != nil {
		// The order is live but unrecorded; this must be surfaced loudly.
		dec.Err = err
		logger.Errorf("workflow %s %s: order %s executed but not recorded: %v",
			dec.CorrelationID, symbol, order.OrderID, err)
		return dec
	}
	o.gate.RecordOutcome(ctx, realized)

	logger.Infof("workflow %s %s: %s %.8f executed (order %s)",
		dec.CorrelationID, symbol, sig.Type, fillQty, order.OrderID)
	return dec
}

// ExecuteMultiSymbol runs one workflow per request with bounded
// concurrency. Results come back in input order; a failure in one
// symbol never disturbs the others.
func (o *Orchestrator) ExecuteMultiSymbol(ctx context.Context, requests []Request) []Decision {
	decisions := make([]Decision, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrent)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			decisions[i] = o.ExecuteWorkflow(gctx, req.Symbol, req.Quantity)
			return nil
		})
	}
	_ = g.Wait()
	return decisions
}

// buildRiskRequest marks the portfolio and sizes the proposed order.
// With no requested quantity, a buy is sized from equity and signal
// confidence and a sell proposes the full held quantity.
func (o *Orchestrator) buildRiskRequest(symbol string, requested float64, sig signal.Signal, price float64, snap ledger.Snapshot, pos ledger.Position, candles []market.Candle) risk.Request {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	equity := snap.Cash
	exposure := 0.0
	positionValue := 0.0
	for sym, p := range snap.Positions {
		mark := p.AverageCost
		if sym == key && price > 0 {
			mark = price
		}
		value := p.Quantity * mark
		equity += value
		exposure += value
		if sym == key {
			positionValue = value
		}
	}

	var qty float64
	switch {
	case sig.Type == signal.TypeSell:
		qty = pos.Quantity
		if requested > 0 && requested < qty {
			qty = requested
		}
	case requested > 0:
		qty = requested
	case price > 0:
		qty = equity * o.cfg.BaseOrderPct / 100 * sig.Confidence / price
	}
	return risk.Request{
		Symbol:        symbol,
		Side:          string(sig.Type),
		Quantity:      qty,
		Price:         price,
		Equity:        equity,
		PositionValue: positionValue,
		PositionQty:   pos.Quantity,
		TotalExposure: exposure,
		Closes:        market.Closes(candles),
	}
}

func (o *Orchestrator) outcome(dec Decision) string {
	switch {
	case dec.Err != nil:
		return "error"
	case dec.Order != nil:
		return "executed"
	case dec.Approved:
		return "approved"
	default:
		return "held"
	}
}

// rejectionCheck maps a rejection reason to a stable metric label.
func rejectionCheck(reason string) string {
	switch {
	case strings.Contains(reason, "emergency"):
		return "emergency_stop"
	case strings.Contains(reason, "position limit"):
		return "position_limit"
	case strings.Contains(reason, "exposure limit"):
		return "exposure_limit"
	case strings.Contains(reason, "drawdown"):
		return "drawdown"
	default:
		return "other"
	}
}
