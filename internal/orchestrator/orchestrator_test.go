package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marlin/internal/exchange"
	"marlin/internal/ledger"
	"marlin/internal/market"
	"marlin/internal/risk"
	"marlin/internal/signal"
)

type mockSource struct{ mock.Mock }

func (m *mockSource) GetPrice(ctx context.Context, symbol string) (market.PriceQuote, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(market.PriceQuote), args.Error(1)
}

func (m *mockSource) FetchHistory(ctx context.Context, symbol, interval string, limit, minBars int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit, minBars)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Candle), args.Error(1)
}

type mockSignals struct{ mock.Mock }

func (m *mockSignals) Generate(candles []market.Candle, strategy string) (signal.Signal, error) {
	args := m.Called(candles, strategy)
	return args.Get(0).(signal.Signal), args.Error(1)
}

func (m *mockSignals) MinBars(strategy string) int {
	return m.Called(strategy).Int(0)
}

type mockGate struct{ mock.Mock }

func (m *mockGate) Validate(ctx context.Context, req risk.Request) risk.Result {
	return m.Called(ctx, req).Get(0).(risk.Result)
}

func (m *mockGate) RecordOutcome(ctx context.Context, realizedPnL float64) {
	m.Called(ctx, realizedPnL)
}

type mockPortfolio struct{ mock.Mock }

func (m *mockPortfolio) Snapshot() ledger.Snapshot {
	return m.Called().Get(0).(ledger.Snapshot)
}

func (m *mockPortfolio) RecordTrade(ctx context.Context, t ledger.Trade) (float64, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(float64), args.Error(1)
}

type mockExecutor struct{ mock.Mock }

func (m *mockExecutor) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *mockExecutor) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return m.Called(ctx, symbol, orderID).Error(0)
}

func (m *mockExecutor) GetOrderStatus(ctx context.Context, symbol, orderID string) (exchange.OrderResult, error) {
	args := m.Called(ctx, symbol, orderID)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

type fixture struct {
	source    *mockSource
	signals   *mockSignals
	gate      *mockGate
	portfolio *mockPortfolio
	executor  *mockExecutor
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source:    &mockSource{},
		signals:   &mockSignals{},
		gate:      &mockGate{},
		portfolio: &mockPortfolio{},
		executor:  &mockExecutor{},
	}
	f.orch = New(Config{Strategy: "rsi", Interval: "1h", HistoryLimit: 50},
		f.source, f.signals, f.gate, f.portfolio, f.executor, nil)
	return f
}

func testCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{Close: 50000}
	}
	return out
}

func (f *fixture) expectFetch(symbol string) {
	f.signals.On("MinBars", "rsi").Return(15)
	f.source.On("FetchHistory", mock.Anything, symbol, "1h", 50, 15).Return(testCandles(50), nil)
	f.source.On("GetPrice", mock.Anything, symbol).Return(market.PriceQuote{
		Symbol: symbol, Price: 50000, Timestamp: time.Now(),
	}, nil)
}

func TestExecuteWorkflow_BuyPath(t *testing.T) {
	f := newFixture(t)
	f.expectFetch("BTC/USDT")
	f.signals.On("Generate", mock.Anything, "rsi").Return(signal.Signal{
		Type: signal.TypeBuy, Confidence: 0.8, Strategy: "rsi",
	}, nil)
	f.portfolio.On("Snapshot").Return(ledger.Snapshot{Cash: 10000, Positions: map[string]ledger.Position{}})
	f.gate.On("Validate", mock.Anything, mock.Anything).Return(risk.Result{
		Approved: true, Reason: "approved", AdjustedQuantity: 0.0032,
	})
	f.executor.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Symbol == "BTC/USDT" && req.Side == "BUY" && req.CorrelationID != ""
	})).Return(exchange.OrderResult{
		OrderID: "100", Status: exchange.StatusFilled, FilledQuantity: 0.0032, AvgPrice: 50010,
	}, nil)
	f.portfolio.On("RecordTrade", mock.Anything, mock.MatchedBy(func(tr ledger.Trade) bool {
		return tr.TradeID == "100" && tr.Side == "BUY" && tr.Price == 50010
	})).Return(0.0, nil)
	f.gate.On("RecordOutcome", mock.Anything, mock.Anything).Return()

	dec := f.orch.ExecuteWorkflow(context.Background(), "BTC/USDT", 0)

	require.NoError(t, dec.Err)
	assert.True(t, dec.Approved)
	assert.Equal(t, StageRecordTrade, dec.Stage)
	require.NotNil(t, dec.Order)
	assert.Equal(t, "100", dec.Order.OrderID)
	assert.NotEmpty(t, dec.CorrelationID)
	f.portfolio.AssertExpectations(t)
	f.executor.AssertExpectations(t)
}

func TestExecuteWorkflow_RequestedQuantityOverridesSizing(t *testing.T) {
	f := newFixture(t)
	f.expectFetch("BTC/USDT")
	f.signals.On("Generate", mock.Anything, "rsi").Return(signal.Signal{
		Type: signal.TypeBuy, Confidence: 0.8, Strategy: "rsi",
	}, nil)
	f.portfolio.On("Snapshot").Return(ledger.Snapshot{Cash: 10000, Positions: map[string]ledger.Position{}})
	f.gate.On("Validate", mock.Anything, mock.MatchedBy(func(req risk.Request) bool {
		return req.Quantity == 0.01
	})).Return(risk.Result{Approved: false, Reason: "position limit exceeded"})

	dec := f.orch.ExecuteWorkflow(context.Background(), "BTC/USDT", 0.01)

	require.NoError(t, dec.Err)
	assert.False(t, dec.Approved)
	f.gate.AssertExpectations(t)
}

func TestExecuteWorkflow_HoldShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.expectFetch("BTC/USDT")
	f.signals.On("Generate", mock.Anything, "rsi").Return(signal.Signal{
		Type: signal.TypeHold, Confidence: 0.5, Strategy: "rsi",
	}, nil)

	dec := f.orch.ExecuteWorkflow(context.Background(), "BTC/USDT", 0)

	require.NoError(t, dec.Err)
	assert.False(t, dec.Approved)
	assert.Equal(t, StageGenerateSignal, dec.Stage)
	f.gate.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
	f.executor.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestExecuteWorkflow_InsufficientHistoryHolds(t *testing.T) {
	f := newFixture(t)
	f.signals.On("MinBars", "rsi").Return(15)
	f.source.On("FetchHistory", mock.Anything, "BTC/USDT", "1h", 50, 15).
		Return(nil, &market.InsufficientDataError{Symbol: "BTC/USDT", Need: 15, Got: 3})

	dec := f.orch.ExecuteWorkflow(context.Background(), "BTC/USDT", 0)

	require.NoError(t, dec.Err)
	assert.Equal(t, signal.TypeHold, dec.Signal.Type)
	assert.True(t, dec.Signal.Insufficient)
	f.executor.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestExecuteWorkflow_NetworkFailureSurfacesError(t *testing.T) {
	f := newFixture(t)
	f.signals.On("MinBars", "rsi").Return(15)
	f.source.On("FetchHistory", mock.Anything, "BTC/USDT", "1h", 50, 15).
		Return(nil, &market.NetworkError{Op: "klines", Err: errors.New("timeout")})

	dec := f.orch.ExecuteWorkflow(context.Background(), "BTC/USDT", 0)

	require.Error(t, dec.Err)
	assert.Equal(t, StageFetchData, dec.Stage)
	assert.True(t, market.IsNetworkError(dec.Err))
}

func TestExecuteWorkflow_RiskRejectionStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.expectFetch("BTC/USDT")
	f.signals.On("Generate", mock.Anything, "rsi").Return(signal.Signal{
		Type: signal.TypeBuy, Confidence: 0.9, Strategy: "rsi",
	}, nil)
	f.portfolio.On("Snapshot").Return(ledger.Snapshot{Cash: 10000, Positions: map[string]ledger.Position{}})
	f.gate.On("Validate", mock.Anything, mock.Anything).Return(risk.Result{
		Approved: false, Reason: "emergency stop active: manual halt",
	})

	dec := f.orch.ExecuteWorkflow(context.Background(), "BTC/USDT", 0)

	require.NoError(t, dec.Err)
	assert.False(t, dec.Approved)
	assert.Equal(t, StageValidateRisk, dec.Stage)
	assert.Contains(t, dec.Reason, "emergency stop")
	f.executor.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestExecuteWorkflow_SellWithoutPositionHolds(t *testing.T) {
	f := newFixture(t)
	f.expectFetch("BTC/USDT")
	f.signals.On("Generate", mock.Anything, "rsi").Return(signal.Signal{
		Type: signal.TypeSell, Confidence: 0.9, Strategy: "rsi",
	}, nil)
	f.portfolio.On("Snapshot").Return(ledger.Snapshot{Cash: 10000, Positions: map[string]ledger.Position{}})

	dec := f.orch.ExecuteWorkflow(context.Background(), "BTC/USDT", 0)

	require.NoError(t, dec.Err)
	assert.False(t, dec.Approved)
	assert.Equal(t, "no position to reduce", dec.Reason)
	f.gate.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
}

func TestExecuteWorkflow_ExecutionFailureNotRecorded(t *testing.T) {
	f := newFixture(t)
	f.expectFetch("BTC/USDT")
	f.signals.On("Generate", mock.Anything, "rsi").Return(signal.Signal{
		Type: signal.TypeBuy, Confidence: 0.8, Strategy: "rsi",
	}, nil)
	f.portfolio.On("Snapshot").Return(ledger.Snapshot{Cash: 10000, Positions: map[string]ledger.Position{}})
	f.gate.On("Validate", mock.Anything, mock.Anything).Return(risk.Result{
		Approved: true, Reason: "approved", AdjustedQuantity: 0.001,
	})
	f.executor.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderResult{},
		&exchange.ExecutionError{Op: "place", Symbol: "BTC/USDT", Err: errors.New("margin insufficient")})

	dec := f.orch.ExecuteWorkflow(context.Background(), "BTC/USDT", 0)

	require.Error(t, dec.Err)
	assert.Equal(t, StageExecute, dec.Stage)
	assert.True(t, exchange.IsExecutionError(dec.Err))
	f.portfolio.AssertNotCalled(t, "RecordTrade", mock.Anything, mock.Anything)
}

func TestExecuteWorkflow_PersistenceFailureIsLoud(t *testing.T) {
	f := newFixture(t)
	f.expectFetch("BTC/USDT")
	f.signals.On("Generate", mock.Anything, "rsi").Return(signal.Signal{
		Type: signal.TypeBuy, Confidence: 0.8, Strategy: "rsi",
	}, nil)
	f.portfolio.On("Snapshot").Return(ledger.Snapshot{Cash: 10000, Positions: map[string]ledger.Position{}})
	f.gate.On("Validate", mock.Anything, mock.Anything).Return(risk.Result{
		Approved: true, Reason: "approved", AdjustedQuantity: 0.001,
	})
	f.executor.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderResult{
		OrderID: "7", Status: exchange.StatusFilled, FilledQuantity: 0.001, AvgPrice: 50000,
	}, nil)
	f.portfolio.On("RecordTrade", mock.Anything, mock.Anything).
		Return(0.0, &ledger.PersistenceError{Op: "append trade", Err: errors.New("disk full")})

	dec := f.orch.ExecuteWorkflow(context.Background(), "BTC/USDT", 0)

	require.Error(t, dec.Err)
	assert.Equal(t, StageRecordTrade, dec.Stage)
	assert.True(t, ledger.IsPersistenceError(dec.Err))
	require.NotNil(t, dec.Order)
	f.gate.AssertNotCalled(t, "RecordOutcome", mock.Anything, mock.Anything)
}

func TestExecuteWorkflow_OutcomeIsTradeOwnRealizedPnL(t *testing.T) {
	f := newFixture(t)
	f.expectFetch("ETH/USDT")
	f.signals.On("Generate", mock.Anything, "rsi").Return(signal.Signal{
		Type: signal.TypeSell, Confidence: 0.7, Strategy: "rsi",
	}, nil)
	// Realized P&L already carries losses from other symbols; the gate
	// must only see what this trade realized, not the ledger-wide delta.
	f.portfolio.On("Snapshot").Return(ledger.Snapshot{
		Cash:        5000,
		RealizedPnL: -20,
		Positions: map[string]ledger.Position{
			"ETH/USDT": {Symbol: "ETH/USDT", Quantity: 1, AverageCost: 110},
		},
	})
	f.gate.On("Validate", mock.Anything, mock.Anything).Return(risk.Result{
		Approved: true, Reason: "approved", AdjustedQuantity: 1,
	})
	f.executor.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderResult{
		OrderID: "42", Status: exchange.StatusFilled, FilledQuantity: 1, AvgPrice: 100,
	}, nil)
	f.portfolio.On("RecordTrade", mock.Anything, mock.Anything).Return(-10.0, nil)
	f.gate.On("RecordOutcome", mock.Anything, -10.0).Return()

	dec := f.orch.ExecuteWorkflow(context.Background(), "ETH/USDT", 0)

	require.NoError(t, dec.Err)
	f.gate.AssertCalled(t, "RecordOutcome", mock.Anything, -10.0)
	f.gate.AssertExpectations(t)
}

func TestExecuteMultiSymbol_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}

	f.signals.On("MinBars", "rsi").Return(15)
	for _, sym := range []string{"BTC/USDT", "SOL/USDT"} {
		f.source.On("FetchHistory", mock.Anything, sym, "1h", 50, 15).Return(testCandles(50), nil)
		f.source.On("GetPrice", mock.Anything, sym).Return(market.PriceQuote{Symbol: sym, Price: 100}, nil)
	}
	f.source.On("FetchHistory", mock.Anything, "ETH/USDT", "1h", 50, 15).
		Return(nil, &market.NetworkError{Op: "klines", Err: errors.New("refused")})
	f.signals.On("Generate", mock.Anything, "rsi").Return(signal.Signal{
		Type: signal.TypeHold, Confidence: 0.5, Strategy: "rsi",
	}, nil)

	requests := make([]Request, len(symbols))
	for i, sym := range symbols {
		requests[i] = Request{Symbol: sym}
	}
	decisions := f.orch.ExecuteMultiSymbol(context.Background(), requests)

	require.Len(t, decisions, 3)
	for i, sym := range symbols {
		assert.Equal(t, sym, decisions[i].Symbol)
	}
	assert.NoError(t, decisions[0].Err)
	assert.Error(t, decisions[1].Err)
	assert.NoError(t, decisions[2].Err)
}
