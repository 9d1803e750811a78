package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/store"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "marlin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendTrade_IdempotentOnTradeID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := store.TradeRecord{
		TradeID:       "t-1",
		CorrelationID: "c-1",
		Symbol:        "BTC/USDT",
		Side:          "BUY",
		Quantity:      0.1,
		Price:         40000,
		Fee:           4,
		Snapshot:      map[string]float64{"rsi": 28.5},
		Timestamp:     time.Now(),
	}
	require.NoError(t, s.AppendTrade(ctx, rec))
	require.NoError(t, s.AppendTrade(ctx, rec))

	count, err := s.CountTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	ok, err := s.HasTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, ok)

	trades, err := s.ListTrades(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "BTC/USDT", trades[0].Symbol)
	assert.InDelta(t, 28.5, trades[0].Snapshot["rsi"], 1e-9)
}

func TestListTrades_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendTrade(ctx, store.TradeRecord{
			TradeID:   string(rune('a' + i)),
			Symbol:    "ETH/USDT",
			Side:      "BUY",
			Quantity:  1,
			Price:     float64(2000 + i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	trades, err := s.ListTrades(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, 2002.0, trades[0].Price)
	assert.Equal(t, 2001.0, trades[1].Price)
}

func TestUpsertPosition_ReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, store.PositionRecord{
		Symbol: "BTC/USDT", Quantity: 0.1, AverageCost: 40000,
	}))
	require.NoError(t, s.UpsertPosition(ctx, store.PositionRecord{
		Symbol: "BTC/USDT", Quantity: 0.15, AverageCost: 40666.67,
	}))

	pos, ok, err := s.GetPosition(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.15, pos.Quantity, 1e-9)
	assert.InDelta(t, 40666.67, pos.AverageCost, 1e-9)

	all, err := s.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeletePosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, store.PositionRecord{
		Symbol: "SOL/USDT", Quantity: 5, AverageCost: 150,
	}))
	require.NoError(t, s.DeletePosition(ctx, "SOL/USDT"))

	_, ok, err := s.GetPosition(ctx, "SOL/USDT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRiskState_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadRiskState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	windowStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRiskState(ctx, store.RiskStateRecord{
		EmergencyStop:     true,
		EmergencyReason:   "total drawdown breached",
		DailyPnL:          -120.5,
		DailyOpenEquity:   10120.5,
		DailyWindowStart:  windowStart,
		ConsecutiveLosses: 3,
		PeakEquity:        10500,
	}))

	rec, ok, err := s.LoadRiskState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.EmergencyStop)
	assert.Equal(t, "total drawdown breached", rec.EmergencyReason)
	assert.InDelta(t, -120.5, rec.DailyPnL, 1e-9)
	assert.InDelta(t, 10120.5, rec.DailyOpenEquity, 1e-9)
	assert.Equal(t, 3, rec.ConsecutiveLosses)
	assert.Equal(t, windowStart.UnixMilli(), rec.DailyWindowStart.UnixMilli())

	// Saving again keeps the single row.
	rec.EmergencyStop = false
	require.NoError(t, s.SaveRiskState(ctx, rec))
	rec2, ok, err := s.LoadRiskState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec2.EmergencyStop)
}
