package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/store/gormstore"
)

func newTestLedger(t *testing.T, capital float64) (*Ledger, *gormstore.GormStore) {
	t.Helper()
	st, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, capital), st
}

func buy(id string, qty, price, fee float64) Trade {
	return Trade{
		TradeID: id, CorrelationID: "c-" + id, Symbol: "BTC/USDT",
		Side: "BUY", Quantity: qty, Price: price, Fee: fee,
		Timestamp: time.Now(),
	}
}

func sell(id string, qty, price, fee float64) Trade {
	t := buy(id, qty, price, fee)
	t.Side = "SELL"
	return t
}

func record(t *testing.T, l *Ledger, tr Trade) float64 {
	t.Helper()
	realized, err := l.RecordTrade(context.Background(), tr)
	require.NoError(t, err)
	return realized
}

func TestRecordTrade_WeightedAverageCost(t *testing.T) {
	l, _ := newTestLedger(t, 10000)

	assert.Zero(t, record(t, l, buy("t1", 0.1, 40000, 0)))
	assert.Zero(t, record(t, l, buy("t2", 0.05, 42000, 0)))

	pos, ok := l.GetPosition("BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, 0.15, pos.Quantity, 1e-9)
	assert.InDelta(t, 40666.6667, pos.AverageCost, 0.01)
}

func TestRecordTrade_RealizedPnLOnSell(t *testing.T) {
	l, _ := newTestLedger(t, 10000)

	record(t, l, buy("t1", 0.1, 40000, 0))
	record(t, l, buy("t2", 0.05, 42000, 0))
	realized := record(t, l, sell("t3", 0.05, 45000, 2))

	// (45000 - 40666.6667) * 0.05 - 2
	assert.InDelta(t, 214.6667, realized, 0.01)
	snap := l.Snapshot()
	assert.InDelta(t, 214.6667, snap.RealizedPnL, 0.01)

	// Selling leaves the average cost untouched.
	pos, ok := l.GetPosition("BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, 0.1, pos.Quantity, 1e-9)
	assert.InDelta(t, 40666.6667, pos.AverageCost, 0.01)
}

func TestRecordTrade_IdempotentReplay(t *testing.T) {
	l, _ := newTestLedger(t, 10000)

	tr := buy("t1", 0.1, 40000, 4)
	record(t, l, tr)
	cashAfter := l.Snapshot().Cash
	assert.Zero(t, record(t, l, tr))

	snap := l.Snapshot()
	assert.InDelta(t, cashAfter, snap.Cash, 1e-9)
	assert.Equal(t, 1, l.Stats(nil).TradeCount)
}

func TestRecordTrade_RejectsOversell(t *testing.T) {
	l, _ := newTestLedger(t, 10000)
	ctx := context.Background()

	record(t, l, buy("t1", 0.1, 40000, 0))
	_, err := l.RecordTrade(ctx, sell("t2", 0.2, 41000, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	// Nothing was recorded.
	assert.Equal(t, 1, l.Stats(nil).TradeCount)
}

func TestRecordTrade_FullCloseRemovesPosition(t *testing.T) {
	l, st := newTestLedger(t, 10000)
	ctx := context.Background()

	record(t, l, buy("t1", 0.1, 40000, 0))
	record(t, l, sell("t2", 0.1, 41000, 0))

	_, ok := l.GetPosition("BTC/USDT")
	assert.False(t, ok)
	_, found, err := st.GetPosition(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStats_MarksAtSuppliedPrices(t *testing.T) {
	l, _ := newTestLedger(t, 10000)

	record(t, l, buy("t1", 0.1, 40000, 10))

	stats := l.Stats(map[string]float64{"BTC/USDT": 44000})
	// cash = 10000 - 4000 - 10 = 5990; value = 5990 + 0.1*44000 = 10390
	assert.InDelta(t, 5990, stats.CashBalance, 1e-6)
	assert.InDelta(t, 10390, stats.TotalValue, 1e-6)
	assert.InDelta(t, 390, stats.TotalPnL, 1e-6)
	assert.InDelta(t, 3.9, stats.PnLPercent, 1e-6)
	assert.Equal(t, 1, stats.PositionCount)
}

func TestRestore_RebuildsFromStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	ctx := context.Background()

	st, err := gormstore.NewGormStore(path)
	require.NoError(t, err)
	l := New(st, 10000)
	record(t, l, buy("t1", 0.1, 40000, 10))
	record(t, l, sell("t2", 0.04, 43000, 5))
	want := l.Snapshot()
	wantStats := l.Stats(nil)
	require.NoError(t, st.Close())

	st2, err := gormstore.NewGormStore(path)
	require.NoError(t, err)
	defer st2.Close()
	restored := New(st2, 10000)
	require.NoError(t, restored.Restore(ctx))

	got := restored.Snapshot()
	assert.InDelta(t, want.Cash, got.Cash, 1e-6)
	assert.InDelta(t, want.RealizedPnL, got.RealizedPnL, 1e-6)
	require.Contains(t, got.Positions, "BTC/USDT")
	assert.InDelta(t, want.Positions["BTC/USDT"].Quantity, got.Positions["BTC/USDT"].Quantity, 1e-9)
	assert.InDelta(t, want.Positions["BTC/USDT"].AverageCost, got.Positions["BTC/USDT"].AverageCost, 1e-6)
	assert.Equal(t, wantStats.TradeCount, restored.Stats(nil).TradeCount)
}
