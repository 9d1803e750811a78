package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marlin/internal/logger"
	"marlin/internal/store"
)

// qtyEpsilon treats residual quantities below this as a closed position.
var qtyEpsilon = decimal.New(1, -9)

// Trade is one fill to be recorded. TradeID is the idempotency key.
type Trade struct {
	TradeID       string
	CorrelationID string
	Symbol        string
	Side          string
	Quantity      float64
	Price         float64
	Fee           float64
	Snapshot      map[string]float64
	Timestamp     time.Time
}

// Position is the current holding for one symbol.
type Position struct {
	Symbol      string
	Quantity    float64
	AverageCost float64
}

// Stats is the portfolio summary at a set of mark prices.
type Stats struct {
	CashBalance   float64
	TotalValue    float64
	RealizedPnL   float64
	TotalPnL      float64
	PnLPercent    float64
	PositionCount int
	TradeCount    int
}

// Snapshot is the portfolio view the risk gate validates against.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Positions   map[string]Position
}

// Ledger tracks cash, positions, and realized P&L with weighted average
// cost accounting. All mutations go through one mutex; position math
// runs on decimals so repeated partial fills do not drift.
type Ledger struct {
	mu sync.Mutex

	store          store.Store
	initialCapital decimal.Decimal
	cash           decimal.Decimal
	realized       decimal.Decimal
	positions      map[string]position
	tradeCount     int
}

type position struct {
	qty decimal.Decimal
	avg decimal.Decimal
}

func New(st store.Store, initialCapital float64) *Ledger {
	capital := decimal.NewFromFloat(initialCapital)
	return &Ledger{
		store:          st,
		initialCapital: capital,
		cash:           capital,
		positions:      make(map[string]position),
	}
}

// Restore rebuilds the in-memory state from the database. Cash and
// realized P&L are replayed from the trade history; positions come from
// the positions table, which is authoritative for average cost.
func (l *Ledger) Restore(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.store.ListPositions(ctx)
	if err != nil {
		return &PersistenceError{Op: "restore positions", Err: err}
	}
	l.positions = make(map[string]position, len(recs))
	for _, rec := range recs {
		l.positions[rec.Symbol] = position{
			qty: decimal.NewFromFloat(rec.Quantity),
			avg: decimal.NewFromFloat(rec.AverageCost),
		}
	}

	l.cash = l.initialCapital
	l.realized = decimal.Zero
	l.tradeCount = 0
	const page = 500
	for offset := 0; ; offset += page {
		trades, err := l.store.ListTrades(ctx, page, offset)
		if err != nil {
			return &PersistenceError{Op: "restore trades", Err: err}
		}
		for _, t := range trades {
			l.applyCashFlow(t)
			l.tradeCount++
		}
		if len(trades) < page {
			break
		}
	}
	logger.Infof("ledger restored: %d positions, %d trades", len(l.positions), l.tradeCount)
	return nil
}

// applyCashFlow replays one persisted trade's effect on cash and
// realized P&L. Order independent, so paging direction does not matter.
func (l *Ledger) applyCashFlow(t store.TradeRecord) {
	qty := decimal.NewFromFloat(t.Quantity)
	price := decimal.NewFromFloat(t.Price)
	fee := decimal.NewFromFloat(t.Fee)
	gross := qty.Mul(price)
	if strings.EqualFold(t.Side, "BUY") {
		l.cash = l.cash.Sub(gross).Sub(fee)
	} else {
		l.cash = l.cash.Add(gross).Sub(fee)
	}
	l.realized = l.realized.Add(decimal.NewFromFloat(t.RealizedPnL))
}

// RecordTrade applies one fill and returns the realized P&L this trade
// produced, zero for buys and replays. Replaying a trade ID already
// recorded is a no-op. A buy raises the position's weighted average
// cost; a sell realizes (price - avg) * qty - fee and removes the
// position when the quantity reaches zero.
func (l *Ledger) RecordTrade(ctx context.Context, t Trade) (float64, error) {
	if strings.TrimSpace(t.TradeID) == "" {
		return 0, fmt.Errorf("trade_id is required")
	}
	if t.Quantity <= 0 || t.Price <= 0 {
		return 0, fmt.Errorf("trade %s: quantity and price must be positive", t.TradeID)
	}
	side := strings.ToUpper(strings.TrimSpace(t.Side))
	if side != "BUY" && side != "SELL" {
		return 0, fmt.Errorf("trade %s: unknown side %q", t.TradeID, t.Side)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen, err := l.store.HasTrade(ctx, t.TradeID)
	if err != nil {
		return 0, &PersistenceError{Op: "dedupe check", Err: err}
	}
	if seen {
		logger.Debugf("ledger: trade %s already recorded, skipping", t.TradeID)
		return 0, nil
	}

	symbol := strings.ToUpper(strings.TrimSpace(t.Symbol))
	qty := decimal.NewFromFloat(t.Quantity)
	price := decimal.NewFromFloat(t.Price)
	fee := decimal.NewFromFloat(t.Fee)
	gross := qty.Mul(price)

	pos := l.positions[symbol]
	var realized decimal.Decimal

	switch side {
	case "BUY":
		newQty := pos.qty.Add(qty)
		// avg' = (qty*avg + fill*price) / (qty + fill)
		pos.avg = pos.qty.Mul(pos.avg).Add(gross).Div(newQty)
		pos.qty = newQty
	case "SELL":
		if qty.GreaterThan(pos.qty.Add(qtyEpsilon)) {
			return 0, fmt.Errorf("trade %s: %w (have %s, selling %s)",
				t.TradeID, ErrInsufficientPosition, pos.qty.String(), qty.String())
		}
		realized = price.Sub(pos.avg).Mul(qty).Sub(fee)
		pos.qty = pos.qty.Sub(qty)
	}

	rec := store.TradeRecord{
		TradeID:       t.TradeID,
		CorrelationID: t.CorrelationID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      t.Quantity,
		Price:         t.Price,
		Fee:           t.Fee,
		RealizedPnL:   realized.InexactFloat64(),
		Snapshot:      t.Snapshot,
		Timestamp:     t.Timestamp,
	}
	if err := l.store.AppendTrade(ctx, rec); err != nil {
		return 0, &PersistenceError{Op: "append trade", Err: err}
	}

	closed := pos.qty.Abs().LessThanOrEqual(qtyEpsilon)
	if closed {
		if err := l.store.DeletePosition(ctx, symbol); err != nil {
			return 0, &PersistenceError{Op: "delete position", Err: err}
		}
		delete(l.positions, symbol)
	} else {
		if err := l.store.UpsertPosition(ctx, store.PositionRecord{
			Symbol:      symbol,
			Quantity:    pos.qty.InexactFloat64(),
			AverageCost: pos.avg.InexactFloat64(),
			UpdatedAt:   time.Now(),
		}); err != nil {
			return 0, &PersistenceError{Op: "upsert position", Err: err}
		}
		l.positions[symbol] = pos
	}

	if side == "BUY" {
		l.cash = l.cash.Sub(gross).Sub(fee)
	} else {
		l.cash = l.cash.Add(gross).Sub(fee)
		l.realized = l.realized.Add(realized)
	}
	l.tradeCount++

	logger.Infof("ledger: recorded %s %s qty=%.8f price=%.2f fee=%.4f realized=%.4f",
		side, symbol, t.Quantity, t.Price, t.Fee, realized.InexactFloat64())
	return realized.InexactFloat64(), nil
}

// GetPosition returns the holding for symbol, or false when flat.
func (l *Ledger) GetPosition(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return Position{
		Symbol:      symbol,
		Quantity:    pos.qty.InexactFloat64(),
		AverageCost: pos.avg.InexactFloat64(),
	}, true
}

// Positions returns all holdings sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for sym, pos := range l.positions {
		out = append(out, Position{
			Symbol:      sym,
			Quantity:    pos.qty.InexactFloat64(),
			AverageCost: pos.avg.InexactFloat64(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Stats marks every position at the supplied prices. A symbol missing
// from prices falls back to its average cost.
func (l *Ledger) Stats(prices map[string]float64) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.cash
	for sym, pos := range l.positions {
		mark := pos.avg
		if p, ok := prices[sym]; ok && p > 0 {
			mark = decimal.NewFromFloat(p)
		}
		total = total.Add(pos.qty.Mul(mark))
	}
	pnl := total.Sub(l.initialCapital)
	pct := 0.0
	if l.initialCapital.IsPositive() {
		pct = pnl.Div(l.initialCapital).InexactFloat64() * 100
	}
	return Stats{
		CashBalance:   l.cash.InexactFloat64(),
		TotalValue:    total.InexactFloat64(),
		RealizedPnL:   l.realized.InexactFloat64(),
		TotalPnL:      pnl.InexactFloat64(),
		PnLPercent:    pct,
		PositionCount: len(l.positions),
		TradeCount:    l.tradeCount,
	}
}

// Snapshot returns the state the risk gate sizes orders against.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	positions := make(map[string]Position, len(l.positions))
	for sym, pos := range l.positions {
		positions[sym] = Position{
			Symbol:      sym,
			Quantity:    pos.qty.InexactFloat64(),
			AverageCost: pos.avg.InexactFloat64(),
		}
	}
	return Snapshot{
		Cash:        l.cash.InexactFloat64(),
		RealizedPnL: l.realized.InexactFloat64(),
		Positions:   positions,
	}
}

// TradeHistory pages the persisted trade log newest first.
func (l *Ledger) TradeHistory(ctx context.Context, limit, offset int) ([]store.TradeRecord, error) {
	recs, err := l.store.ListTrades(ctx, limit, offset)
	if err != nil {
		return nil, &PersistenceError{Op: "list trades", Err: err}
	}
	return recs, nil
}

// InitialCapital reports the configured starting cash.
func (l *Ledger) InitialCapital() float64 {
	return l.initialCapital.InexactFloat64()
}
