package store

import (
	"context"
	"time"
)

// TradeRecord is one executed fill. Trades are append-only; TradeID is
// the idempotency key, so replaying the same record is a no-op.
type TradeRecord struct {
	TradeID       string
	CorrelationID string
	Symbol        string
	Side          string
	Quantity      float64
	Price         float64
	Fee           float64
	RealizedPnL   float64
	Snapshot      map[string]float64
	Timestamp     time.Time
}

// PositionRecord is the current holding for a symbol. AverageCost is
// the weighted average entry price across all increasing fills.
type PositionRecord struct {
	Symbol      string
	Quantity    float64
	AverageCost float64
	UpdatedAt   time.Time
}

// RiskStateRecord is the persisted risk gate state. A single row; the
// emergency stop survives restarts until explicitly cleared.
type RiskStateRecord struct {
	EmergencyStop     bool
	EmergencyReason   string
	DailyPnL          float64
	DailyOpenEquity   float64
	DailyWindowStart  time.Time
	ConsecutiveLosses int
	PeakEquity        float64
	UpdatedAt         time.Time
}

// Store is the persistence boundary for the ledger and the risk gate.
type Store interface {
	AppendTrade(ctx context.Context, rec TradeRecord) error
	HasTrade(ctx context.Context, tradeID string) (bool, error)
	ListTrades(ctx context.Context, limit, offset int) ([]TradeRecord, error)
	CountTrades(ctx context.Context) (int, error)

	UpsertPosition(ctx context.Context, rec PositionRecord) error
	DeletePosition(ctx context.Context, symbol string) error
	GetPosition(ctx context.Context, symbol string) (PositionRecord, bool, error)
	ListPositions(ctx context.Context) ([]PositionRecord, error)

	LoadRiskState(ctx context.Context) (RiskStateRecord, bool, error)
	SaveRiskState(ctx context.Context, rec RiskStateRecord) error

	Close() error
}
