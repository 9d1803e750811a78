package model

import "gorm.io/datatypes"

type TradeModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TradeID       string         `gorm:"column:trade_id;uniqueIndex"`
	CorrelationID string         `gorm:"column:correlation_id;index"`
	Symbol        string         `gorm:"column:symbol;index"`
	Side          string         `gorm:"column:side"`
	Quantity      float64        `gorm:"column:quantity"`
	Price         float64        `gorm:"column:price"`
	Fee           float64        `gorm:"column:fee"`
	RealizedPnL   float64        `gorm:"column:realized_pnl"`
	Snapshot      datatypes.JSON `gorm:"column:snapshot;type:TEXT"`
	Timestamp     int64          `gorm:"column:timestamp;index"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "trades" }

type PositionModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Symbol        string  `gorm:"column:symbol;uniqueIndex"`
	Quantity      float64 `gorm:"column:quantity"`
	AverageCost   float64 `gorm:"column:average_cost"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

// RiskStateModel is a single-row table; the fixed primary key keeps
// writes idempotent.
type RiskStateModel struct {
	ID                int64   `gorm:"column:id;primaryKey"`
	EmergencyStop     int     `gorm:"column:emergency_stop"`
	EmergencyReason   string  `gorm:"column:emergency_reason"`
	DailyPnL          float64 `gorm:"column:daily_pnl"`
	DailyOpenEquity   float64 `gorm:"column:daily_open_equity"`
	DailyStartUnix    int64   `gorm:"column:daily_window_start"`
	ConsecutiveLosses int     `gorm:"column:consecutive_losses"`
	PeakEquity        float64 `gorm:"column:peak_equity"`
	UpdatedAtUnix     int64   `gorm:"column:updated_at"`
}

func (RiskStateModel) TableName() string { return "risk_state" }
