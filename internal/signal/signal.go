package signal

import (
	"strings"

	"marlin/internal/market"
)

// Type is the normalized signal direction. Parsing at the boundary
// removes any case ambiguity before a signal reaches execution.
type Type string

const (
	TypeBuy  Type = "BUY"
	TypeSell Type = "SELL"
	TypeHold Type = "HOLD"
)

func ParseType(s string) Type {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return TypeBuy
	case "SELL":
		return TypeSell
	default:
		return TypeHold
	}
}

// Signal is produced fresh per evaluation and never mutated afterwards.
type Signal struct {
	Type       Type               `json:"type"`
	Confidence float64            `json:"confidence"`
	Strategy   string             `json:"strategy"`
	Snapshot   map[string]float64 `json:"snapshot,omitempty"`

	// Insufficient marks a HOLD forced by a history shorter than the
	// strategy's lookback window.
	Insufficient bool `json:"insufficient,omitempty"`
}

func (s Signal) Actionable() bool {
	return s.Type != TypeHold && s.Confidence > 0
}

// Strategy maps a candle history to a Signal. Implementations must be
// pure: same history, same output.
type Strategy interface {
	Name() string

	// MinBars is the smallest history length the strategy can evaluate.
	MinBars() int

	Evaluate(candles []market.Candle) Signal
}

func hold(strategy string, confidence float64) Signal {
	return Signal{Type: TypeHold, Confidence: confidence, Strategy: strategy}
}

func insufficientHold(strategy string) Signal {
	return Signal{Type: TypeHold, Confidence: 0, Strategy: strategy, Insufficient: true}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
