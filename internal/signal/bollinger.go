package signal

import (
	"github.com/markcheno/go-talib"

	"marlin/internal/market"
)

type BollingerConfig struct {
	Period int
	StdDev float64
}

type BollingerStrategy struct {
	period int
	stdDev float64
}

func NewBollingerStrategy(cfg BollingerConfig) *BollingerStrategy {
	if cfg.Period <= 0 {
		cfg.Period = 20
	}
	if cfg.StdDev <= 0 {
		cfg.StdDev = 2.0
	}
	return &BollingerStrategy{period: cfg.Period, stdDev: cfg.StdDev}
}

func (s *BollingerStrategy) Name() string { return "bollinger" }

func (s *BollingerStrategy) MinBars() int { return s.period }

func (s *BollingerStrategy) Evaluate(candles []market.Candle) Signal {
	if len(candles) < s.MinBars() {
		return insufficientHold(s.Name())
	}
	closes := market.Closes(candles)
	upper, middle, lower := talib.BBands(closes, s.period, s.stdDev, s.stdDev, talib.SMA)
	n := len(closes)
	up, mid, low := upper[n-1], middle[n-1], lower[n-1]
	lastClose := closes[n-1]
	width := up - low

	snapshot := map[string]float64{
		"upper":  up,
		"middle": mid,
		"lower":  low,
		"close":  lastClose,
	}

	switch {
	case width > 0 && lastClose < low:
		return Signal{
			Type:       TypeBuy,
			Confidence: clamp01((low - lastClose) / width),
			Strategy:   s.Name(),
			Snapshot:   snapshot,
		}
	case width > 0 && lastClose > up:
		return Signal{
			Type:       TypeSell,
			Confidence: clamp01((lastClose - up) / width),
			Strategy:   s.Name(),
			Snapshot:   snapshot,
		}
	default:
		out := hold(s.Name(), 0.5)
		out.Snapshot = snapshot
		return out
	}
}
