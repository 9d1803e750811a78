package signal

import (
	"math"

	"github.com/markcheno/go-talib"

	"marlin/internal/market"
)

type MACDConfig struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

type MACDStrategy struct {
	fast   int
	slow   int
	signal int
}

func NewMACDStrategy(cfg MACDConfig) *MACDStrategy {
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = 12
	}
	if cfg.SlowPeriod <= 0 {
		cfg.SlowPeriod = 26
	}
	if cfg.SignalPeriod <= 0 {
		cfg.SignalPeriod = 9
	}
	return &MACDStrategy{fast: cfg.FastPeriod, slow: cfg.SlowPeriod, signal: cfg.SignalPeriod}
}

func (s *MACDStrategy) Name() string { return "macd" }

func (s *MACDStrategy) MinBars() int { return s.slow + s.signal + 1 }

func (s *MACDStrategy) Evaluate(candles []market.Candle) Signal {
	if len(candles) < s.MinBars() {
		return insufficientHold(s.Name())
	}
	closes := market.Closes(candles)
	macd, sig, hist := talib.Macd(closes, s.fast, s.slow, s.signal)
	n := len(macd)
	if n < 2 {
		return insufficientHold(s.Name())
	}

	lastPrice := closes[len(closes)-1]
	snapshot := map[string]float64{
		"macd":      macd[n-1],
		"signal":    sig[n-1],
		"histogram": hist[n-1],
	}

	crossedUp := macd[n-1] > sig[n-1] && macd[n-2] <= sig[n-2]
	crossedDown := macd[n-1] < sig[n-1] && macd[n-2] >= sig[n-2]

	switch {
	case crossedUp:
		return Signal{
			Type:       TypeBuy,
			Confidence: histConfidence(hist[n-1], lastPrice),
			Strategy:   s.Name(),
			Snapshot:   snapshot,
		}
	case crossedDown:
		return Signal{
			Type:       TypeSell,
			Confidence: histConfidence(hist[n-1], lastPrice),
			Strategy:   s.Name(),
			Snapshot:   snapshot,
		}
	default:
		out := hold(s.Name(), 0.5)
		out.Snapshot = snapshot
		return out
	}
}

// histConfidence normalizes the histogram against 0.1% of price so the
// score is comparable across symbols, capped at 1.
func histConfidence(hist, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return clamp01(math.Abs(hist) / (price * 0.001))
}
