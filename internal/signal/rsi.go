package signal

import (
	"github.com/markcheno/go-talib"

	"marlin/internal/market"
)

type RSIConfig struct {
	Period     int
	Oversold   float64
	Overbought float64
}

type RSIStrategy struct {
	period     int
	oversold   float64
	overbought float64
}

func NewRSIStrategy(cfg RSIConfig) *RSIStrategy {
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = 30
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = 70
	}
	return &RSIStrategy{
		period:     cfg.Period,
		oversold:   cfg.Oversold,
		overbought: cfg.Overbought,
	}
}

func (s *RSIStrategy) Name() string { return "rsi" }

func (s *RSIStrategy) MinBars() int { return s.period + 1 }

func (s *RSIStrategy) Evaluate(candles []market.Candle) Signal {
	if len(candles) < s.MinBars() {
		return insufficientHold(s.Name())
	}
	series := talib.Rsi(market.Closes(candles), s.period)
	val := series[len(series)-1]
	snapshot := map[string]float64{"rsi": val}

	switch {
	case val < s.oversold:
		// Confidence grows linearly from 0 at the threshold to 1 as
		// RSI approaches 0.
		sig := Signal{
			Type:       TypeBuy,
			Confidence: clamp01((s.oversold - val) / s.oversold),
			Strategy:   s.Name(),
			Snapshot:   snapshot,
		}
		return sig
	case val > s.overbought:
		sig := Signal{
			Type:       TypeSell,
			Confidence: clamp01((val - s.overbought) / (100 - s.overbought)),
			Strategy:   s.Name(),
			Snapshot:   snapshot,
		}
		return sig
	default:
		out := hold(s.Name(), 0.5)
		out.Snapshot = snapshot
		return out
	}
}
