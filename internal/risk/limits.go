package risk

import "strings"

// Limits are the configured risk thresholds. Percentages are expressed
// as 0-100, not fractions.
type Limits struct {
	MaxPositionPct         float64
	MaxTotalExposurePct    float64
	MaxDailyDrawdownPct    float64
	MaxTotalDrawdownPct    float64
	VolatilityThresholdPct float64
	VolatilityScale        float64
	VolatilityLookback     int
	Overrides              map[string]SymbolLimits
}

// SymbolLimits overrides the per-position cap for one symbol.
type SymbolLimits struct {
	MaxPositionPct float64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPositionPct:         5,
		MaxTotalExposurePct:    50,
		MaxDailyDrawdownPct:    3,
		MaxTotalDrawdownPct:    10,
		VolatilityThresholdPct: 4,
		VolatilityScale:        0.5,
		VolatilityLookback:     20,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxPositionPct <= 0 {
		l.MaxPositionPct = def.MaxPositionPct
	}
	if l.MaxTotalExposurePct <= 0 {
		l.MaxTotalExposurePct = def.MaxTotalExposurePct
	}
	if l.MaxDailyDrawdownPct <= 0 {
		l.MaxDailyDrawdownPct = def.MaxDailyDrawdownPct
	}
	if l.MaxTotalDrawdownPct <= 0 {
		l.MaxTotalDrawdownPct = def.MaxTotalDrawdownPct
	}
	if l.VolatilityThresholdPct <= 0 {
		l.VolatilityThresholdPct = def.VolatilityThresholdPct
	}
	if l.VolatilityScale <= 0 || l.VolatilityScale > 1 {
		l.VolatilityScale = def.VolatilityScale
	}
	if l.VolatilityLookback <= 1 {
		l.VolatilityLookback = def.VolatilityLookback
	}
	return l
}

// positionCapPct resolves the per-position cap for symbol, honoring the
// per-symbol override when one exists.
func (l Limits) positionCapPct(symbol string) float64 {
	if o, ok := l.Overrides[strings.ToUpper(strings.TrimSpace(symbol))]; ok && o.MaxPositionPct > 0 {
		return o.MaxPositionPct
	}
	return l.MaxPositionPct
}
