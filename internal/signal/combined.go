package signal

import "marlin/internal/market"

// CombinedStrategy evaluates every enabled sub-strategy and emits a
// direction only when a strict majority agrees. The confidence is the
// mean of the agreeing strategies' confidences.
type CombinedStrategy struct {
	strategies []Strategy
}

func NewCombinedStrategy(strategies ...Strategy) *CombinedStrategy {
	return &CombinedStrategy{strategies: strategies}
}

func (s *CombinedStrategy) Name() string { return "combined" }

func (s *CombinedStrategy) MinBars() int {
	max := 0
	for _, st := range s.strategies {
		if st.MinBars() > max {
			max = st.MinBars()
		}
	}
	return max
}

func (s *CombinedStrategy) Evaluate(candles []market.Candle) Signal {
	if len(s.strategies) == 0 {
		return insufficientHold(s.Name())
	}

	var buys, sells []Signal
	snapshot := make(map[string]float64)
	anyInsufficient := false
	for _, st := range s.strategies {
		sig := st.Evaluate(candles)
		if sig.Insufficient {
			anyInsufficient = true
		}
		for k, v := range sig.Snapshot {
			snapshot[st.Name()+"_"+k] = v
		}
		switch sig.Type {
		case TypeBuy:
			buys = append(buys, sig)
		case TypeSell:
			sells = append(sells, sig)
		}
	}

	total := len(s.strategies)
	switch {
	case len(buys)*2 > total:
		return Signal{
			Type:       TypeBuy,
			Confidence: meanConfidence(buys),
			Strategy:   s.Name(),
			Snapshot:   snapshot,
		}
	case len(sells)*2 > total:
		return Signal{
			Type:       TypeSell,
			Confidence: meanConfidence(sells),
			Strategy:   s.Name(),
			Snapshot:   snapshot,
		}
	default:
		out := hold(s.Name(), 0.5)
		out.Snapshot = snapshot
		out.Insufficient = anyInsufficient && len(buys) == 0 && len(sells) == 0
		return out
	}
}

func meanConfidence(signals []Signal) float64 {
	if len(signals) == 0 {
		return 0
	}
	sum := 0.0
	for _, sig := range signals {
		sum += sig.Confidence
	}
	return clamp01(sum / float64(len(signals)))
}
