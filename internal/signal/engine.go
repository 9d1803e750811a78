package signal

import (
	"fmt"
	"sort"
	"strings"

	"marlin/internal/market"
)

// Engine holds the configured strategies and dispatches evaluation by
// name. It carries no mutable state; Generate is safe for concurrent
// use.
type Engine struct {
	strategies map[string]Strategy
}

func NewEngine(strategies ...Strategy) *Engine {
	m := make(map[string]Strategy, len(strategies))
	for _, st := range strategies {
		if st == nil {
			continue
		}
		m[strings.ToLower(st.Name())] = st
	}
	return &Engine{strategies: m}
}

// Generate evaluates the named strategy against the history. A history
// shorter than the strategy's lookback resolves to HOLD with the
// Insufficient flag, never an error.
func (e *Engine) Generate(candles []market.Candle, strategy string) (Signal, error) {
	st, ok := e.strategies[strings.ToLower(strings.TrimSpace(strategy))]
	if !ok {
		return Signal{}, fmt.Errorf("unknown strategy: %s", strategy)
	}
	return st.Evaluate(candles), nil
}

// MinBars reports the lookback requirement for the named strategy so
// callers can size their history fetch.
func (e *Engine) MinBars(strategy string) int {
	st, ok := e.strategies[strings.ToLower(strings.TrimSpace(strategy))]
	if !ok {
		return 0
	}
	return st.MinBars()
}

func (e *Engine) Strategies() []string {
	out := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
