package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"marlin/internal/logger"
	"marlin/internal/store"
)

// minOrderQty treats a clipped quantity below this as a rejection
// rather than a dust order.
const minOrderQty = 1e-8

// Request is one proposed order plus the portfolio context it is sized
// against. Value fields are quote-currency amounts at current marks.
type Request struct {
	Symbol        string
	Side          string
	Quantity      float64
	Price         float64
	Equity        float64
	PositionValue float64
	PositionQty   float64
	TotalExposure float64
	Closes        []float64
}

// Result is the gate's verdict. AdjustedQuantity is the quantity that
// may actually be submitted; it equals the request when nothing was
// clipped and zero when rejected.
type Result struct {
	Approved         bool
	Reason           string
	AdjustedQuantity float64
	Clipped          bool
	VolatilityScaled bool
}

func reject(reason string) Result {
	return Result{Approved: false, Reason: reason}
}

// Gate validates proposed orders against the configured limits and the
// persisted risk state. Checks run in a fixed order: emergency stop,
// per-position cap, total exposure cap, drawdown, volatility. The
// first rejecting check wins; clipping checks pass the reduced
// quantity down to later checks.
type Gate struct {
	mu     sync.Mutex
	limits Limits
	state  state
	store  store.Store
	nowFn  func() time.Time
}

type state struct {
	emergencyStop     bool
	emergencyReason   string
	dailyPnL          float64
	dailyOpenEquity   float64
	dailyWindowStart  time.Time
	consecutiveLosses int
	peakEquity        float64
}

func NewGate(limits Limits, st store.Store) *Gate {
	return &Gate{
		limits: limits.withDefaults(),
		store:  st,
		nowFn:  time.Now,
	}
}

// Restore loads the persisted risk state. An emergency stop set in a
// previous run stays in force.
func (g *Gate) Restore(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok, err := g.store.LoadRiskState(ctx)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	if !ok {
		return nil
	}
	g.state = state{
		emergencyStop:     rec.EmergencyStop,
		emergencyReason:   rec.EmergencyReason,
		dailyPnL:          rec.DailyPnL,
		dailyOpenEquity:   rec.DailyOpenEquity,
		dailyWindowStart:  rec.DailyWindowStart,
		consecutiveLosses: rec.ConsecutiveLosses,
		peakEquity:        rec.PeakEquity,
	}
	if g.state.emergencyStop {
		logger.Warnf("risk gate restored with emergency stop active: %s", g.state.emergencyReason)
	}
	return nil
}

// Validate runs the full check sequence for one proposed order.
func (g *Gate) Validate(ctx context.Context, req Request) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()
	persist := false
	if req.Equity > g.state.peakEquity {
		g.state.peakEquity = req.Equity
		persist = true
	}
	// The first equity seen in a window anchors the daily drawdown, so
	// the check covers unrealized losses as well as realized ones.
	if g.state.dailyOpenEquity <= 0 && req.Equity > 0 {
		g.state.dailyOpenEquity = req.Equity
		persist = true
	}
	if persist {
		g.persistLocked(ctx)
	}

	if req.Quantity <= 0 || req.Price <= 0 {
		return reject("quantity and price must be positive")
	}
	side := strings.ToUpper(strings.TrimSpace(req.Side))
	if side == "HOLD" {
		return reject("nothing to execute for HOLD")
	}

	// 1. Emergency stop blocks everything, including closes.
	if g.state.emergencyStop {
		return reject(fmt.Sprintf("emergency stop active: %s", g.state.emergencyReason))
	}

	qty := req.Quantity
	clipped := false
	scaled := false

	closing := side == "SELL" && req.PositionQty > 0

	// Total drawdown is a portfolio condition, not an order one: the
	// sticky emergency stop latches the moment the breach is observed,
	// whatever this particular order's fate. The reject itself stays in
	// check order below.
	totalReason := ""
	if g.state.peakEquity > 0 && req.Equity > 0 {
		ddPct := (g.state.peakEquity - req.Equity) / g.state.peakEquity * 100
		if ddPct >= g.limits.MaxTotalDrawdownPct {
			totalReason = fmt.Sprintf("total drawdown %.2f%% exceeds limit %.2f%%", ddPct, g.limits.MaxTotalDrawdownPct)
			g.setEmergencyStopLocked(ctx, totalReason)
		}
	}

	if !closing {
		// 2. Per-position cap, with per-symbol override.
		capPct := g.limits.positionCapPct(req.Symbol)
		maxValue := req.Equity * capPct / 100
		headroom := maxValue - req.PositionValue
		if headroom <= 0 {
			return reject(fmt.Sprintf("position limit reached: %.2f%% of equity", capPct))
		}
		if qty*req.Price > headroom {
			qty = headroom / req.Price
			clipped = true
		}

		// 3. Total exposure cap across all positions.
		maxExposure := req.Equity * g.limits.MaxTotalExposurePct / 100
		exposureRoom := maxExposure - req.TotalExposure
		if exposureRoom <= 0 {
			return reject(fmt.Sprintf("total exposure limit reached: %.2f%% of equity", g.limits.MaxTotalExposurePct))
		}
		if qty*req.Price > exposureRoom {
			qty = exposureRoom / req.Price
			clipped = true
		}

		// 4. Daily drawdown blocks new risk until the UTC day rolls
		// over. Equity against the window-open anchor counts both
		// realized and unrealized losses.
		if g.state.dailyOpenEquity > 0 && req.Equity > 0 {
			lossPct := (g.state.dailyOpenEquity - req.Equity) / g.state.dailyOpenEquity * 100
			if lossPct >= g.limits.MaxDailyDrawdownPct {
				return reject(fmt.Sprintf("daily drawdown %.2f%% exceeds limit %.2f%%", lossPct, g.limits.MaxDailyDrawdownPct))
			}
		}
	}
	// 5. Total drawdown rejects new risk; a close still goes through so
	// the position can be flattened, and everything after it hits the
	// latched stop.
	if totalReason != "" && !closing {
		return reject(totalReason)
	}

	// 6. Volatility scaling. Never rejects, only shrinks.
	if vol, ok := recentVolatilityPct(req.Closes, g.limits.VolatilityLookback); ok && vol >= g.limits.VolatilityThresholdPct {
		qty *= g.limits.VolatilityScale
		scaled = true
		logger.Debugf("risk gate: %s volatility %.2f%% over threshold, scaling quantity by %.2f",
			req.Symbol, vol, g.limits.VolatilityScale)
	}

	if qty < minOrderQty {
		return reject("adjusted quantity rounds to zero")
	}
	return Result{
		Approved:         true,
		Reason:           "approved",
		AdjustedQuantity: qty,
		Clipped:          clipped,
		VolatilityScaled: scaled,
	}
}

// RecordOutcome feeds a realized P&L back into the daily window and the
// loss streak.
func (g *Gate) RecordOutcome(ctx context.Context, realizedPnL float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.state.dailyPnL += realizedPnL
	if realizedPnL < 0 {
		g.state.consecutiveLosses++
	} else if realizedPnL > 0 {
		g.state.consecutiveLosses = 0
	}
	g.persistLocked(ctx)
}

// SetEmergencyStop halts all trading until ClearEmergencyStop.
func (g *Gate) SetEmergencyStop(ctx context.Context, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setEmergencyStopLocked(ctx, reason)
}

func (g *Gate) ClearEmergencyStop(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.state.emergencyStop {
		return
	}
	g.state.emergencyStop = false
	g.state.emergencyReason = ""
	g.persistLocked(ctx)
	logger.Warnf("risk gate: emergency stop cleared")
}

func (g *Gate) EmergencyStopped() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.emergencyStop, g.state.emergencyReason
}

// UpdateLimits swaps the thresholds in place, used by config hot
// reload. State is untouched.
func (g *Gate) UpdateLimits(limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = limits.withDefaults()
	logger.Infof("risk gate: limits updated (position %.2f%%, exposure %.2f%%)",
		g.limits.MaxPositionPct, g.limits.MaxTotalExposurePct)
}

func (g *Gate) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

func (g *Gate) setEmergencyStopLocked(ctx context.Context, reason string) {
	if g.state.emergencyStop {
		return
	}
	g.state.emergencyStop = true
	g.state.emergencyReason = reason
	g.persistLocked(ctx)
	logger.Errorf("risk gate: EMERGENCY STOP engaged: %s", reason)
}

// rolloverLocked resets the daily window at UTC midnight.
func (g *Gate) rolloverLocked() {
	now := g.nowFn().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if g.state.dailyWindowStart.IsZero() {
		g.state.dailyWindowStart = day
		return
	}
	if day.After(g.state.dailyWindowStart) {
		g.state.dailyWindowStart = day
		g.state.dailyPnL = 0
		g.state.dailyOpenEquity = 0
	}
}

func (g *Gate) persistLocked(ctx context.Context) {
	if g.store == nil {
		return
	}
	err := g.store.SaveRiskState(ctx, store.RiskStateRecord{
		EmergencyStop:     g.state.emergencyStop,
		EmergencyReason:   g.state.emergencyReason,
		DailyPnL:          g.state.dailyPnL,
		DailyOpenEquity:   g.state.dailyOpenEquity,
		DailyWindowStart:  g.state.dailyWindowStart,
		ConsecutiveLosses: g.state.consecutiveLosses,
		PeakEquity:        g.state.peakEquity,
		UpdatedAt:         g.nowFn(),
	})
	if err != nil {
		logger.Errorf("risk gate: persist state failed: %v", err)
	}
}

// recentVolatilityPct measures the standard deviation of log returns
// over the lookback window, in percent.
func recentVolatilityPct(closes []float64, lookback int) (float64, bool) {
	if lookback < 2 || len(closes) < lookback+1 {
		return 0, false
	}
	window := closes[len(closes)-lookback-1:]
	returns := make([]float64, 0, lookback)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			return 0, false
		}
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}
	dev := talib.StdDev(returns, len(returns), 1)
	sigma := dev[len(dev)-1]
	if math.IsNaN(sigma) {
		return 0, false
	}
	return sigma * 100, true
}
