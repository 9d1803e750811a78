package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"marlin/internal/config"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/monitoring"
	"marlin/internal/orchestrator"
	"marlin/internal/scheduler"
)

// MarketSource is the gateway surface the trading loop needs: the
// per-symbol calls the workflow uses plus the batch quote call the
// portfolio marking uses.
type MarketSource interface {
	orchestrator.MarketSource
	GetPricesBatch(ctx context.Context, symbols []string) market.BatchResult
}

// Runner drives the trading loop: one multi-symbol pass per interval,
// followed by a portfolio summary.
type Runner struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	book    *ledger.Ledger
	source  MarketSource
	metrics *monitoring.Metrics
}

func NewRunner(cfg *config.Config, orch *orchestrator.Orchestrator, book *ledger.Ledger, source MarketSource, metrics *monitoring.Metrics) *Runner {
	return &Runner{cfg: cfg, orch: orch, book: book, source: source, metrics: metrics}
}

// runOffset delays each aligned pass slightly so the closed candle is
// already queryable.
const runOffset = 5 * time.Second

// Run executes immediately, then on every aligned interval boundary
// until ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	logger.Infof("trading loop started: %d symbols every %s", len(r.cfg.App.Symbols), r.cfg.App.RunInterval)
	sched := scheduler.NewAligned(r.cfg.App.RunInterval, runOffset)
	sched.RunImmediately = true
	sched.Start(ctx, func() { r.RunOnce(ctx) })
	return nil
}

// RunOnce runs one pass over all configured symbols and reports. Sizing
// is left to the workflow.
func (r *Runner) RunOnce(ctx context.Context) []orchestrator.Decision {
	requests := make([]orchestrator.Request, len(r.cfg.App.Symbols))
	for i, sym := range r.cfg.App.Symbols {
		requests[i] = orchestrator.Request{Symbol: sym}
	}
	decisions := r.orch.ExecuteMultiSymbol(ctx, requests)

	prices := r.markPrices(ctx)
	stats := r.book.Stats(prices)
	r.publishMetrics(stats)
	r.printSummary(decisions, stats)
	return decisions
}

// markPrices collects the freshest quote per symbol for marking, in one
// batch call. A symbol that fails just marks at its average cost.
func (r *Runner) markPrices(ctx context.Context) map[string]float64 {
	batch := r.source.GetPricesBatch(ctx, r.cfg.App.Symbols)
	for sym, err := range batch.Errors {
		logger.Debugf("mark price for %s unavailable: %v", sym, err)
	}
	prices := make(map[string]float64, len(batch.Prices))
	for sym, quote := range batch.Prices {
		prices[sym] = quote.Price
	}
	return prices
}

func (r *Runner) publishMetrics(stats ledger.Stats) {
	if r.metrics == nil {
		return
	}
	r.metrics.PortfolioValue.Set(stats.TotalValue)
	r.metrics.PortfolioPnL.Set(stats.TotalPnL)
	r.metrics.OpenPositions.Set(float64(stats.PositionCount))
}

func (r *Runner) printSummary(decisions []orchestrator.Decision, stats ledger.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Symbol", "Signal", "Conf", "Decision", "Qty", "Order", "Took"})
	for _, dec := range decisions {
		t.AppendRow(table.Row{
			dec.Symbol,
			string(dec.Signal.Type),
			fmt.Sprintf("%.2f", dec.Signal.Confidence),
			decisionLabel(dec),
			qtyLabel(dec),
			orderLabel(dec),
			dec.Duration.Round(time.Millisecond),
		})
	}
	t.AppendFooter(table.Row{
		"portfolio",
		fmt.Sprintf("value %.2f", stats.TotalValue),
		"",
		fmt.Sprintf("pnl %+.2f (%.2f%%)", stats.TotalPnL, stats.PnLPercent),
		"",
		fmt.Sprintf("%d pos", stats.PositionCount),
		fmt.Sprintf("%d trades", stats.TradeCount),
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()
}

func decisionLabel(dec orchestrator.Decision) string {
	switch {
	case dec.Err != nil:
		return "ERROR: " + dec.Err.Error()
	case dec.Order != nil:
		return "EXECUTED"
	case dec.Approved:
		return "APPROVED"
	default:
		return dec.Reason
	}
}

func qtyLabel(dec orchestrator.Decision) string {
	if dec.AdjustedQuantity <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.8f", dec.AdjustedQuantity)
}

func orderLabel(dec orchestrator.Decision) string {
	if dec.Order == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", dec.Order.OrderID, dec.Order.Status)
}
