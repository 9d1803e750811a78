package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the pipeline's Prometheus instruments. One
// instance per process; pass a fresh registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	WorkflowsTotal   *prometheus.CounterVec
	WorkflowDuration prometheus.Histogram
	RiskRejections   *prometheus.CounterVec
	OrdersSubmitted  *prometheus.CounterVec
	OrderErrors      prometheus.Counter
	PortfolioValue   prometheus.Gauge
	PortfolioPnL     prometheus.Gauge
	OpenPositions    prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

func NewMetricsWith(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		WorkflowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marlin",
			Name:      "workflows_total",
			Help:      "Completed workflow executions by outcome.",
		}, []string{"outcome"}),
		WorkflowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marlin",
			Name:      "workflow_duration_seconds",
			Help:      "End to end workflow latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		RiskRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marlin",
			Name:      "risk_rejections_total",
			Help:      "Orders rejected by the risk gate, by check.",
		}, []string{"check"}),
		OrdersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marlin",
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the exchange, by side.",
		}, []string{"side"}),
		OrderErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marlin",
			Name:      "order_errors_total",
			Help:      "Order submissions that failed.",
		}),
		PortfolioValue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "marlin",
			Name:      "portfolio_value",
			Help:      "Total portfolio value at last mark.",
		}),
		PortfolioPnL: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "marlin",
			Name:      "portfolio_pnl",
			Help:      "Total P&L against initial capital.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "marlin",
			Name:      "open_positions",
			Help:      "Number of open positions.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
