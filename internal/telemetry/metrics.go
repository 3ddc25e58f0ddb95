// Package telemetry exposes Prometheus metrics for the evaluation pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the pipeline reports into.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted   prometheus.Counter
	RunsCompleted *prometheus.CounterVec
	StageFailures *prometheus.CounterVec
	RunDuration   prometheus.Histogram

	GatingRejections prometheus.Counter
	RiskRejections   prometheus.Counter
	OrdersSubmitted  prometheus.Counter
	OrdersFilled     prometheus.Counter
	BrokerFailovers  prometheus.Counter
	ActiveRuns       prometheus.Gauge
}

// New creates and registers all pipeline collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "runs_started_total",
			Help:      "Number of evaluation runs started.",
		}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "runs_completed_total",
			Help:      "Number of evaluation runs completed, by final status.",
		}, []string{"status"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "stage_failures_total",
			Help:      "Number of pipeline stage failures, by stage.",
		}, []string{"stage"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "strategy_gate",
			Name:      "run_duration_seconds",
			Help:      "Wall clock duration of evaluation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		GatingRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "gating_rejections_total",
			Help:      "Number of strategies rejected by scenario gating.",
		}),
		RiskRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "risk_rejections_total",
			Help:      "Number of strategies rejected by the risk engine.",
		}),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "orders_submitted_total",
			Help:      "Number of orders submitted to a broker.",
		}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "orders_filled_total",
			Help:      "Number of orders confirmed filled.",
		}),
		BrokerFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "broker_failovers_total",
			Help:      "Number of times broker selection moved off the current broker.",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "strategy_gate",
			Name:      "active_runs",
			Help:      "Number of evaluation runs currently in flight.",
		}),
	}

	registry.MustRegister(
		m.RunsStarted,
		m.RunsCompleted,
		m.StageFailures,
		m.RunDuration,
		m.GatingRejections,
		m.RiskRejections,
		m.OrdersSubmitted,
		m.OrdersFilled,
		m.BrokerFailovers,
		m.ActiveRuns,
	)
	return m
}

// Handler returns an HTTP handler serving the registry in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
