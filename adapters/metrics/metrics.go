// Package metrics provides Prometheus metrics collection for Meterline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for Meterline.
type Collector struct {
	// Usage metrics
	TokensRecorded    *prometheus.CounterVec
	RequestsRecorded  *prometheus.CounterVec
	UsageRejections   *prometheus.CounterVec
	RecordingFailures prometheus.Counter
	UsageCostUSD      *prometheus.CounterVec

	// Plan metrics
	PlanChanges *prometheus.CounterVec

	// Reconciler metrics
	ReconcilerRuns    prometheus.Counter
	ReconcilerErrors  prometheus.Counter
	InvoicesGenerated *prometheus.CounterVec
	ReconcilerLastRun prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector with all metrics registered.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		// Usage metrics
		TokensRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "tokens_recorded_total",
				Help:      "Total tokens recorded against usage ledgers",
			},
			[]string{"plan", "model"},
		),
		RequestsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "requests_recorded_total",
				Help:      "Total voice/chat requests recorded",
			},
			[]string{"plan", "type"},
		),
		UsageRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "usage_rejections_total",
				Help:      "Total usage reports rejected, by reason code",
			},
			[]string{"reason"},
		),
		RecordingFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "recording_failures_total",
				Help:      "Usage reports lost to storage errors after the upstream call succeeded",
			},
		),
		UsageCostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "usage_cost_usd_total",
				Help:      "Accumulated API usage cost in USD",
			},
			[]string{"plan", "model"},
		),

		// Plan metrics
		PlanChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "plan_changes_total",
				Help:      "Total plan transitions",
			},
			[]string{"action"},
		),

		// Reconciler metrics
		ReconcilerRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "reconciler_runs_total",
				Help:      "Total billing reconciler runs",
			},
		),
		ReconcilerErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "reconciler_errors_total",
				Help:      "Total per-user errors during reconciler runs",
			},
		),
		InvoicesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "invoices_generated_total",
				Help:      "Total invoices generated, by outcome",
			},
			[]string{"outcome"},
		),
		ReconcilerLastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "meterline",
				Name:      "reconciler_last_run_timestamp",
				Help:      "Unix timestamp of last reconciler run",
			},
		),

		// Config metrics
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterline",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "meterline",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}
