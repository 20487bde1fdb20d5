package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the coordinator.
type Metrics struct {
	// Sweep metrics
	SweepsTotal   *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec
	IssuesSwept   *prometheus.GaugeVec

	// Dispatch metrics
	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	ValidationErrors *prometheus.CounterVec

	// Session metrics
	SessionsLive   prometheus.Gauge
	SessionActions *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics. Safe to call from
// multiple commands; registration happens once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			SweepsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_coder_sweeps_total",
					Help: "Coordinator sweeps by result",
				},
				[]string{"result"},
			),
			SweepDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mcp_coder_sweep_duration_seconds",
					Help:    "Duration of a full coordinator sweep",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to 256s
				},
				[]string{"result"},
			),
			IssuesSwept: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mcp_coder_issues_swept",
					Help: "Issues considered in the last sweep per repository",
				},
				[]string{"repo", "category"},
			),

			DispatchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_coder_dispatches_total",
					Help: "Workflow dispatches by workflow and result",
				},
				[]string{"repo", "workflow", "result"},
			),
			DispatchDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mcp_coder_dispatch_duration_seconds",
					Help:    "Duration of one dispatch, submission through label advance",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
				},
				[]string{"repo", "workflow"},
			),
			ValidationErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_coder_validation_errors_total",
					Help: "Issues skipped for label or branch validation failures",
				},
				[]string{"repo", "kind"},
			),

			SessionsLive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "mcp_coder_sessions_live",
					Help: "Attended sessions recorded after the last reconciliation",
				},
			),
			SessionActions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_coder_session_actions_total",
					Help: "Session reconciliation actions by kind",
				},
				[]string{"kind"},
			),
		}
	})
	return sharedMetrics
}
