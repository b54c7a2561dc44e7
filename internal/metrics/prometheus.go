package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus holds the exported metrics of the harness.
type Prometheus struct {
	PipelinesTotal  *prometheus.CounterVec
	OperationsTotal prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec

	WalletsReady       prometheus.Gauge
	DistributionRounds prometheus.Counter
	RunStatus          *prometheus.GaugeVec

	PipelineLatency prometheus.Histogram
	RPCLatency      *prometheus.HistogramVec
}

// NewPrometheus creates and registers all metrics. A nil registerer
// uses the default registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Prometheus{
		PipelinesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadtest_pipelines_total",
				Help: "Pipelines by outcome",
			},
			[]string{"status"},
		),

		OperationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "loadtest_operations_total",
				Help: "Signed operations submitted",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadtest_errors_total",
				Help: "Errors by category",
			},
			[]string{"category"},
		),

		WalletsReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loadtest_wallets_ready",
				Help: "Wallets registered and funded for the current run",
			},
		),

		DistributionRounds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "loadtest_distribution_rounds_total",
				Help: "Completed fan-out rounds",
			},
		),

		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loadtest_run_status",
				Help: "Current run status (1 for the active state)",
			},
			[]string{"status"},
		),

		PipelineLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loadtest_pipeline_latency_seconds",
				Help:    "End-to-end pipeline latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadtest_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "status"},
		),
	}
}

// RecordRPCLatency records one RPC call.
func (p *Prometheus) RecordRPCLatency(method string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	p.RPCLatency.WithLabelValues(method, status).Observe(seconds)
}

// SetRunStatus marks the given state active and every other state idle.
func (p *Prometheus) SetRunStatus(status string) {
	for _, s := range []string{"idle", "distributing", "running", "completed", "error"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		p.RunStatus.WithLabelValues(s).Set(v)
	}
}
