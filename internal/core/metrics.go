package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder receives the outcome of every Service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// IntegrityRecorder is implemented by recorders that also track the result of
// whole-log integrity sweeps.
type IntegrityRecorder interface {
	ObserveIntegrity(ctx context.Context, score float64)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// PrometheusRecorder exports operation counters, latencies and the last
// integrity score.
type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	integrity  prometheus.Gauge
}

// NewPrometheusRecorder registers herbtrace collectors on reg. It panics if
// they are already registered there.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herbtrace_operations_total",
			Help: "Service operations by outcome",
		}, []string{"operation", "status"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herbtrace_operation_duration_seconds",
			Help:    "Service operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		integrity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "herbtrace_audit_integrity_score",
			Help: "Fraction of audit entries that verified in the last full sweep",
		}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveIntegrity implements IntegrityRecorder.
func (r *PrometheusRecorder) ObserveIntegrity(_ context.Context, score float64) {
	r.integrity.Set(score)
}
