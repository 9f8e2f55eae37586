package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine execution metrics.
//
// Metrics exposed (all namespaced with "tailorgraph_"):
//
//  1. step_latency_ms (histogram): node execution duration.
//     Labels: node_id, status (success, error, timeout).
//  2. retries_total (counter): node retry attempts. Labels: node_id.
//  3. suspensions_total (counter): runs parked at an interrupt edge.
//     Labels: node_id.
//  4. routing_errors_total (counter): branch labels with no target.
//     Labels: node_id.
//  5. runs_total (counter): Run invocations by outcome
//     (completed, suspended, failed).
//
// Run IDs are deliberately not labels; session identifiers are unbounded.
//
// All methods are safe on a nil receiver so engines without metrics skip
// the nil checks.
type PrometheusMetrics struct {
	stepLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	suspensions   *prometheus.CounterVec
	routingErrors *prometheus.CounterVec
	runs          *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers all engine metrics with the
// provided registry. A nil registry uses prometheus.DefaultRegisterer.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &PrometheusMetrics{
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tailorgraph",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tailorgraph",
			Name:      "retries_total",
			Help:      "Cumulative count of node retry attempts",
		}, []string{"node_id"}),
		suspensions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tailorgraph",
			Name:      "suspensions_total",
			Help:      "Runs suspended at an interrupt edge",
		}, []string{"node_id"}),
		routingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tailorgraph",
			Name:      "routing_errors_total",
			Help:      "Branch router labels with no registered target",
		}, []string{"node_id"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tailorgraph",
			Name:      "runs_total",
			Help:      "Run invocations by outcome",
		}, []string{"outcome"}),
	}
}

// RecordStepLatency records the execution duration of a node.
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if pm == nil {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries increments the retry counter for a node.
func (pm *PrometheusMetrics) IncrementRetries(nodeID string) {
	if pm == nil {
		return
	}
	pm.retries.WithLabelValues(nodeID).Inc()
}

// IncrementSuspensions counts a run parked after nodeID.
func (pm *PrometheusMetrics) IncrementSuspensions(nodeID string) {
	if pm == nil {
		return
	}
	pm.suspensions.WithLabelValues(nodeID).Inc()
}

// IncrementRoutingErrors counts an unmapped branch label on nodeID.
func (pm *PrometheusMetrics) IncrementRoutingErrors(nodeID string) {
	if pm == nil {
		return
	}
	pm.routingErrors.WithLabelValues(nodeID).Inc()
}

// RecordRun counts a finished Run invocation.
func (pm *PrometheusMetrics) RecordRun(outcome string) {
	if pm == nil {
		return
	}
	pm.runs.WithLabelValues(outcome).Inc()
}
