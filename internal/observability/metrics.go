package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported by a runtime process.
// Unlike a package-level promauto registry, each instance owns its own
// prometheus.Registry so that multiple sessions (or tests) can construct
// independent Metrics without tripping "duplicate collector" panics.
type Metrics struct {
	registry *prometheus.Registry

	// NodeInvocationsTotal counts process/process_streaming calls by node
	// id and outcome (ok, error, timeout).
	NodeInvocationsTotal *prometheus.CounterVec
	// NodeLatencySeconds observes per-invocation latency by node id.
	NodeLatencySeconds *prometheus.HistogramVec
	// NodeCircuitOpenTotal counts times a node's circuit breaker tripped.
	NodeCircuitOpenTotal *prometheus.CounterVec

	// EdgeQueueDepth tracks current queued items per edge.
	EdgeQueueDepth *prometheus.GaugeVec
	// EdgeOverflowTotal counts dropped/merged items per edge and policy.
	EdgeOverflowTotal *prometheus.CounterVec

	// SpeculativeForwardedTotal counts speculative segments forwarded.
	SpeculativeForwardedTotal prometheus.Counter
	// SpeculativeCancelledTotal counts speculative segments retracted via
	// ControlMessage::CancelSpeculation.
	SpeculativeCancelledTotal prometheus.Counter

	// WorkerRestartsTotal counts worker process respawns by worker id.
	WorkerRestartsTotal *prometheus.CounterVec
	// WorkerStateTransitionsTotal counts daemon state machine transitions.
	WorkerStateTransitionsTotal *prometheus.CounterVec

	// ActiveSessions tracks currently running streaming sessions.
	ActiveSessions prometheus.Gauge
}

// NewMetrics constructs a Metrics instance registered against a fresh
// registry. Callers that want process-wide /metrics exposition should keep
// the returned instance alive for the process lifetime and serve Handler().
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		NodeInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediarun_node_invocations_total",
			Help: "Total number of node process/process_streaming invocations, by node id and outcome.",
		}, []string{"node_id", "outcome"}),
		NodeLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediarun_node_latency_seconds",
			Help:    "Per-invocation node processing latency, by node id.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_id"}),
		NodeCircuitOpenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediarun_node_circuit_open_total",
			Help: "Total number of times a node's circuit breaker opened.",
		}, []string{"node_id"}),
		EdgeQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediarun_edge_queue_depth",
			Help: "Current number of queued items on an edge.",
		}, []string{"edge_id"}),
		EdgeOverflowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediarun_edge_overflow_total",
			Help: "Total number of overflow events on an edge, by overflow policy.",
		}, []string{"edge_id", "policy"}),
		SpeculativeForwardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediarun_speculative_forwarded_total",
			Help: "Total number of speculatively-forwarded segments.",
		}),
		SpeculativeCancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediarun_speculative_cancelled_total",
			Help: "Total number of speculative segments retracted by cancellation.",
		}),
		WorkerRestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediarun_worker_restarts_total",
			Help: "Total number of worker process respawns, by worker id.",
		}, []string{"worker_id"}),
		WorkerStateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediarun_worker_state_transitions_total",
			Help: "Total number of worker daemon state transitions, by from/to state.",
		}, []string{"from", "to"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediarun_active_sessions",
			Help: "Current number of active streaming sessions.",
		}),
	}

	reg.MustRegister(
		m.NodeInvocationsTotal,
		m.NodeLatencySeconds,
		m.NodeCircuitOpenTotal,
		m.EdgeQueueDepth,
		m.EdgeOverflowTotal,
		m.SpeculativeForwardedTotal,
		m.SpeculativeCancelledTotal,
		m.WorkerRestartsTotal,
		m.WorkerStateTransitionsTotal,
		m.ActiveSessions,
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler to serve at the metrics listen address.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordNodeInvocation records the outcome of a single node invocation.
func (m *Metrics) RecordNodeInvocation(nodeID, outcome string) {
	m.NodeInvocationsTotal.WithLabelValues(nodeID, outcome).Inc()
}

// RecordEdgeOverflow records an overflow event for an edge under a policy.
func (m *Metrics) RecordEdgeOverflow(edgeID, policy string) {
	m.EdgeOverflowTotal.WithLabelValues(edgeID, policy).Inc()
}

// RecordWorkerStateTransition records a worker daemon state change.
func (m *Metrics) RecordWorkerStateTransition(from, to string) {
	m.WorkerStateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSpeculativeForwarded records one segment forwarded ahead of
// confirmation, satisfying internal/executor.SpeculativeMetrics.
func (m *Metrics) RecordSpeculativeForwarded() {
	m.SpeculativeForwardedTotal.Inc()
}

// RecordSpeculativeCancelled records one previously forwarded segment
// retracted via CancelSpeculation.
func (m *Metrics) RecordSpeculativeCancelled() {
	m.SpeculativeCancelledTotal.Inc()
}
