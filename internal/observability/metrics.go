// Package observability holds the Prometheus instruments, the rolling
// latency window and the structured logger shared by the service.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes recorded on turns_total.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Turns        *prometheus.CounterVec
	TurnErrors   *prometheus.CounterVec
	StreamChunks *prometheus.CounterVec
	ActiveStream prometheus.Gauge
	StoreOps     *prometheus.CounterVec
	MemoryOps    *prometheus.CounterVec
	TurnLatency  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
	stages   *turnStageWindow
}

// NewMetrics registers the instruments on reg. A nil reg uses the default
// Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Agent turns by agent, mode and outcome.",
		}, []string{"agent", "mode", "outcome"}),
		TurnErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_errors_total",
			Help:      "Failed agent turns by agent.",
		}, []string{"agent"}),
		StreamChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Text chunks streamed to clients by agent.",
		}, []string{"agent"}),
		ActiveStream: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of chat streams in flight.",
		}),
		StoreOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Session store operations by backend, operation and outcome.",
		}, []string{"backend", "op", "outcome"}),
		MemoryOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Long-term memory operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		TurnLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End to end agent turn latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		}, []string{"agent"}),
		gatherer: gatherer,
		stages:   newTurnStageWindow(256),
	}
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(agent, mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(agent, mode, outcome).Inc()
	if outcome != OutcomeOK {
		m.TurnErrors.WithLabelValues(agent).Inc()
	}
	ms := float64(d.Microseconds()) / 1000
	m.TurnLatency.WithLabelValues(agent).Observe(ms)
	m.stages.Observe(StageTurnTotal, d)
	m.stages.ObserveIndicator("turn_" + outcome)
}

// ObserveFirstChunk records the delay until the first streamed chunk.
func (m *Metrics) ObserveFirstChunk(d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(StageFirstChunk, d)
}

func (m *Metrics) ObserveStreamChunk(agent string) {
	if m == nil {
		return
	}
	m.StreamChunks.WithLabelValues(agent).Inc()
}

// StreamStarted bumps the active stream gauge and returns the matching
// decrement.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveStream.Inc()
	return m.ActiveStream.Dec
}

// ObserveStoreOp satisfies sessionstore.Observer.
func (m *Metrics) ObserveStoreOp(backend, op, outcome string) {
	if m == nil {
		return
	}
	m.StoreOps.WithLabelValues(backend, op, outcome).Inc()
}

func (m *Metrics) ObserveMemoryOp(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.MemoryOps.WithLabelValues(op, outcome).Inc()
	m.stages.Observe("memory_"+op, d)
}

// SnapshotTurnStages returns the rolling latency window.
func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil {
		return TurnStageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []TurnStageStats{}}
	}
	return m.stages.Snapshot()
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return MetricsHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
