// Package metrics exposes the bridge's prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-bridge/conversation"
)

const namespace = "chat_bridge"

// Metrics holds every instrument on a private registry so tests and
// multiple servers in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	repairs            *prometheus.CounterVec
	droppedInvocations prometheus.Counter
	orphanedResults    prometheus.Counter
	strayResults       prometheus.Counter
	streamEvents       *prometheus.CounterVec
	deferredBlocks     prometheus.Counter
	backendLatency     *prometheus.HistogramVec
	circuitOpen        prometheus.Gauge
}

// New creates and registers the instruments
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Client requests by protocol, streaming mode and status code.",
		}, []string{"protocol", "stream", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request receipt to the last byte written.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"protocol"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_repairs_total",
			Help:      "Conversation histories that needed repair, by client protocol.",
		}, []string{"protocol"}),
		droppedInvocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_invocations_total",
			Help:      "Tool invocations removed from histories because their results were incomplete.",
		}),
		orphanedResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_results_total",
			Help:      "Tool results removed because their invocation was removed.",
		}),
		strayResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stray_results_total",
			Help:      "Tool results removed because no invocation preceded them.",
		}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Block-style stream events written to clients, by event type.",
		}, []string{"event"}),
		deferredBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_tool_blocks_total",
			Help:      "Tool blocks held in their accumulators while another tool block was open and emitted at the end of the turn.",
		}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_response_seconds",
			Help:      "Time until the backend returned response headers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		circuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_circuit_open",
			Help:      "1 while the backend circuit breaker is open.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.repairs,
		m.droppedInvocations,
		m.orphanedResults,
		m.strayResults,
		m.streamEvents,
		m.deferredBlocks,
		m.backendLatency,
		m.circuitOpen,
	)
	return m
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished client request
func (m *Metrics) ObserveRequest(protocol string, stream bool, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(protocol, strconv.FormatBool(stream), strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(protocol).Observe(elapsed.Seconds())
}

// ObserveRepair records the outcome of one history repair
func (m *Metrics) ObserveRepair(protocol string, report conversation.Report) {
	if !report.Changed() {
		return
	}
	m.repairs.WithLabelValues(protocol).Inc()
	m.droppedInvocations.Add(float64(report.DroppedInvocations))
	m.orphanedResults.Add(float64(report.OrphanedResults))
	m.strayResults.Add(float64(report.StrayResults))
}

// ObserveStreamEvent counts one event written to a block-style client
func (m *Metrics) ObserveStreamEvent(event string) {
	m.streamEvents.WithLabelValues(event).Inc()
}

// ObserveDeferredBlocks counts tool blocks emitted after the turn ended
func (m *Metrics) ObserveDeferredBlocks(n int) {
	if n > 0 {
		m.deferredBlocks.Add(float64(n))
	}
}

// ObserveBackend records how long the backend took to answer
func (m *Metrics) ObserveBackend(status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.backendLatency.WithLabelValues(label).Observe(elapsed.Seconds())
}

// SetCircuitOpen reports the backend circuit breaker state
func (m *Metrics) SetCircuitOpen(open bool) {
	if open {
		m.circuitOpen.Set(1)
		return
	}
	m.circuitOpen.Set(0)
}
