package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/vengine/pkg/metrics"
)

// respMetrics is the Prometheus implementation of metrics.RESPMetrics.
type respMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	protocolErrors      prometheus.Counter
	commandsTotal       *prometheus.CounterVec
	workItemDuration    prometheus.Histogram
	workItemSize        prometheus.Histogram
	workerQueueDepth    *prometheus.GaugeVec
	repliesDropped      *prometheus.CounterVec
	bytesTransferred    *prometheus.CounterVec
}

// NewRESPMetrics creates a Prometheus-backed RESPMetrics registered with
// the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewRESPMetrics() metrics.RESPMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopRESPMetrics()
	}
	return NewRESPMetricsWith(metrics.GetRegistry())
}

// NewRESPMetricsWith creates a Prometheus-backed RESPMetrics registered
// with reg. Registering twice with the same reg panics.
func NewRESPMetricsWith(reg prometheus.Registerer) metrics.RESPMetrics {
	factory := promauto.With(reg)

	return &respMetrics{
		connectionsAccepted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vengine_resp_connections_accepted_total",
				Help: "Total number of RESP connections accepted",
			},
		),
		connectionsClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vengine_resp_connections_closed_total",
				Help: "Total number of RESP connections closed",
			},
		),
		connectionsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vengine_resp_connections_rejected_total",
				Help: "Total number of RESP connections rejected right after accept",
			},
			[]string{"reason"}, // limit or rate
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vengine_resp_active_connections",
				Help: "Current number of open RESP connections",
			},
		),
		protocolErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vengine_resp_protocol_errors_total",
				Help: "Total number of connections closed for malformed framing",
			},
		),
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vengine_resp_commands_total",
				Help: "Total number of dispatched commands by name",
			},
			[]string{"command"},
		),
		workItemDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name: "vengine_resp_work_item_duration_seconds",
				Help: "Time a worker spends executing one work item",
				Buckets: []float64{
					0.00001, // 10µs
					0.0001,  // 100µs
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
					1.0,     // 1s
				},
			},
		),
		workItemSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vengine_resp_work_item_commands",
				Help:    "Number of commands per work item (pipelining depth)",
				Buckets: []float64{1, 2, 4, 16, 64, 256, 1024},
			},
		),
		workerQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vengine_resp_worker_queue_depth",
				Help: "Number of work items waiting on each worker",
			},
			[]string{"worker"},
		),
		repliesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vengine_resp_replies_dropped_total",
				Help: "Total number of replies that never reached their connection",
			},
			[]string{"reason"}, // closed or pool_stopped
		),
		bytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vengine_resp_bytes_transferred_total",
				Help: "Total bytes read from and written to RESP connections",
			},
			[]string{"direction"}, // read or write
		),
	}
}

func (m *respMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *respMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *respMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *respMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *respMetrics) RecordProtocolError() {
	m.protocolErrors.Inc()
}

func (m *respMetrics) RecordCommand(name string) {
	m.commandsTotal.WithLabelValues(name).Inc()
}

func (m *respMetrics) RecordWorkItem(commands int, duration time.Duration) {
	m.workItemDuration.Observe(duration.Seconds())
	m.workItemSize.Observe(float64(commands))
}

func (m *respMetrics) SetWorkerQueueDepth(worker int, depth int) {
	m.workerQueueDepth.WithLabelValues(strconv.Itoa(worker)).Set(float64(depth))
}

func (m *respMetrics) RecordReplyDropped(reason string) {
	m.repliesDropped.WithLabelValues(reason).Inc()
}

func (m *respMetrics) RecordBytesTransferred(direction string, bytes uint64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
