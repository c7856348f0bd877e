package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's Prometheus instrumentation. It registers on its
// own registry so multiple engines in one process (tests, supervisors) never
// collide.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	ResponsesTotal  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge

	DispatchRejected    prometheus.Counter
	DispatchAborted     prometheus.Counter
	BridgeCancellations prometheus.Counter
	LaneQueueDepth      *prometheus.GaugeVec

	ProcessCPUPercent prometheus.Gauge
	ProcessRSSBytes   prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewMetrics builds and registers the metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperserve_requests_total",
			Help: "Requests accepted by the engine.",
		}, []string{"method"}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperserve_responses_total",
			Help: "Responses written, by status class.",
		}, []string{"class"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperserve_request_duration_seconds",
			Help:    "Request handling latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"method"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperserve_in_flight_requests",
			Help: "Requests currently in flight.",
		}),

		DispatchRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperserve_dispatch_rejected_total",
			Help: "Work submissions rejected by full lane queues.",
		}),
		DispatchAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperserve_dispatch_aborted_total",
			Help: "Queued work aborted at pool shutdown.",
		}),
		BridgeCancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperserve_bridge_cancellations_total",
			Help: "Awaitables resolved as cancelled.",
		}),
		LaneQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperserve_lane_queue_depth",
			Help: "Interpreter lane backlog.",
		}, []string{"lane"}),

		ProcessCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperserve_process_cpu_percent",
			Help: "Process CPU usage.",
		}),
		ProcessRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperserve_process_rss_bytes",
			Help: "Process resident set size.",
		}),
		GoroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperserve_goroutines",
			Help: "Live goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.RequestsTotal, m.ResponsesTotal, m.RequestDuration, m.InFlight,
		m.DispatchRejected, m.DispatchAborted, m.BridgeCancellations, m.LaneQueueDepth,
		m.ProcessCPUPercent, m.ProcessRSSBytes, m.GoroutineCount,
	)
	return m
}

// Registry exposes the backing registry for the exposition server.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveResponse records a completed response.
func (m *Metrics) ObserveResponse(method string, status int, seconds float64) {
	m.RequestsTotal.WithLabelValues(method).Inc()
	m.ResponsesTotal.WithLabelValues(statusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
