package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	ExtractionFailures *prometheus.CounterVec
	PortalOps          *prometheus.CounterVec
	DriverRetries      *prometheus.CounterVec
	BookingOutcomes    *prometheus.CounterVec
	PortalOpLatency    prometheus.Histogram

	opWindow *portalOpWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ExtractionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Criteria extraction failures by kind.",
		}, []string{"kind"}),
		PortalOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "portal_ops_total",
			Help:      "Portal driver operations by op and outcome.",
		}, []string{"op", "outcome"}),
		DriverRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_retries_total",
			Help:      "Portal driver timeout retries by op.",
		}, []string{"op"}),
		BookingOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_outcomes_total",
			Help:      "Booking run outcomes by op and outcome.",
		}, []string{"op", "outcome"}),
		PortalOpLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "portal_op_latency_ms",
			Help:      "Portal driver operation latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		opWindow: newPortalOpWindow(256),
	}
}

// ObservePortalOp records one portal driver operation in both the prometheus
// histogram and the rolling latency window served by /v1/perf/portal.
func (m *Metrics) ObservePortalOp(op, outcome string, d time.Duration) {
	m.PortalOps.WithLabelValues(op, outcome).Inc()
	m.PortalOpLatency.Observe(float64(d.Milliseconds()))
	m.opWindow.Observe(op, float64(d.Milliseconds()))
	if outcome != "ok" {
		m.opWindow.ObserveIndicator(op + "_" + outcome)
	}
}

// SnapshotPortalOps returns rolling latency stats for recent portal operations.
func (m *Metrics) SnapshotPortalOps() PortalOpSnapshot {
	return m.opWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
