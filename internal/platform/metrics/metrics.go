package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide HTTP metrics. Domain packages register their
// own collectors.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	EventsDropped   *prometheus.CounterVec
	SinkFailures    *prometheus.CounterVec
}

// New creates and registers the HTTP metrics.
func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nip05_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_events_dropped_total",
			Help: "Lifecycle events dropped because the dispatch queue was full",
		}, []string{"type"}),
		SinkFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_event_sink_failures_total",
			Help: "Lifecycle event deliveries that failed, by sink",
		}, []string{"sink"}),
	}
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) IncrementEventDropped(eventType string) {
	m.EventsDropped.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementSinkFailure(sink string) {
	m.SinkFailures.WithLabelValues(sink).Inc()
}
