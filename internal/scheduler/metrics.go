package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for scheduler ticks. Nil-safe.
type Metrics struct {
	Ticks        *prometheus.CounterVec
	Items        *prometheus.CounterVec
	TickDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Ticks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_scheduler_ticks_total",
			Help: "Scheduler ticks by outcome (ran, overlap, locked)",
		}, []string{"outcome"}),
		Items: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_scheduler_items_total",
			Help: "Items dispatched by the scheduler by job and result",
		}, []string{"job", "result"}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nip05_scheduler_tick_duration_seconds",
			Help:    "Duration of scheduler ticks that did work",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) tick(outcome string) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) item(job, result string) {
	if m == nil {
		return
	}
	m.Items.WithLabelValues(job, result).Inc()
}

func (m *Metrics) observeTick(start time.Time) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(time.Since(start).Seconds())
}
