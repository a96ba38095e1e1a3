package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_ratelimit_decisions_total",
			Help: "Rate limiter decisions by limit name and outcome",
		}, []string{"limit", "decision"}),
	}
}

func (m *Metrics) IncrementDecision(limit, decision string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(limit, decision).Inc()
}
