package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for profile-name synchronization. Nil-safe.
type Metrics struct {
	SyncResults   *prometheus.CounterVec
	RelayDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		SyncResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_name_sync_total",
			Help: "Profile name sync attempts by result",
		}, []string{"result"}),
		RelayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nip05_relay_fetch_duration_seconds",
			Help:    "Duration of profile fetches across all relays",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
	}
}

func (m *Metrics) IncrementResult(result string) {
	if m == nil {
		return
	}
	m.SyncResults.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRelayFetch(start time.Time) {
	if m == nil {
		return
	}
	m.RelayDuration.Observe(time.Since(start).Seconds())
}
