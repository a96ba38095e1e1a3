package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for invoice reconciliation. Methods are safe
// on a nil receiver so tests can run without registering collectors.
type Metrics struct {
	InvoicesCreated       prometheus.Counter
	InvoiceTransitions    *prometheus.CounterVec
	PollResults           *prometheus.CounterVec
	GatewayDuration       *prometheus.HistogramVec
	CreateInvoiceDuration prometheus.Histogram
}

// New creates and registers the billing metrics.
func New() *Metrics {
	return &Metrics{
		InvoicesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nip05_invoices_created_total",
			Help: "Total number of invoices created",
		}),
		InvoiceTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_invoice_transitions_total",
			Help: "Invoice status transitions by resulting status and confirmation path",
		}, []string{"status", "path"}),
		PollResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_invoice_polls_total",
			Help: "Settlement polls by result (unpaid, paid, expired, error, skipped)",
		}, []string{"result"}),
		GatewayDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nip05_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		CreateInvoiceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nip05_create_invoice_duration_seconds",
			Help:    "Duration of invoice creation including the gateway call",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) IncrementInvoicesCreated() {
	if m == nil {
		return
	}
	m.InvoicesCreated.Inc()
}

// IncrementTransition records an invoice reaching status via path.
func (m *Metrics) IncrementTransition(status, path string) {
	if m == nil {
		return
	}
	m.InvoiceTransitions.WithLabelValues(status, path).Inc()
}

func (m *Metrics) IncrementPollResult(result string) {
	if m == nil {
		return
	}
	m.PollResults.WithLabelValues(result).Inc()
}

// ObserveGateway records a gateway call. Call with time.Now() at the start.
func (m *Metrics) ObserveGateway(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.GatewayDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveCreateInvoice(start time.Time) {
	if m == nil {
		return
	}
	m.CreateInvoiceDuration.Observe(time.Since(start).Seconds())
}
