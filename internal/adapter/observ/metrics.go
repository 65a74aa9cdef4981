package observ

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// PaymentMetrics implements usecase.Metrics on Prometheus collectors.
type PaymentMetrics struct {
	transitions *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	initiate    *prometheus.HistogramVec
	mismatch    *prometheus.CounterVec
}

// NewPaymentMetrics registers the collectors on reg; pass
// prometheus.DefaultRegisterer to expose them on /metrics.
func NewPaymentMetrics(reg prometheus.Registerer) (*PaymentMetrics, error) {
	m := &PaymentMetrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_transitions_total",
				Help: "Applied order status transitions",
			},
			[]string{"provider", "from", "to"},
		),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_webhooks_total",
				Help: "Provider callbacks by result",
			},
			[]string{"provider", "result"},
		),
		initiate: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payments_initiate_seconds",
				Help:    "Latency of payment initiation calls to providers",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
			},
			[]string{"provider", "outcome"},
		),
		mismatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_amount_mismatch_total",
				Help: "Successful payments whose observed amount differs from the order total",
			},
			[]string{"provider", "within_tolerance"},
		),
	}
	for _, c := range []prometheus.Collector{m.transitions, m.webhooks, m.initiate, m.mismatch} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PaymentMetrics) ObserveInitiate(provider, outcome string, d time.Duration) {
	m.initiate.WithLabelValues(provider, outcome).Observe(d.Seconds())
}

func (m *PaymentMetrics) ObserveTransition(provider string, from, to domain.Status) {
	m.transitions.WithLabelValues(provider, string(from), string(to)).Inc()
}

func (m *PaymentMetrics) ObserveWebhook(provider, result string) {
	m.webhooks.WithLabelValues(provider, result).Inc()
}

func (m *PaymentMetrics) ObserveAmountMismatch(provider string, withinTolerance bool) {
	m.mismatch.WithLabelValues(provider, strconv.FormatBool(withinTolerance)).Inc()
}

var _ usecase.Metrics = (*PaymentMetrics)(nil)
