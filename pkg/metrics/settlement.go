package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics covers the reconciliation paths shared by the API and workers.
type SettlementMetrics struct {
	transitions *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	invocations *prometheus.CounterVec
	invokeTime  *prometheus.HistogramVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
// A nil registerer yields a no-op instance.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lumenpay_settlement_transitions_total",
		Help: "Checkout settlement attempts by entry point and outcome.",
	}, []string{"source", "outcome"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lumenpay_webhook_deliveries_total",
		Help: "Webhook deliveries by outcome.",
	}, []string{"outcome"})
	invocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lumenpay_contract_invocations_total",
		Help: "Subscription contract invocations by method and outcome.",
	}, []string{"method", "outcome"})
	invokeTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lumenpay_contract_invocation_seconds",
		Help:    "Wall time of contract invocations including confirmation polling.",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
	}, []string{"method"})
	reg.MustRegister(transitions, deliveries, invocations, invokeTime)
	return &SettlementMetrics{
		transitions: transitions,
		deliveries:  deliveries,
		invocations: invocations,
		invokeTime:  invokeTime,
	}
}

func (m *SettlementMetrics) IncTransition(source, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) IncDelivery(outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) ObserveInvocation(method, outcome string, duration time.Duration) {
	if m == nil || m.invocations == nil {
		return
	}
	m.invocations.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
	m.invokeTime.WithLabelValues(normalizeLabel(method)).Observe(duration.Seconds())
}
