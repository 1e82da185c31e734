package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics counts reconciliation attempts by trigger and outcome.
type ReconcileMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconcile_total",
		Help: "Payment reconciliation attempts by source and outcome.",
	}, []string{"source", "outcome"})
	reg.MustRegister(outcomes)
	return &ReconcileMetrics{outcomes: outcomes}
}

func (m *ReconcileMetrics) Observe(source, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// GatewayMetrics tracks latency of outbound payment gateway calls.
type GatewayMetrics struct {
	duration *prometheus.HistogramVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Latency of payment gateway requests.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"operation", "outcome"})
	reg.MustRegister(duration)
	return &GatewayMetrics{duration: duration}
}

func (m *GatewayMetrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Observe(elapsed.Seconds())
}

// BrokerMetrics tracks realtime fan-out health.
type BrokerMetrics struct {
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
}

func NewBrokerMetrics(reg prometheus.Registerer) *BrokerMetrics {
	if reg == nil {
		return &BrokerMetrics{}
	}
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_dropped_messages_total",
		Help: "Messages dropped because a subscriber buffer was full.",
	})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_subscribers",
		Help: "Currently registered realtime subscribers.",
	})
	reg.MustRegister(dropped, subscribers)
	return &BrokerMetrics{dropped: dropped, subscribers: subscribers}
}

func (m *BrokerMetrics) IncDropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}

func (m *BrokerMetrics) SetSubscribers(n int) {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
