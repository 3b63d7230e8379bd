package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricPaymentOperationsTotal = "payment_operations_total"
	MetricPaymentConfirmDuration = "payment_confirm_duration_seconds"
	MetricPaymentEventsPublished = "payment_events_published_total"
)

// Operation outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Metrics contains Prometheus metrics for payment core operations.
// All operations are thread-safe.
type Metrics struct {
	operationsTotal *prometheus.CounterVec
	confirmDuration prometheus.Histogram
	eventsPublished *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPaymentOperationsTotal,
				Help: "Total number of payment core operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		confirmDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricPaymentConfirmDuration,
				Help:    "Histogram of confirm operation duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPaymentEventsPublished,
				Help: "Total number of payment lifecycle events published by event type",
			},
			[]string{"event_type"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.operationsTotal,
		m.confirmDuration,
		m.eventsPublished,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncOperations increments the operations counter.
func (m *Metrics) IncOperations(operation, outcome string) {
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveConfirmDuration records one confirm duration sample.
func (m *Metrics) ObserveConfirmDuration(seconds float64) {
	m.confirmDuration.Observe(seconds)
}

// IncEventsPublished increments the published events counter.
func (m *Metrics) IncEventsPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operationsTotal,
		m.confirmDuration,
		m.eventsPublished,
	}
}
