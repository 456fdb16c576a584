package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox dispatch outcomes.
const (
	OutboxPublished = "published"
	OutboxRetried   = "retried"
	OutboxParked    = "parked"
)

// OutboxMetrics counts outbox rows by event type and dispatch outcome.
type OutboxMetrics struct {
	dispatched *prometheus.CounterVec
	batches    prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_dispatched_total",
		Help:      "Outbox rows handled by the publisher.",
	}, []string{"event_type", "outcome"})
	batches := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "outbox_batch_rows",
		Help:      "Rows claimed per publisher batch.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
	})
	reg.MustRegister(dispatched, batches)
	return &OutboxMetrics{dispatched: dispatched, batches: batches}
}

func (m *OutboxMetrics) Dispatched(eventType, outcome string) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// Batch observes the size of a non-empty batch.
func (m *OutboxMetrics) Batch(rows int) {
	if m == nil || m.batches == nil || rows <= 0 {
		return
	}
	m.batches.Observe(float64(rows))
}
