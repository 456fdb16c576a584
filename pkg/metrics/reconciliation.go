package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reconciliation outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// ReconciliationMetrics counts records reconciled per rail.
type ReconciliationMetrics struct {
	records *prometheus.CounterVec
	files   *prometheus.CounterVec
	amount  *prometheus.CounterVec
}

func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciled_records_total",
		Help:      "Records processed by kind and outcome.",
	}, []string{"provider", "kind", "outcome"})
	files := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clearing_files_total",
		Help:      "Clearing files sent or received.",
	}, []string{"provider", "direction"})
	amount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claimed_amount_minor_total",
		Help:      "Sum of claimed amounts in minor units.",
	}, []string{"provider"})
	reg.MustRegister(records, files, amount)
	return &ReconciliationMetrics{records: records, files: files, amount: amount}
}

// Record adds n records of kind with the given outcome.
func (m *ReconciliationMetrics) Record(provider, kind, outcome string, n int) {
	if m == nil || m.records == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(normalizeLabel(provider), normalizeLabel(kind), normalizeLabel(outcome)).Add(float64(n))
}

// File counts a clearing file; direction is "sent" or "received".
func (m *ReconciliationMetrics) File(provider, direction string) {
	if m == nil || m.files == nil {
		return
	}
	m.files.WithLabelValues(normalizeLabel(provider), normalizeLabel(direction)).Inc()
}

func (m *ReconciliationMetrics) Claimed(provider string, amountMinor int64) {
	if m == nil || m.amount == nil || amountMinor <= 0 {
		return
	}
	m.amount.WithLabelValues(normalizeLabel(provider)).Add(float64(amountMinor))
}
