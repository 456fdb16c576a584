package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.Dispatched("donation_recorded", OutboxPublished)
	m.Dispatched("donation_recorded", OutboxPublished)
	m.Dispatched("shipment_sent", OutboxParked)
	m.Batch(3)
	m.Batch(0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "giroflow_outbox_dispatched_total", "outcome", OutboxPublished); err != nil || got != 2 {
		t.Fatalf("expected published=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "giroflow_outbox_dispatched_total", "event_type", "shipment_sent"); err != nil || got != 1 {
		t.Fatalf("expected parked shipment=1, got %f (%v)", got, err)
	}

	hist := findMetricFamily(mfs, "giroflow_outbox_batch_rows")
	if hist == nil || hist.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one observed batch")
	}

	var nilMetrics *OutboxMetrics
	nilMetrics.Dispatched("x", OutboxRetried)
	nilMetrics.Batch(1)
}
