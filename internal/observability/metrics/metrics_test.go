package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("dimension", "responses"),
		attribute.String("tenant_id", "456"),
		attribute.String("plan_code", "pro"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "tenant_id" {
			t.Fatalf("tenant_id must not be used as a metric label")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordConsume(context.Background(), "responses", true)
	m.RecordConsumeBusy(context.Background(), "responses")
	m.RecordResolveCache(context.Background(), false)
	m.RecordPlanApplied(context.Background(), "pro")
	m.RecordPeriodReset(context.Background(), "scheduler")
}

func TestNoopMetricsRecord(t *testing.T) {
	m := NewNoop()
	if m == nil {
		t.Fatalf("expected noop metrics")
	}
	m.RecordConsume(context.Background(), "responses", false)
}
