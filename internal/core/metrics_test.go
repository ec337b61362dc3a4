package core

import (
	"context"
	"testing"

	"herbtrace/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)
	svc := NewInMemoryService(WithMetrics(rec))
	ctx := context.Background()

	if _, _, err := svc.CreateLot(ctx, LotSpec{Type: domain.LotTypeSeed, Species: "Mentha piperita", Operator: "op"}); err != nil {
		t.Fatalf("create lot: %v", err)
	}
	if _, _, err := svc.CreateLot(ctx, LotSpec{Type: domain.LotTypeSeed, Operator: "op"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := svc.VerifyIntegrity(ctx, ""); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if got := testutil.ToFloat64(rec.operations.WithLabelValues("create_lot", "success")); got != 1 {
		t.Fatalf("expected one successful create_lot, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("create_lot", "error")); got != 1 {
		t.Fatalf("expected one failed create_lot, got %v", got)
	}
	if got := testutil.ToFloat64(rec.integrity); got != 1 {
		t.Fatalf("expected integrity score 1, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.durations); n != 2 {
		t.Fatalf("expected duration series for create_lot and verify_integrity, got %d", n)
	}
}

func TestNoopMetricsIsDefault(t *testing.T) {
	svc := NewInMemoryService()
	if _, ok := svc.metrics.(noopMetrics); !ok {
		t.Fatalf("expected noop metrics, got %T", svc.metrics)
	}
}
