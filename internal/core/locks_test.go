package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"herbtrace/pkg/domain"
)

func TestEntityLocksTimeoutIsRetryable(t *testing.T) {
	locks := newEntityLocks()
	ctx := context.Background()

	release, err := locks.acquire(ctx, "lot-1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err = locks.acquire(ctx, "lot-1", 10*time.Millisecond)
	var busy domain.BusyError
	if !errors.As(err, &busy) || busy.EntityID != "lot-1" || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable busy error, got %v", err)
	}

	other, err := locks.acquire(ctx, "lot-2", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("independent entity should not block: %v", err)
	}
	other()

	release()
	release()
	again, err := locks.acquire(ctx, "lot-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
	if n := locks.size(); n != 0 {
		t.Fatalf("expected idle locks dropped, got %d", n)
	}
}

func TestEntityLocksHonourCancellation(t *testing.T) {
	locks := newEntityLocks()
	release, err := locks.acquire(context.Background(), "plant-1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locks.acquire(ctx, "plant-1", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestServiceReturnsBusyWhileEntityLocked(t *testing.T) {
	svc := NewInMemoryService(WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()
	lot, _, err := svc.CreateLot(ctx, LotSpec{Type: domain.LotTypeSeed, Species: "Mentha piperita", Operator: "op"})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}

	release, err := svc.lock(ctx, lot.ID)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, _, err = svc.RecordEvent(ctx, EventSpec{Kind: domain.EntityLot, EntityID: lot.ID, Type: domain.EventPlanted, Operator: "op"})
	if !domain.IsRetryable(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
	release()

	if _, _, err := svc.RecordEvent(ctx, EventSpec{Kind: domain.EntityLot, EntityID: lot.ID, Type: domain.EventPlanted, Operator: "op"}); err != nil {
		t.Fatalf("record after release: %v", err)
	}
}
