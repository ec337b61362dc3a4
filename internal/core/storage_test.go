package core

import (
	"context"
	"path/filepath"
	"testing"

	"herbtrace/internal/config"
	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/internal/infra/persistence/sqlite"
	"herbtrace/pkg/domain"
)

func TestOpenPersistentStoreMemoryByDefault(t *testing.T) {
	store, closer, err := OpenPersistentStore(context.Background(), config.StorageConfig{}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = closer() }()
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenPersistentStoreSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.StorageConfig{Driver: string(StorageSQLite), SQLitePath: filepath.Join(t.TempDir(), "trace.db")}

	store, closer, err := OpenPersistentStore(ctx, cfg, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	svc := NewService(store)
	lot, _, err := svc.CreateLot(ctx, LotSpec{Type: domain.LotTypeSeed, Species: "Withania somnifera", Operator: "op"})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	if _, _, err := svc.RecordEvent(ctx, EventSpec{Kind: domain.EntityLot, EntityID: lot.ID, Type: domain.EventPlanted, Operator: "op"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	before, err := svc.VerifyIntegrity(ctx, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, closer, err := OpenPersistentStore(ctx, cfg, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = closer() }()
	svc = NewService(reopened)
	got, err := svc.GetLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get lot after reopen: %v", err)
	}
	if got.Status != domain.StatusPlanted {
		t.Fatalf("expected planted lot after reopen, got %s", got.Status)
	}
	after, err := svc.VerifyIntegrity(ctx, "")
	if err != nil {
		t.Fatalf("verify after reopen: %v", err)
	}
	if after.Total != before.Total || !after.Valid {
		t.Fatalf("integrity changed across reopen: before %+v after %+v", before, after)
	}
}

func TestOpenPersistentStoreRejectsUnknownDriver(t *testing.T) {
	if _, _, err := OpenPersistentStore(context.Background(), config.StorageConfig{Driver: "cassandra"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
