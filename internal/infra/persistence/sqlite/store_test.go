package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"herbtrace/pkg/domain"
)

func createLotWithHistory(t *testing.T, store *Store) domain.Lot {
	t.Helper()
	var lot domain.Lot
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		lot, err = tx.CreateLot(domain.Lot{
			LotNumber:   "SD-20250101-000000-abcdef",
			Type:        domain.LotTypeSeed,
			Species:     "Calendula officinalis",
			Quantity:    250,
			QualityData: map[string]string{"germination_rate": "92%"},
			Status:      domain.StatusActive,
			Active:      true,
		})
		if err != nil {
			return err
		}
		evt, err := tx.AppendEvent(domain.Event{
			EntityKind: domain.EntityLot,
			EntityID:   lot.ID,
			Type:       domain.EventLotCreated,
			Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Operator:   "seed-bank",
			Payload:    map[string]any{"quantity": 250.0},
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendAudit(domain.AuditEntry{
			RecordKind:     domain.RecordEvent,
			RecordID:       evt.ID,
			EntityKind:     domain.EntityLot,
			EntityID:       lot.ID,
			Seq:            1,
			EventType:      evt.Type,
			EventTimestamp: evt.Timestamp,
			Operator:       evt.Operator,
			Hash:           "deadbeef",
		})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return lot
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	lot := createLotWithHistory(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
	got, ok := reloaded.GetLot(lot.ID)
	if !ok || got.LotNumber != lot.LotNumber || got.QualityData["germination_rate"] != "92%" {
		t.Fatalf("expected lot restored, got %+v", got)
	}
	err = reloaded.View(context.Background(), func(v domain.TransactionView) error {
		events := v.EventsFor(lot.ID)
		if len(events) != 1 || events[0].Operator != "seed-bank" || events[0].Payload["quantity"] != 250.0 {
			t.Fatalf("unexpected events %+v", events)
		}
		audit := v.AuditFor(lot.ID)
		if len(audit) != 1 || audit[0].Hash != "deadbeef" || audit[0].RecordID != events[0].ID {
			t.Fatalf("unexpected audit %+v", audit)
		}
		if _, ok := v.FindLotByNumber(lot.LotNumber); !ok {
			t.Fatalf("expected lot number index after reload")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestSQLiteStoreSkipsPersistOnError(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateLot("missing", func(*domain.Lot) error { return nil })
		return err
	})
	if err == nil {
		t.Fatalf("expected not found error")
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no snapshot rows, got %d", count)
	}
}

func TestSQLiteStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO state(bucket,payload) VALUES('lots', ?)`, []byte("{not json")); err != nil {
		t.Fatalf("seed bad payload: %v", err)
	}
	_ = store.Close()
	if _, err := NewStore(path, nil); err == nil {
		t.Fatalf("expected decode error")
	}
}
