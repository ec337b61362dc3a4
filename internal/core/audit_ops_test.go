package core_test

import (
	"context"
	"testing"
	"time"

	"herbtrace/internal/core"
	"herbtrace/pkg/domain"
)

func TestVerifyIntegrityFindsEditedEntry(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	lot, _ := seedLot(t, svc)
	other, _ := seedLot(t, svc)
	target := record(t, svc, domain.EntityLot, lot.ID, domain.EventPlanted, nil)
	record(t, svc, domain.EntityLot, lot.ID, domain.EventGerminated, nil)

	store := memoryStore(t, svc)
	snapshot := store.ExportState()
	var editedID string
	for id, entry := range snapshot.Audit {
		if entry.RecordID == target.ID {
			entry.EventTimestamp = entry.EventTimestamp.Add(-time.Hour)
			snapshot.Audit[id] = entry
			editedID = id
		}
	}
	store.ImportState(snapshot)

	report, err := svc.VerifyIntegrity(ctx, lot.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Valid || report.Total != 3 || report.Verified != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Broken) != 1 || report.Broken[0].EntryID != editedID || report.Broken[0].Reason != domain.ReasonHashMismatch {
		t.Fatalf("expected exactly the edited entry broken, got %+v", report.Broken)
	}

	clean, err := svc.VerifyIntegrity(ctx, other.ID)
	if err != nil {
		t.Fatalf("verify other: %v", err)
	}
	if !clean.Valid || clean.Score != 1 {
		t.Fatalf("untouched entity should verify, got %+v", clean)
	}

	sweep, err := svc.VerifyIntegrity(ctx, "")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sweep.Total != 4 || len(sweep.Broken) != 1 || sweep.Score != 0.75 {
		t.Fatalf("unexpected sweep %+v", sweep)
	}

	_, err = svc.VerifyIntegrity(ctx, "missing")
	assertIs(t, err, domain.ErrNotFound)
}

func TestVerifyIntegrityReportsEveryEditedField(t *testing.T) {
	edits := map[string]func(*domain.AuditEntry){
		"id":          func(e *domain.AuditEntry) { e.ID = "forged-entry" },
		"timestamp":   func(e *domain.AuditEntry) { e.Timestamp = e.Timestamp.Add(time.Minute) },
		"seq":         func(e *domain.AuditEntry) { e.Seq += 10 },
		"record_kind": func(e *domain.AuditEntry) { e.RecordKind = "snapshot" },
		"verified":    func(e *domain.AuditEntry) { e.Verified = false },
		"operator":    func(e *domain.AuditEntry) { e.Operator = "intruder" },
		"prev_hash":   func(e *domain.AuditEntry) { e.PrevHash = "0000" },
	}
	for name, edit := range edits {
		t.Run(name, func(t *testing.T) {
			svc, _ := newService(t)
			ctx := context.Background()
			lot, _ := seedLot(t, svc)
			target := record(t, svc, domain.EntityLot, lot.ID, domain.EventPlanted, nil)
			record(t, svc, domain.EntityLot, lot.ID, domain.EventGerminated, nil)

			store := memoryStore(t, svc)
			snapshot := store.ExportState()
			var editedID string
			for key, entry := range snapshot.Audit {
				if entry.RecordID == target.ID {
					edit(&entry)
					snapshot.Audit[key] = entry
					editedID = entry.ID
				}
			}
			store.ImportState(snapshot)

			report, err := svc.VerifyIntegrity(ctx, lot.ID)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if report.Valid || report.Total != 3 || len(report.Broken) != 1 {
				t.Fatalf("expected one broken entry, got %+v", report)
			}
			if report.Broken[0].EntryID != editedID || report.Broken[0].Reason != domain.ReasonHashMismatch {
				t.Fatalf("expected edited entry %s reported as hash mismatch, got %+v", editedID, report.Broken[0])
			}
		})
	}
}

func TestVerifyIntegrityCrossChecksEvents(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	lot, _ := seedLot(t, svc)
	evt := record(t, svc, domain.EntityLot, lot.ID, domain.EventHarvested, nil)

	store := memoryStore(t, svc)
	snapshot := store.ExportState()
	edited := snapshot.Events[evt.ID]
	edited.Operator = "someone-else"
	snapshot.Events[evt.ID] = edited
	store.ImportState(snapshot)

	report, err := svc.VerifyIntegrity(ctx, lot.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(report.Broken) != 1 || report.Broken[0].Reason != domain.ReasonEventMismatch || report.Broken[0].RecordID != evt.ID {
		t.Fatalf("expected event mismatch finding, got %+v", report.Broken)
	}
}

func TestChainedAuditDetectsTruncation(t *testing.T) {
	svc, _ := newService(t, core.WithHashChain(true))
	ctx := context.Background()
	lot, _ := seedLot(t, svc)
	middle := record(t, svc, domain.EntityLot, lot.ID, domain.EventPlanted, nil)
	record(t, svc, domain.EntityLot, lot.ID, domain.EventGerminated, nil)

	history, err := svc.HistoryOf(ctx, lot.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history[0].PrevHash != "" || history[1].PrevHash != history[0].Hash {
		t.Fatalf("expected linked entries, got %+v", history)
	}

	store := memoryStore(t, svc)
	snapshot := store.ExportState()
	for id, entry := range snapshot.Audit {
		if entry.RecordID == middle.ID {
			delete(snapshot.Audit, id)
		}
	}
	store.ImportState(snapshot)

	report, err := svc.VerifyIntegrity(ctx, lot.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Valid || len(report.Broken) != 1 || report.Broken[0].Reason != domain.ReasonSequenceGap {
		t.Fatalf("expected a sequence gap finding, got %+v", report)
	}
}

func TestHistoryOrderAndWindow(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	lot, _ := seedLot(t, svc)
	created := lot.CreatedAt

	backdated := []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour}
	for _, d := range backdated {
		_, _, err := svc.RecordEvent(ctx, core.EventSpec{
			Kind:      domain.EntityLot,
			EntityID:  lot.ID,
			Type:      domain.EventQualityTested,
			Operator:  "lab",
			Timestamp: created.Add(d),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	history, err := svc.HistoryOf(ctx, lot.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for i := 1; i < len(history); i++ {
		if history[i].EventTimestamp.Before(history[i-1].EventTimestamp) {
			t.Fatalf("history out of order at %d: %+v", i, history)
		}
	}

	page, err := svc.HistoryWindow(ctx, lot.ID, 1, 2)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if page.Total != 4 || len(page.Items) != 2 || page.Items[0].ID != history[1].ID || page.Items[1].ID != history[2].ID {
		t.Fatalf("unexpected window %+v", page)
	}

	tail, _ := svc.HistoryWindow(ctx, lot.ID, 10, 5)
	if len(tail.Items) != 0 || tail.Total != 4 {
		t.Fatalf("expected empty tail page, got %+v", tail)
	}

	events, err := svc.EventHistory(ctx, lot.ID)
	if err != nil {
		t.Fatalf("event history: %v", err)
	}
	for i := range events {
		if events[i].ID != history[i].RecordID {
			t.Fatalf("event history and audit history disagree at %d", i)
		}
	}
}
