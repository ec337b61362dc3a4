package domain

import (
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"
)

func TestLotTypeOrdering(t *testing.T) {
	chain := []LotType{LotTypeSeed, LotTypePlant, LotTypeHarvest, LotTypeProduct}
	for i := 1; i < len(chain); i++ {
		if chain[i].Rank() <= chain[i-1].Rank() {
			t.Fatalf("%s should rank after %s", chain[i], chain[i-1])
		}
	}
	if LotType("crate").Valid() || LotType("crate").Prefix() != "LT" {
		t.Fatalf("unknown lot type should be invalid with fallback prefix")
	}
}

func TestLotKind(t *testing.T) {
	if (Lot{Type: LotTypeProduct}).Kind() != EntityProduct {
		t.Fatalf("product lots are addressed as products")
	}
	if (Lot{Type: LotTypeHarvest}).Kind() != EntityLot {
		t.Fatalf("harvest lots are addressed as lots")
	}
	if EntityKind("batch").Valid() {
		t.Fatalf("unknown kind should be invalid")
	}
}

func TestStatusRanks(t *testing.T) {
	if StatusActive.Rank() != 1 || StatusSold.Rank() != 9 || Status("lost").Rank() != 0 {
		t.Fatalf("unexpected status ranks")
	}
	if !StageDestroyed.Valid() || PlantStage("dormant").Valid() {
		t.Fatalf("unexpected stage validity")
	}
}

func TestQRCodeActiveAt(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	code := QRCode{Status: QRActive, ExpiresAt: &expires}
	if !code.ActiveAt(now) {
		t.Fatalf("expected active before expiry")
	}
	if code.ActiveAt(expires) {
		t.Fatalf("expiry instant is exclusive")
	}
	code.Status = QRRevoked
	if code.ActiveAt(now) {
		t.Fatalf("revoked code must not be active")
	}
}

func TestVocabulary(t *testing.T) {
	if !AllowsEvent(EntityPlant, EventStageChanged) || AllowsEvent(EntityLot, EventStageChanged) {
		t.Fatalf("STAGE_CHANGED belongs to plants only")
	}
	if !AllowsEvent(EntityProduct, EventRecalled) || AllowsEvent(EntityLot, EventRecalled) {
		t.Fatalf("RECALLED belongs to products only")
	}
	if AllowsEvent("batch", EventLotCreated) || len(Vocabulary("batch")) != 0 {
		t.Fatalf("unknown kinds have no vocabulary")
	}
	types := Vocabulary(EntityLot)
	for i := 1; i < len(types); i++ {
		if types[i] < types[i-1] {
			t.Fatalf("vocabulary not sorted: %v", types)
		}
	}
}

func TestSortEventsTieBreak(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "b", Timestamp: ts},
		{ID: "c", Timestamp: ts.Add(-time.Minute)},
		{ID: "a", Timestamp: ts},
	}
	SortEvents(events)
	if events[0].ID != "c" || events[1].ID != "a" || events[2].ID != "b" {
		t.Fatalf("unexpected order %v", events)
	}
}

func TestIdentifiers(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 15, 22, 0, time.FixedZone("x", 3600))
	lot := NewLotNumber(LotTypeSeed, now)
	if !regexp.MustCompile(`^SD-20250314-081522-[0-9a-f]{6}$`).MatchString(lot) {
		t.Fatalf("unexpected lot number %q", lot)
	}
	tag := NewPlantTag(now)
	if !regexp.MustCompile(`^PT-20250314-[0-9a-f]{8}$`).MatchString(tag) {
		t.Fatalf("unexpected plant tag %q", tag)
	}
	if NewID() == NewID() {
		t.Fatalf("ids must be unique")
	}
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{NotFoundError{Kind: "lot", ID: "x"}, ErrNotFound},
		{InvalidEventError{Kind: EntityLot, Type: EventDestroyed}, ErrInvalidEvent},
		{ValidationError{Field: "quantity", Reason: "must not be negative"}, ErrValidation},
		{BusyError{EntityID: "x"}, ErrBusy},
	}
	for _, c := range cases {
		wrapped := fmt.Errorf("op: %w", c.err)
		if !errors.Is(wrapped, c.kind) {
			t.Fatalf("%T should match %v", c.err, c.kind)
		}
	}
	if !IsRetryable(BusyError{}) || IsRetryable(NotFoundError{}) {
		t.Fatalf("only busy errors are retryable")
	}
	if (ValidationError{Reason: "empty"}).Error() != "validation failed: empty" {
		t.Fatalf("unexpected message without field")
	}
}

func TestComplianceIssueCodes(t *testing.T) {
	r := ComplianceResult{Issues: []ComplianceIssue{{Code: "GACP-1"}, {Code: "ISO-2"}}}
	if codes := r.IssueCodes(); len(codes) != 2 || codes[1] != "ISO-2" {
		t.Fatalf("unexpected codes %v", codes)
	}
}
