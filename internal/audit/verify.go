package audit

import (
	"fmt"
	"sort"
	"time"

	"herbtrace/pkg/domain"
)

// EventLookup resolves the event an audit entry wraps.
type EventLookup interface {
	FindEvent(id string) (domain.Event, bool)
}

// EntryResult is the verification outcome for one audit entry.
type EntryResult struct {
	Entry     domain.AuditEntry
	OK        bool
	Violation *domain.IntegrityViolation
}

// VerifyEntity checks the entries of a single entity. Entries are walked in
// commit order regardless of input order. Each entry yields at most one
// finding, the first failed check in the order: sequence, hash, chain link,
// wrapped event.
func (h Hasher) VerifyEntity(entries []domain.AuditEntry, events EventLookup) []EntryResult {
	ordered := append([]domain.AuditEntry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	results := make([]EntryResult, 0, len(ordered))
	for i, entry := range ordered {
		var prev *domain.AuditEntry
		if i > 0 {
			prev = &ordered[i-1]
		}
		v := h.check(entry, i+1, prev, events)
		results = append(results, EntryResult{Entry: entry, OK: v == nil, Violation: v})
	}
	return results
}

func (h Hasher) check(entry domain.AuditEntry, wantSeq int, prev *domain.AuditEntry, events EventLookup) *domain.IntegrityViolation {
	finding := func(reason, expected, actual string) *domain.IntegrityViolation {
		return &domain.IntegrityViolation{
			EntryID:  entry.ID,
			RecordID: entry.RecordID,
			EntityID: entry.EntityID,
			Reason:   reason,
			Expected: expected,
			Actual:   actual,
		}
	}

	if h.Chained && entry.Seq != wantSeq {
		return finding(domain.ReasonSequenceGap, fmt.Sprint(wantSeq), fmt.Sprint(entry.Seq))
	}
	recomputed, err := h.Hash(entry)
	if err != nil || recomputed != entry.Hash {
		return finding(domain.ReasonHashMismatch, entry.Hash, recomputed)
	}
	if h.Chained {
		wantPrev := ""
		if prev != nil {
			wantPrev = prev.Hash
		}
		if entry.PrevHash != wantPrev {
			return finding(domain.ReasonChainBroken, wantPrev, entry.PrevHash)
		}
	}
	if events == nil {
		return nil
	}
	evt, ok := events.FindEvent(entry.RecordID)
	if !ok {
		return finding(domain.ReasonEventMissing, entry.RecordID, "")
	}
	if mismatch := compareEvent(entry, evt); mismatch != "" {
		return finding(domain.ReasonEventMismatch, mismatch, "")
	}
	return nil
}

func compareEvent(entry domain.AuditEntry, evt domain.Event) string {
	switch {
	case evt.EntityID != entry.EntityID:
		return "entity_id"
	case evt.EntityKind != entry.EntityKind:
		return "entity_kind"
	case evt.Type != entry.EventType:
		return "event_type"
	case !evt.Timestamp.Equal(entry.EventTimestamp):
		return "timestamp"
	case evt.Operator != entry.Operator:
		return "operator"
	}
	return ""
}

// Report aggregates entry results into an integrity report. An empty result
// set scores 1.
func Report(entityID string, results []EntryResult, now time.Time) domain.IntegrityReport {
	report := domain.IntegrityReport{
		EntityID:   entityID,
		Total:      len(results),
		Broken:     []domain.IntegrityViolation{},
		VerifiedAt: now.UTC(),
	}
	for _, r := range results {
		if r.OK {
			report.Verified++
			continue
		}
		report.Broken = append(report.Broken, *r.Violation)
	}
	report.Score = 1
	if report.Total > 0 {
		report.Score = float64(report.Verified) / float64(report.Total)
	}
	report.Valid = len(report.Broken) == 0
	return report
}
