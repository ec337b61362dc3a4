package core

import (
	"context"
	"time"

	"herbtrace/internal/audit"
	"herbtrace/pkg/domain"

	"go.uber.org/zap"
)

// HistoryPage is a window over an entity's audit history.
type HistoryPage struct {
	Items  []domain.AuditEntry
	Total  int
	Offset int
	Limit  int
}

// HistoryOf returns the audit entries of an entity ordered by event timestamp
// with the event id as tie-break.
func (s *Service) HistoryOf(ctx context.Context, entityID string) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := findAny(v, entityID); !ok {
			return domain.NotFoundError{Kind: "entity", ID: entityID}
		}
		entries = v.AuditFor(entityID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	domain.SortAuditEntries(entries)
	return entries, nil
}

// HistoryWindow returns one page of HistoryOf.
func (s *Service) HistoryWindow(ctx context.Context, entityID string, offset, limit int) (HistoryPage, error) {
	entries, err := s.HistoryOf(ctx, entityID)
	if err != nil {
		return HistoryPage{}, err
	}
	page := Page{Offset: offset, Limit: limit}.normalize()
	return HistoryPage{Items: window(entries, page), Total: len(entries), Offset: page.Offset, Limit: page.Limit}, nil
}

// EventHistory returns the events of an entity in history order.
func (s *Service) EventHistory(ctx context.Context, entityID string) ([]domain.Event, error) {
	var events []domain.Event
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := findAny(v, entityID); !ok {
			return domain.NotFoundError{Kind: "entity", ID: entityID}
		}
		events = v.EventsFor(entityID)
		return nil
	})
	return events, err
}

// VerifyIntegrity recomputes the audit hashes of one entity, or of the whole
// log when entityID is empty. Findings are returned as data.
func (s *Service) VerifyIntegrity(ctx context.Context, entityID string) (report domain.IntegrityReport, err error) {
	defer s.observe(ctx, "verify_integrity", time.Now(), &err)
	var results []audit.EntryResult
	err = s.store.View(ctx, func(v domain.TransactionView) error {
		ids := []string{entityID}
		if entityID == "" {
			ids = v.AuditEntityIDs()
		} else if _, ok := findAny(v, entityID); !ok {
			return domain.NotFoundError{Kind: "entity", ID: entityID}
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			results = append(results, s.hasher.VerifyEntity(v.AuditFor(id), v)...)
		}
		return nil
	})
	if err != nil {
		return domain.IntegrityReport{}, err
	}
	report = audit.Report(entityID, results, s.clock())
	for _, finding := range report.Broken {
		s.logger.Warn("audit integrity violation",
			zap.String("entity_id", finding.EntityID),
			zap.String("entry_id", finding.EntryID),
			zap.String("record_id", finding.RecordID),
			zap.String("reason", finding.Reason))
	}
	if entityID == "" {
		if rec, ok := s.metrics.(IntegrityRecorder); ok {
			rec.ObserveIntegrity(ctx, report.Score)
		}
	}
	return report, nil
}
