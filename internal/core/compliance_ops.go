package core

import (
	"context"
	"time"

	"herbtrace/internal/compliance"
	"herbtrace/pkg/domain"

	"go.uber.org/zap"
)

// CheckCompliance scores an entity's history against the named rule sets
// (every registered set when none are named) and records the outcome as a
// COMPLIANCE_CHECK event.
func (s *Service) CheckCompliance(ctx context.Context, entityID string, kind domain.EntityKind, ruleSets []string) (result domain.ComplianceResult, err error) {
	defer s.observe(ctx, "check_compliance", time.Now(), &err)
	if !kind.Valid() {
		return domain.ComplianceResult{}, domain.ValidationError{Field: "entity_kind", Reason: "unknown entity kind " + string(kind)}
	}
	release, err := s.lock(ctx, entityID)
	if err != nil {
		return domain.ComplianceResult{}, err
	}
	defer release()

	var recorded domain.Event
	err = s.run(ctx, "check_compliance", func(tx domain.Transaction) error {
		ref, err := resolveEntity(tx, kind, entityID)
		if err != nil {
			return err
		}
		subject := complianceSubject(tx, ref)
		now := s.clock()
		result = s.compliance.Check(subject, ruleSets, now)
		recorded, _, err = s.appendEvent(tx, domain.Event{
			EntityKind: ref.kind,
			EntityID:   entityID,
			Type:       domain.EventComplianceCheck,
			Timestamp:  now,
			Operator:   SystemOperator,
			Location:   ref.location(),
			Payload: map[string]any{
				"score":       result.Score,
				"compliant":   result.Compliant,
				"rule_sets":   result.RuleSets,
				"issue_codes": result.IssueCodes(),
				"threshold":   result.Threshold,
			},
		})
		return err
	})
	if err != nil {
		return domain.ComplianceResult{}, err
	}
	result.EventID = recorded.ID
	s.logger.Info("compliance checked",
		zap.String("entity_id", entityID),
		zap.Float64("score", result.Score),
		zap.Bool("compliant", result.Compliant),
		zap.Strings("rule_sets", result.RuleSets))
	s.publish(ctx, recorded)
	return result, nil
}

// complianceSubject gathers the history and quality data of ref. Plants are
// scored on the quality data and test results of their originating lot.
func complianceSubject(tx domain.Transaction, ref entityRef) compliance.Subject {
	view := tx.Snapshot()
	events := view.EventsFor(ref.id())
	subject := compliance.Subject{
		Kind:     ref.kind,
		ID:       ref.id(),
		Location: ref.location(),
		Events:   events,
	}
	if ref.plant == nil {
		subject.QualityData = compliance.QualityData(ref.lot.QualityData, events)
		return subject
	}
	if lot, ok := tx.FindLot(ref.plant.LotID); ok {
		subject.QualityData = compliance.QualityData(lot.QualityData, view.EventsFor(lot.ID))
	}
	return subject
}
