package core

import (
	"context"
	"fmt"

	"herbtrace/pkg/domain"
)

const lineageRuleName = "lineage_integrity"

// LineageIntegrityRule enforces the lot forest and plant ancestry constraints
// for every lot or plant touched by a transaction.
func LineageIntegrityRule() domain.Rule {
	return lineageIntegrityRule{}
}

type lineageIntegrityRule struct{}

func (lineageIntegrityRule) Name() string { return lineageRuleName }

func (lineageIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		switch after := change.After.(type) {
		case domain.Lot:
			evaluateLotLineage(&res, after, view)
		case domain.Plant:
			evaluatePlantLineage(&res, after, view)
		}
	}
	return res, nil
}

func evaluateLotLineage(res *domain.Result, lot domain.Lot, view domain.RuleView) {
	block := func(format string, args ...any) {
		res.Violations = append(res.Violations, lineageViolation(domain.EntityLot, lot.ID, fmt.Sprintf(format, args...)))
	}
	if lot.Quantity < 0 {
		block("lot %s has negative quantity %g", lot.LotNumber, lot.Quantity)
	}
	if lot.ParentLotID == nil || *lot.ParentLotID == "" {
		return
	}
	parentID := *lot.ParentLotID
	if parentID == lot.ID {
		block("lot %s references itself as parent", lot.LotNumber)
		return
	}
	parent, ok := view.FindLot(parentID)
	if !ok {
		block("lot %s references missing parent %s", lot.LotNumber, parentID)
		return
	}
	if parent.Type.Rank() > lot.Type.Rank() {
		block("lot %s of type %s cannot descend from %s lot %s", lot.LotNumber, lot.Type, parent.Type, parent.LotNumber)
	}
	seen := map[string]struct{}{lot.ID: {}}
	for cur := parent; ; {
		if _, loop := seen[cur.ID]; loop {
			block("lot %s parent chain forms a cycle at %s", lot.LotNumber, cur.ID)
			return
		}
		seen[cur.ID] = struct{}{}
		if cur.ParentLotID == nil || *cur.ParentLotID == "" {
			return
		}
		next, ok := view.FindLot(*cur.ParentLotID)
		if !ok {
			return
		}
		cur = next
	}
}

func evaluatePlantLineage(res *domain.Result, plant domain.Plant, view domain.RuleView) {
	block := func(format string, args ...any) {
		res.Violations = append(res.Violations, lineageViolation(domain.EntityPlant, plant.ID, fmt.Sprintf(format, args...)))
	}
	if plant.LotID == "" {
		block("plant %s has no originating lot", plant.PlantTag)
	} else if _, ok := view.FindLot(plant.LotID); !ok {
		block("plant %s references missing lot %s", plant.PlantTag, plant.LotID)
	}
	if plant.MotherPlantID == nil || *plant.MotherPlantID == "" {
		return
	}
	motherID := *plant.MotherPlantID
	if motherID == plant.ID {
		block("plant %s references itself as mother", plant.PlantTag)
		return
	}
	mother, ok := view.FindPlant(motherID)
	if !ok {
		block("plant %s references missing mother plant %s", plant.PlantTag, motherID)
		return
	}
	if mother.Species != plant.Species {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     lineageRuleName,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("plant %s species %q differs from mother %s species %q", plant.PlantTag, plant.Species, mother.PlantTag, mother.Species),
			Kind:     domain.EntityPlant,
			EntityID: plant.ID,
		})
	}
	seen := map[string]struct{}{plant.ID: {}}
	for cur := mother; ; {
		if _, loop := seen[cur.ID]; loop {
			block("plant %s mother chain forms a cycle at %s", plant.PlantTag, cur.ID)
			return
		}
		seen[cur.ID] = struct{}{}
		if cur.MotherPlantID == nil || *cur.MotherPlantID == "" {
			return
		}
		next, ok := view.FindPlant(*cur.MotherPlantID)
		if !ok {
			return
		}
		cur = next
	}
}

func lineageViolation(kind domain.EntityKind, entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     lineageRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Kind:     kind,
		EntityID: entityID,
	}
}
