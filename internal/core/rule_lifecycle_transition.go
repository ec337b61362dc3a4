package core

import (
	"context"
	"fmt"

	"herbtrace/pkg/domain"
)

const lifecycleRuleName = "lifecycle_transition"

// LifecycleTransitionRule rejects unknown lifecycle values, blocks leaving a
// terminal plant stage and warns when a cached status moves backward.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleMachine struct {
	kind      domain.EntityKind
	label     string
	valid     func(state string) bool
	rank      func(state string) int
	terminal  map[string]struct{}
	extractor func(record any) (id string, state string, ok bool)
}

func statusValid(state string) bool { return domain.Status(state).Rank() > 0 }
func statusRank(state string) int   { return domain.Status(state).Rank() }

var lifecycleMachines = []lifecycleMachine{
	{
		kind:  domain.EntityLot,
		label: "lot status",
		valid: statusValid,
		rank:  statusRank,
		extractor: func(record any) (string, string, bool) {
			lot, ok := record.(domain.Lot)
			return lot.ID, string(lot.Status), ok
		},
	},
	{
		kind:  domain.EntityPlant,
		label: "plant status",
		valid: statusValid,
		rank:  statusRank,
		extractor: func(record any) (string, string, bool) {
			plant, ok := record.(domain.Plant)
			return plant.ID, string(plant.Status), ok
		},
	},
	{
		kind:     domain.EntityPlant,
		label:    "plant stage",
		valid:    func(state string) bool { return domain.PlantStage(state).Valid() },
		terminal: toSet(string(domain.StageDestroyed)),
		extractor: func(record any) (string, string, bool) {
			plant, ok := record.(domain.Plant)
			return plant.ID, string(plant.Stage), ok
		},
	},
}

func (lifecycleTransitionRule) Name() string { return lifecycleRuleName }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		for _, machine := range lifecycleMachines {
			evaluateMachine(&res, machine, change)
		}
	}
	return res, nil
}

func evaluateMachine(res *domain.Result, machine lifecycleMachine, change domain.Change) {
	id, after, ok := machine.extractor(change.After)
	if !ok {
		return
	}
	violation := func(severity domain.Severity, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     lifecycleRuleName,
			Severity: severity,
			Message:  fmt.Sprintf(format, args...),
			Kind:     machine.kind,
			EntityID: id,
		})
	}
	if !machine.valid(after) {
		violation(domain.SeverityBlock, "%s of %s is set to invalid value %q", machine.label, id, after)
		return
	}
	_, before, ok := machine.extractor(change.Before)
	if !ok || before == after {
		return
	}
	if _, terminal := machine.terminal[before]; terminal {
		violation(domain.SeverityBlock, "cannot move %s of %s from terminal %s to %s", machine.label, id, before, after)
		return
	}
	if machine.rank != nil && machine.rank(after) < machine.rank(before) {
		violation(domain.SeverityWarn, "%s of %s moved backward from %s to %s", machine.label, id, before, after)
	}
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
