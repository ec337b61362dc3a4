package core

import (
	"context"
	"testing"

	"herbtrace/pkg/domain"
)

func ptr(s string) *string { return &s }

type ruleView struct {
	lots   map[string]domain.Lot
	plants map[string]domain.Plant
}

func (v ruleView) FindLot(id string) (domain.Lot, bool)     { l, ok := v.lots[id]; return l, ok }
func (v ruleView) FindPlant(id string) (domain.Plant, bool) { p, ok := v.plants[id]; return p, ok }
func (v ruleView) ListLots() []domain.Lot                   { return nil }
func (v ruleView) ListPlants() []domain.Plant               { return nil }

func evaluate(t *testing.T, rule domain.Rule, view ruleView, changes ...domain.Change) domain.Result {
	t.Helper()
	res, err := rule.Evaluate(context.Background(), view, changes)
	if err != nil {
		t.Fatalf("evaluate %s: %v", rule.Name(), err)
	}
	return res
}

func TestLineageIntegrityBlocksBrokenLotForest(t *testing.T) {
	seed := domain.Lot{Base: domain.Base{ID: "seed"}, LotNumber: "SD-1", Type: domain.LotTypeSeed}
	harvest := domain.Lot{Base: domain.Base{ID: "harvest"}, LotNumber: "HV-1", Type: domain.LotTypeHarvest, ParentLotID: ptr("seed")}
	loopA := domain.Lot{Base: domain.Base{ID: "a"}, LotNumber: "PL-A", Type: domain.LotTypePlant, ParentLotID: ptr("b")}
	loopB := domain.Lot{Base: domain.Base{ID: "b"}, LotNumber: "PL-B", Type: domain.LotTypePlant, ParentLotID: ptr("a")}
	view := ruleView{lots: map[string]domain.Lot{"seed": seed, "harvest": harvest, "a": loopA, "b": loopB}}

	cases := map[string]domain.Lot{
		"negative quantity": {Base: domain.Base{ID: "x"}, Type: domain.LotTypeSeed, Quantity: -1},
		"self parent":       {Base: domain.Base{ID: "x"}, Type: domain.LotTypeSeed, ParentLotID: ptr("x")},
		"missing parent":    {Base: domain.Base{ID: "x"}, Type: domain.LotTypePlant, ParentLotID: ptr("nope")},
		"type regression":   {Base: domain.Base{ID: "x"}, Type: domain.LotTypeSeed, ParentLotID: ptr("harvest")},
		"cycle":             loopA,
	}
	for name, lot := range cases {
		t.Run(name, func(t *testing.T) {
			res := evaluate(t, LineageIntegrityRule(), view, domain.Change{Kind: domain.EntityLot, Action: domain.ActionCreate, After: lot})
			if !res.HasBlocking() {
				t.Fatalf("expected blocking violation, got %+v", res.Violations)
			}
		})
	}

	ok := domain.Lot{Base: domain.Base{ID: "x"}, Type: domain.LotTypeProduct, ParentLotID: ptr("harvest")}
	if res := evaluate(t, LineageIntegrityRule(), view, domain.Change{After: ok}); len(res.Violations) != 0 {
		t.Fatalf("expected valid lineage, got %+v", res.Violations)
	}
}

func TestLineageIntegrityPlants(t *testing.T) {
	lot := domain.Lot{Base: domain.Base{ID: "lot"}, Type: domain.LotTypePlant}
	mother := domain.Plant{Base: domain.Base{ID: "m"}, PlantTag: "PT-M", LotID: "lot", Species: "Mentha spicata"}
	view := ruleView{lots: map[string]domain.Lot{"lot": lot}, plants: map[string]domain.Plant{"m": mother}}

	orphan := domain.Plant{Base: domain.Base{ID: "p"}, PlantTag: "PT-P", LotID: "missing"}
	if res := evaluate(t, LineageIntegrityRule(), view, domain.Change{After: orphan}); !res.HasBlocking() {
		t.Fatalf("expected missing lot to block")
	}

	hybrid := domain.Plant{Base: domain.Base{ID: "p"}, PlantTag: "PT-P", LotID: "lot", Species: "Mentha piperita", MotherPlantID: ptr("m")}
	res := evaluate(t, LineageIntegrityRule(), view, domain.Change{After: hybrid})
	if res.HasBlocking() || len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected a single species warning, got %+v", res.Violations)
	}

	selfMother := domain.Plant{Base: domain.Base{ID: "p"}, PlantTag: "PT-P", LotID: "lot", MotherPlantID: ptr("p")}
	if res := evaluate(t, LineageIntegrityRule(), view, domain.Change{After: selfMother}); !res.HasBlocking() {
		t.Fatalf("expected self mother to block")
	}
}

func TestLifecycleTransitionRule(t *testing.T) {
	view := ruleView{}
	destroyed := domain.Plant{Base: domain.Base{ID: "p"}, Stage: domain.StageDestroyed, Status: domain.StatusActive}
	revived := destroyed
	revived.Stage = domain.StageFlowering

	res := evaluate(t, LifecycleTransitionRule(), view, domain.Change{Before: destroyed, After: revived})
	if !res.HasBlocking() {
		t.Fatalf("expected leaving destroyed to block, got %+v", res.Violations)
	}

	invalid := domain.Lot{Base: domain.Base{ID: "l"}, Status: "teleported"}
	if res := evaluate(t, LifecycleTransitionRule(), view, domain.Change{After: invalid}); !res.HasBlocking() {
		t.Fatalf("expected invalid status to block")
	}

	sold := domain.Lot{Base: domain.Base{ID: "l"}, Status: domain.StatusSold}
	harvested := domain.Lot{Base: domain.Base{ID: "l"}, Status: domain.StatusHarvested}
	res = evaluate(t, LifecycleTransitionRule(), view, domain.Change{Before: sold, After: harvested})
	if res.HasBlocking() || len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected backward status to warn only, got %+v", res.Violations)
	}

	forward := domain.Lot{Base: domain.Base{ID: "l"}, Status: domain.StatusPackaged}
	if res := evaluate(t, LifecycleTransitionRule(), view, domain.Change{Before: harvested, After: forward}); len(res.Violations) != 0 {
		t.Fatalf("expected forward move to pass, got %+v", res.Violations)
	}
}

func TestDefaultRulesEngineRegistersBuiltins(t *testing.T) {
	names := NewDefaultRulesEngine().Rules()
	if len(names) != 2 || names[0] != "lineage_integrity" || names[1] != "lifecycle_transition" {
		t.Fatalf("unexpected rules %v", names)
	}
}
