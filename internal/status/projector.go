// Package status derives an entity's lifecycle status, active flag and plant
// stage from its ordered event history.
package status

import (
	"herbtrace/pkg/domain"
)

// Projection is the derived state of one entity.
type Projection struct {
	Status    domain.Status
	Active    bool
	Stage     domain.PlantStage
	Anomalies []Anomaly
}

// Anomaly records a mapped lifecycle event that arrived after the entity had
// already reached a later status.
type Anomaly struct {
	EventID string
	Type    domain.EventType
	Current domain.Status
	Target  domain.Status
}

var lotTransitions = map[domain.EventType]domain.Status{
	domain.EventLotCreated:          domain.StatusActive,
	domain.EventPlanted:             domain.StatusPlanted,
	domain.EventGerminated:          domain.StatusGrowing,
	domain.EventHarvested:           domain.StatusHarvested,
	domain.EventProcessingCompleted: domain.StatusProcessed,
	domain.EventPackaged:            domain.StatusPackaged,
	domain.EventShipped:             domain.StatusInTransit,
	domain.EventReceived:            domain.StatusReceived,
	domain.EventSold:                domain.StatusSold,
}

// PLANTED has no plant mapping; a plant is already in the ground once tagged.
var plantTransitions = map[domain.EventType]domain.Status{
	domain.EventPlantTagged:  domain.StatusActive,
	domain.EventTransplanted: domain.StatusGrowing,
	domain.EventHarvested:    domain.StatusHarvested,
}

// StatusFor returns the status an event type maps to for kind.
func StatusFor(kind domain.EntityKind, t domain.EventType) (domain.Status, bool) {
	var table map[domain.EventType]domain.Status
	switch kind {
	case domain.EntityLot, domain.EntityProduct:
		table = lotTransitions
	case domain.EntityPlant:
		table = plantTransitions
	default:
		return "", false
	}
	s, ok := table[t]
	return s, ok
}

// Project replays events in history order and returns the derived state. The
// input slice is not modified. The result depends only on the events.
func Project(kind domain.EntityKind, events []domain.Event) Projection {
	ordered := append([]domain.Event(nil), events...)
	domain.SortEvents(ordered)

	p := Projection{Status: domain.StatusActive, Active: true}
	if kind == domain.EntityPlant {
		p.Stage = domain.StageSeedling
	}
	for _, evt := range ordered {
		applyStatus(kind, evt, &p)
		applyActive(evt, &p)
		if kind == domain.EntityPlant {
			applyStage(evt, &p)
		}
	}
	return p
}

func applyStatus(kind domain.EntityKind, evt domain.Event, p *Projection) {
	target, ok := StatusFor(kind, evt.Type)
	if !ok {
		return
	}
	if target.Rank() < p.Status.Rank() {
		p.Anomalies = append(p.Anomalies, Anomaly{
			EventID: evt.ID,
			Type:    evt.Type,
			Current: p.Status,
			Target:  target,
		})
		return
	}
	p.Status = target
}

func applyActive(evt domain.Event, p *Projection) {
	switch evt.Type {
	case domain.EventDeactivated, domain.EventDestroyed, domain.EventRecalled:
		p.Active = false
	case domain.EventReactivated:
		p.Active = true
	}
}

func applyStage(evt domain.Event, p *Projection) {
	switch evt.Type {
	case domain.EventPlantTagged, domain.EventStageChanged:
		if stage, ok := StageFromPayload(evt.Payload); ok {
			p.Stage = stage
		}
	case domain.EventHarvested:
		p.Stage = domain.StageHarvested
	case domain.EventDestroyed:
		p.Stage = domain.StageDestroyed
	}
}

// StageFromPayload reads a valid "stage" value from an event payload.
func StageFromPayload(payload map[string]any) (domain.PlantStage, bool) {
	raw, ok := payload["stage"]
	if !ok {
		return "", false
	}
	var stage domain.PlantStage
	switch v := raw.(type) {
	case string:
		stage = domain.PlantStage(v)
	case domain.PlantStage:
		stage = v
	default:
		return "", false
	}
	if !stage.Valid() {
		return "", false
	}
	return stage, true
}

// Apply copies the projection onto a lot.
func (p Projection) Apply(lot *domain.Lot) {
	lot.Status = p.Status
	lot.Active = p.Active
}

// ApplyPlant copies the projection onto a plant.
func (p Projection) ApplyPlant(plant *domain.Plant) {
	plant.Status = p.Status
	plant.Active = p.Active
	plant.Stage = p.Stage
}
