package domain

import (
	"sort"
	"time"
)

// EventType names a supply-chain fact from the closed vocabulary.
type EventType string

// Event types. Which types apply to which entity kind is fixed by Vocabulary.
const (
	EventLotCreated          EventType = "LOT_CREATED"
	EventLotUpdated          EventType = "LOT_UPDATED"
	EventPlantTagged         EventType = "PLANT_TAGGED"
	EventPlanted             EventType = "PLANTED"
	EventGerminated          EventType = "GERMINATED"
	EventTransplanted        EventType = "TRANSPLANTED"
	EventStageChanged        EventType = "STAGE_CHANGED"
	EventTreatmentApplied    EventType = "TREATMENT_APPLIED"
	EventInspected           EventType = "INSPECTED"
	EventHarvested           EventType = "HARVESTED"
	EventProcessingStarted   EventType = "PROCESSING_STARTED"
	EventProcessingCompleted EventType = "PROCESSING_COMPLETED"
	EventQualityTested       EventType = "QUALITY_TESTED"
	EventPackaged            EventType = "PACKAGED"
	EventLabeled             EventType = "LABELED"
	EventShipped             EventType = "SHIPPED"
	EventReceived            EventType = "RECEIVED"
	EventSold                EventType = "SOLD"
	EventRecalled            EventType = "RECALLED"
	EventDestroyed           EventType = "DESTROYED"
	EventComplianceCheck     EventType = "COMPLIANCE_CHECK"
	EventDeactivated         EventType = "DEACTIVATED"
	EventReactivated         EventType = "REACTIVATED"
)

var vocabulary = map[EntityKind]map[EventType]struct{}{
	EntityLot: setOf(
		EventLotCreated, EventLotUpdated, EventPlanted, EventGerminated, EventHarvested,
		EventProcessingStarted, EventProcessingCompleted, EventQualityTested, EventPackaged,
		EventLabeled, EventShipped, EventReceived, EventSold, EventComplianceCheck,
		EventDeactivated, EventReactivated,
	),
	EntityPlant: setOf(
		EventPlantTagged, EventPlanted, EventTransplanted, EventStageChanged, EventTreatmentApplied,
		EventInspected, EventHarvested, EventDestroyed, EventComplianceCheck,
		EventDeactivated, EventReactivated,
	),
	EntityProduct: setOf(
		EventLotCreated, EventLotUpdated, EventQualityTested, EventPackaged, EventLabeled,
		EventShipped, EventReceived, EventSold, EventRecalled, EventComplianceCheck,
		EventDeactivated, EventReactivated,
	),
}

func setOf(types ...EventType) map[EventType]struct{} {
	out := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		out[t] = struct{}{}
	}
	return out
}

// AllowsEvent reports whether t belongs to the vocabulary of kind.
func AllowsEvent(kind EntityKind, t EventType) bool {
	allowed, ok := vocabulary[kind]
	if !ok {
		return false
	}
	_, ok = allowed[t]
	return ok
}

// Vocabulary returns the sorted event types valid for kind.
func Vocabulary(kind EntityKind) []EventType {
	allowed := vocabulary[kind]
	out := make([]EventType, 0, len(allowed))
	for t := range allowed {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Event is an immutable fact about an entity.
type Event struct {
	ID          string         `json:"id"`
	EntityKind  EntityKind     `json:"entity_kind"`
	EntityID    string         `json:"entity_id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Operator    string         `json:"operator"`
	Location    Location       `json:"location"`
	Payload     map[string]any `json:"payload,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
	Verified    bool           `json:"verified"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

// SortEvents orders events by timestamp ascending with id as tie-break.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}

// SortAuditEntries orders entries by the wrapped event timestamp ascending
// with the wrapped event id (RecordID) as tie-break.
func SortAuditEntries(entries []AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EventTimestamp.Equal(entries[j].EventTimestamp) {
			return entries[i].EventTimestamp.Before(entries[j].EventTimestamp)
		}
		return entries[i].RecordID < entries[j].RecordID
	})
}
