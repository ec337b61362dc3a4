package core

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"herbtrace/internal/status"
	"herbtrace/pkg/domain"

	"go.uber.org/zap"
)

// EventSpec describes an event to record. A zero Timestamp means now.
type EventSpec struct {
	Kind        domain.EntityKind
	EntityID    string
	Type        domain.EventType
	Operator    string
	Location    domain.Location
	Payload     map[string]any
	Notes       string
	Attachments []string
	Timestamp   time.Time
}

// entityRef is a resolved lot or plant addressed under a given kind.
type entityRef struct {
	kind  domain.EntityKind
	lot   *domain.Lot
	plant *domain.Plant
}

func (r entityRef) id() string {
	if r.plant != nil {
		return r.plant.ID
	}
	return r.lot.ID
}

func (r entityRef) location() domain.Location {
	if r.plant != nil {
		return r.plant.Location
	}
	return r.lot.Location
}

type entityFinder interface {
	FindLot(id string) (domain.Lot, bool)
	FindPlant(id string) (domain.Plant, bool)
}

// resolveEntity looks up id under kind. The product kind only addresses
// product lots, while the lot kind addresses any lot. The returned ref always
// carries the stored entity's own kind.
func resolveEntity(view entityFinder, kind domain.EntityKind, id string) (entityRef, error) {
	switch kind {
	case domain.EntityLot, domain.EntityProduct:
		lot, ok := view.FindLot(id)
		if !ok || (kind == domain.EntityProduct && lot.Type != domain.LotTypeProduct) {
			return entityRef{}, domain.NotFoundError{Kind: string(kind), ID: id}
		}
		return entityRef{kind: lot.Kind(), lot: &lot}, nil
	case domain.EntityPlant:
		plant, ok := view.FindPlant(id)
		if !ok {
			return entityRef{}, domain.NotFoundError{Kind: string(kind), ID: id}
		}
		return entityRef{kind: kind, plant: &plant}, nil
	default:
		return entityRef{}, domain.ValidationError{Field: "entity_kind", Reason: fmt.Sprintf("unknown entity kind %q", kind)}
	}
}

// findAny resolves an id as a lot first, then as a plant.
func findAny(view entityFinder, id string) (entityRef, bool) {
	if lot, ok := view.FindLot(id); ok {
		return entityRef{kind: lot.Kind(), lot: &lot}, true
	}
	if plant, ok := view.FindPlant(id); ok {
		return entityRef{kind: domain.EntityPlant, plant: &plant}, true
	}
	return entityRef{}, false
}

func validateLocation(field string, loc domain.Location) error {
	if loc.Latitude != nil && (math.IsNaN(*loc.Latitude) || *loc.Latitude < -90 || *loc.Latitude > 90) {
		return domain.ValidationError{Field: field + ".latitude", Reason: "must be within [-90, 90]"}
	}
	if loc.Longitude != nil && (math.IsNaN(*loc.Longitude) || *loc.Longitude < -180 || *loc.Longitude > 180) {
		return domain.ValidationError{Field: field + ".longitude", Reason: "must be within [-180, 180]"}
	}
	return nil
}

func (s *Service) validateEventSpec(ctx context.Context, spec EventSpec) error {
	if !spec.Kind.Valid() {
		return domain.ValidationError{Field: "entity_kind", Reason: fmt.Sprintf("unknown entity kind %q", spec.Kind)}
	}
	if strings.TrimSpace(spec.EntityID) == "" {
		return domain.ValidationError{Field: "entity_id", Reason: "is required"}
	}
	if strings.TrimSpace(spec.Operator) == "" {
		return domain.ValidationError{Field: "operator", Reason: "is required"}
	}
	if !domain.AllowsEvent(spec.Kind, spec.Type) {
		return domain.InvalidEventError{Kind: spec.Kind, Type: spec.Type}
	}
	if spec.Type == domain.EventStageChanged {
		if _, ok := status.StageFromPayload(spec.Payload); !ok {
			return domain.ValidationError{Field: "payload.stage", Reason: "must name a valid plant stage"}
		}
	}
	if err := validateLocation("location", spec.Location); err != nil {
		return err
	}
	if s.resolver != nil {
		for _, key := range spec.Attachments {
			if err := s.resolver.ResolveAttachment(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordEvent appends an event for an existing entity, seals it in the audit
// trail and refreshes the entity's cached projection in one transaction.
func (s *Service) RecordEvent(ctx context.Context, spec EventSpec) (evt domain.Event, entry domain.AuditEntry, err error) {
	defer s.observe(ctx, "record_event", time.Now(), &err)
	if err = s.validateEventSpec(ctx, spec); err != nil {
		return domain.Event{}, domain.AuditEntry{}, err
	}
	release, err := s.lock(ctx, spec.EntityID)
	if err != nil {
		return domain.Event{}, domain.AuditEntry{}, err
	}
	defer release()

	ts := spec.Timestamp
	if ts.IsZero() {
		ts = s.clock()
	}
	err = s.run(ctx, "record_event", func(tx domain.Transaction) error {
		ref, err := resolveEntity(tx, spec.Kind, spec.EntityID)
		if err != nil {
			return err
		}
		if !domain.AllowsEvent(ref.kind, spec.Type) {
			return domain.InvalidEventError{Kind: ref.kind, Type: spec.Type}
		}
		evt, entry, err = s.appendEvent(tx, domain.Event{
			EntityKind:  ref.kind,
			EntityID:    spec.EntityID,
			Type:        spec.Type,
			Timestamp:   ts.UTC(),
			Operator:    spec.Operator,
			Location:    spec.Location,
			Payload:     maps.Clone(spec.Payload),
			Notes:       spec.Notes,
			Attachments: slices.Clone(spec.Attachments),
		})
		if err != nil {
			return err
		}
		_, _, err = s.reprojectTx(tx, ref, true)
		return err
	})
	if err != nil {
		return domain.Event{}, domain.AuditEntry{}, err
	}
	s.publish(ctx, evt)
	return evt, entry, nil
}

// appendEvent stores evt and the audit entry sealing it.
func (s *Service) appendEvent(tx domain.Transaction, evt domain.Event) (domain.Event, domain.AuditEntry, error) {
	stored, err := tx.AppendEvent(evt)
	if err != nil {
		return domain.Event{}, domain.AuditEntry{}, err
	}
	prev := lastAudit(tx.Snapshot().AuditFor(stored.EntityID))
	entry, err := s.hasher.NewEntry(stored, prev, s.clock())
	if err != nil {
		return domain.Event{}, domain.AuditEntry{}, err
	}
	entry, err = tx.AppendAudit(entry)
	if err != nil {
		return domain.Event{}, domain.AuditEntry{}, err
	}
	return stored, entry, nil
}

func lastAudit(entries []domain.AuditEntry) *domain.AuditEntry {
	var last *domain.AuditEntry
	for i := range entries {
		if last == nil || entries[i].Seq > last.Seq {
			last = &entries[i]
		}
	}
	return last
}

// reprojectTx recomputes the projection of ref from its full history and
// writes it back. When force is false the entity is only written if a cached
// value drifted.
func (s *Service) reprojectTx(tx domain.Transaction, ref entityRef, force bool) (status.Projection, bool, error) {
	events := tx.Snapshot().EventsFor(ref.id())
	proj := status.Project(ref.kind, events)
	if ref.plant != nil {
		plantedAt := firstOf(events, domain.EventPlanted)
		changed := ref.plant.Status != proj.Status || ref.plant.Active != proj.Active || ref.plant.Stage != proj.Stage ||
			(ref.plant.PlantedAt == nil && plantedAt != nil)
		if !changed && !force {
			return proj, false, nil
		}
		_, err := tx.UpdatePlant(ref.id(), func(p *domain.Plant) error {
			proj.ApplyPlant(p)
			if p.PlantedAt == nil && plantedAt != nil {
				p.PlantedAt = plantedAt
			}
			return nil
		})
		return proj, changed, err
	}
	changed := ref.lot.Status != proj.Status || ref.lot.Active != proj.Active
	if !changed && !force {
		return proj, false, nil
	}
	_, err := tx.UpdateLot(ref.id(), func(l *domain.Lot) error {
		proj.Apply(l)
		return nil
	})
	return proj, changed, err
}

func firstOf(events []domain.Event, t domain.EventType) *time.Time {
	for _, evt := range events {
		if evt.Type == t {
			ts := evt.Timestamp
			return &ts
		}
	}
	return nil
}

// ReprojectResult reports the outcome of a projection rebuild.
type ReprojectResult struct {
	Kind       domain.EntityKind
	EntityID   string
	Projection status.Projection
	Repaired   bool
}

// Reproject recomputes an entity's cached status, active flag and stage from
// its history. It is idempotent and only writes when the cache drifted.
func (s *Service) Reproject(ctx context.Context, kind domain.EntityKind, id string) (out ReprojectResult, err error) {
	defer s.observe(ctx, "reproject", time.Now(), &err)
	release, err := s.lock(ctx, id)
	if err != nil {
		return ReprojectResult{}, err
	}
	defer release()
	err = s.run(ctx, "reproject", func(tx domain.Transaction) error {
		ref, err := resolveEntity(tx, kind, id)
		if err != nil {
			return err
		}
		proj, changed, err := s.reprojectTx(tx, ref, false)
		if err != nil {
			return err
		}
		out = ReprojectResult{Kind: ref.kind, EntityID: id, Projection: proj, Repaired: changed}
		return nil
	})
	if err != nil {
		return ReprojectResult{}, err
	}
	if out.Repaired {
		s.logger.Info("projection repaired", zap.String("entity_id", id), zap.String("status", string(out.Projection.Status)))
	}
	return out, nil
}
