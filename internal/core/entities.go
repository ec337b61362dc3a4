package core

import (
	"context"
	"fmt"
	"maps"
	"math"
	"strings"
	"time"

	"herbtrace/pkg/domain"
)

// maxIdentifierAttempts bounds lot number and plant tag regeneration.
const maxIdentifierAttempts = 8

// LotSpec describes a lot to create.
type LotSpec struct {
	Type        domain.LotType
	Species     string
	Variety     string
	ParentLotID string
	Quantity    float64
	Unit        string
	Location    domain.Location
	Operator    string
	SourceData  map[string]string
	QualityData map[string]string
}

// PlantSpec describes a plant to tag. Empty species and variety are inherited
// from the originating lot; an empty stage means seedling.
type PlantSpec struct {
	LotID         string
	Species       string
	Variety       string
	Stage         domain.PlantStage
	Location      domain.Location
	PlantedAt     *time.Time
	Operator      string
	MotherPlantID string
}

// LotPatch lists administrative corrections. Nil fields are left unchanged;
// map entries are merged, and an empty value removes the key.
type LotPatch struct {
	Species     *string
	Variety     *string
	Quantity    *float64
	Unit        *string
	Location    *domain.Location
	SourceData  map[string]string
	QualityData map[string]string
}

// LotFilter selects lots by exact match. Zero fields match everything.
type LotFilter struct {
	Type    domain.LotType
	Status  domain.Status
	Species string
	Active  *bool
}

// PlantFilter selects plants by exact match. Zero fields match everything.
type PlantFilter struct {
	LotID   string
	Status  domain.Status
	Species string
	Stage   domain.PlantStage
	Active  *bool
}

// Page is an offset/limit window.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// LotPage is one page of lots with the total match count.
type LotPage struct {
	Items  []domain.Lot
	Total  int
	Offset int
	Limit  int
}

// PlantPage is one page of plants with the total match count.
type PlantPage struct {
	Items  []domain.Plant
	Total  int
	Offset int
	Limit  int
}

func window[T any](items []T, p Page) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := min(p.Offset+p.Limit, len(items))
	return items[p.Offset:end]
}

func (spec LotSpec) validate() error {
	if !spec.Type.Valid() {
		return domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown lot type %q", spec.Type)}
	}
	if strings.TrimSpace(spec.Species) == "" {
		return domain.ValidationError{Field: "species", Reason: "is required"}
	}
	if math.IsNaN(spec.Quantity) || math.IsInf(spec.Quantity, 0) || spec.Quantity < 0 {
		return domain.ValidationError{Field: "quantity", Reason: "must be a finite number >= 0"}
	}
	if strings.TrimSpace(spec.Operator) == "" {
		return domain.ValidationError{Field: "operator", Reason: "is required"}
	}
	return validateLocation("location", spec.Location)
}

// CreateLot stores a lot together with its LOT_CREATED event, the audit entry
// sealing it and a freshly issued QR code. Nothing is stored if any step fails.
func (s *Service) CreateLot(ctx context.Context, spec LotSpec) (lot domain.Lot, code domain.QRCode, err error) {
	defer s.observe(ctx, "create_lot", time.Now(), &err)
	if err = spec.validate(); err != nil {
		return domain.Lot{}, domain.QRCode{}, err
	}
	var created domain.Event
	err = s.run(ctx, "create_lot", func(tx domain.Transaction) error {
		now := s.clock()
		var parent *string
		if spec.ParentLotID != "" {
			if _, ok := tx.FindLot(spec.ParentLotID); !ok {
				return domain.ValidationError{Field: "parent_lot_id", Reason: fmt.Sprintf("references unknown lot %s", spec.ParentLotID)}
			}
			p := spec.ParentLotID
			parent = &p
		}
		number, err := uniqueIdentifier(func() string { return domain.NewLotNumber(spec.Type, now) }, func(n string) bool {
			_, taken := tx.Snapshot().FindLotByNumber(n)
			return taken
		})
		if err != nil {
			return err
		}
		lot, err = tx.CreateLot(domain.Lot{
			Base:        domain.Base{ID: domain.NewID()},
			LotNumber:   number,
			Type:        spec.Type,
			Species:     strings.TrimSpace(spec.Species),
			Variety:     spec.Variety,
			ParentLotID: parent,
			Quantity:    spec.Quantity,
			Unit:        spec.Unit,
			Location:    spec.Location,
			Operator:    spec.Operator,
			SourceData:  maps.Clone(spec.SourceData),
			QualityData: maps.Clone(spec.QualityData),
			Status:      domain.StatusActive,
			Active:      true,
		})
		if err != nil {
			return err
		}
		payload := map[string]any{
			"lot_number": lot.LotNumber,
			"type":       string(lot.Type),
			"species":    lot.Species,
			"quantity":   lot.Quantity,
			"unit":       lot.Unit,
		}
		if parent != nil {
			payload["parent_lot_id"] = *parent
		}
		created, _, err = s.appendEvent(tx, domain.Event{
			EntityKind: lot.Kind(),
			EntityID:   lot.ID,
			Type:       domain.EventLotCreated,
			Timestamp:  now,
			Operator:   spec.Operator,
			Location:   spec.Location,
			Payload:    payload,
		})
		if err != nil {
			return err
		}
		code, err = s.issueQRTx(tx, lot.Kind(), lot.ID, now)
		return err
	})
	if err != nil {
		return domain.Lot{}, domain.QRCode{}, err
	}
	s.publish(ctx, created)
	return lot, code, nil
}

// CreatePlant tags a plant under an existing lot, recording PLANT_TAGGED, its
// audit entry and a QR code in one transaction.
func (s *Service) CreatePlant(ctx context.Context, spec PlantSpec) (plant domain.Plant, code domain.QRCode, err error) {
	defer s.observe(ctx, "create_plant", time.Now(), &err)
	if strings.TrimSpace(spec.LotID) == "" {
		return domain.Plant{}, domain.QRCode{}, domain.ValidationError{Field: "lot_id", Reason: "is required"}
	}
	if strings.TrimSpace(spec.Operator) == "" {
		return domain.Plant{}, domain.QRCode{}, domain.ValidationError{Field: "operator", Reason: "is required"}
	}
	stage := spec.Stage
	if stage == "" {
		stage = domain.StageSeedling
	}
	if !stage.Valid() || stage == domain.StageHarvested || stage == domain.StageDestroyed {
		return domain.Plant{}, domain.QRCode{}, domain.ValidationError{Field: "stage", Reason: fmt.Sprintf("cannot tag a plant at stage %q", spec.Stage)}
	}
	if err = validateLocation("location", spec.Location); err != nil {
		return domain.Plant{}, domain.QRCode{}, err
	}

	var tagged domain.Event
	err = s.run(ctx, "create_plant", func(tx domain.Transaction) error {
		now := s.clock()
		lot, ok := tx.FindLot(spec.LotID)
		if !ok {
			return domain.NotFoundError{Kind: string(domain.EntityLot), ID: spec.LotID}
		}
		var mother *string
		if spec.MotherPlantID != "" {
			if _, ok := tx.FindPlant(spec.MotherPlantID); !ok {
				return domain.NotFoundError{Kind: string(domain.EntityPlant), ID: spec.MotherPlantID}
			}
			m := spec.MotherPlantID
			mother = &m
		}
		tag, err := uniqueIdentifier(func() string { return domain.NewPlantTag(now) }, func(t string) bool {
			_, taken := tx.Snapshot().FindPlantByTag(t)
			return taken
		})
		if err != nil {
			return err
		}
		species := strings.TrimSpace(spec.Species)
		if species == "" {
			species = lot.Species
		}
		variety := spec.Variety
		if variety == "" {
			variety = lot.Variety
		}
		plant, err = tx.CreatePlant(domain.Plant{
			Base:          domain.Base{ID: domain.NewID()},
			PlantTag:      tag,
			LotID:         lot.ID,
			Species:       species,
			Variety:       variety,
			Stage:         stage,
			Location:      spec.Location,
			PlantedAt:     spec.PlantedAt,
			Operator:      spec.Operator,
			MotherPlantID: mother,
			Status:        domain.StatusActive,
			Active:        true,
		})
		if err != nil {
			return err
		}
		tagged, _, err = s.appendEvent(tx, domain.Event{
			EntityKind: domain.EntityPlant,
			EntityID:   plant.ID,
			Type:       domain.EventPlantTagged,
			Timestamp:  now,
			Operator:   spec.Operator,
			Location:   spec.Location,
			Payload: map[string]any{
				"plant_tag": plant.PlantTag,
				"lot_id":    plant.LotID,
				"species":   plant.Species,
				"stage":     string(plant.Stage),
			},
		})
		if err != nil {
			return err
		}
		code, err = s.issueQRTx(tx, domain.EntityPlant, plant.ID, now)
		return err
	})
	if err != nil {
		return domain.Plant{}, domain.QRCode{}, err
	}
	s.publish(ctx, tagged)
	return plant, code, nil
}

func uniqueIdentifier(generate func() string, taken func(string) bool) (string, error) {
	for range maxIdentifierAttempts {
		if id := generate(); !taken(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique identifier after %d attempts", maxIdentifierAttempts)
}

// GetLot returns a lot by id.
func (s *Service) GetLot(ctx context.Context, id string) (domain.Lot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lot{}, err
	}
	lot, ok := s.store.GetLot(id)
	if !ok {
		return domain.Lot{}, domain.NotFoundError{Kind: string(domain.EntityLot), ID: id}
	}
	return lot, nil
}

// GetPlant returns a plant by id.
func (s *Service) GetPlant(ctx context.Context, id string) (domain.Plant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Plant{}, err
	}
	plant, ok := s.store.GetPlant(id)
	if !ok {
		return domain.Plant{}, domain.NotFoundError{Kind: string(domain.EntityPlant), ID: id}
	}
	return plant, nil
}

// ListLots returns lots matching filter ordered by creation time then id.
func (s *Service) ListLots(ctx context.Context, filter LotFilter, page Page) (LotPage, error) {
	if err := ctx.Err(); err != nil {
		return LotPage{}, err
	}
	page = page.normalize()
	var matched []domain.Lot
	for _, lot := range s.store.ListLots() {
		if filter.Type != "" && lot.Type != filter.Type ||
			filter.Status != "" && lot.Status != filter.Status ||
			filter.Species != "" && lot.Species != filter.Species ||
			filter.Active != nil && lot.Active != *filter.Active {
			continue
		}
		matched = append(matched, lot)
	}
	return LotPage{Items: window(matched, page), Total: len(matched), Offset: page.Offset, Limit: page.Limit}, nil
}

// ListPlants returns plants matching filter ordered by creation time then id.
func (s *Service) ListPlants(ctx context.Context, filter PlantFilter, page Page) (PlantPage, error) {
	if err := ctx.Err(); err != nil {
		return PlantPage{}, err
	}
	page = page.normalize()
	var matched []domain.Plant
	for _, plant := range s.store.ListPlants() {
		if filter.LotID != "" && plant.LotID != filter.LotID ||
			filter.Status != "" && plant.Status != filter.Status ||
			filter.Species != "" && plant.Species != filter.Species ||
			filter.Stage != "" && plant.Stage != filter.Stage ||
			filter.Active != nil && plant.Active != *filter.Active {
			continue
		}
		matched = append(matched, plant)
	}
	return PlantPage{Items: window(matched, page), Total: len(matched), Offset: page.Offset, Limit: page.Limit}, nil
}

// UpdateLotFields applies an administrative correction and records it as a
// LOT_UPDATED event carrying the before and after values of changed fields.
func (s *Service) UpdateLotFields(ctx context.Context, id string, patch LotPatch, operator string) (lot domain.Lot, evt domain.Event, err error) {
	defer s.observe(ctx, "update_lot_fields", time.Now(), &err)
	if strings.TrimSpace(operator) == "" {
		return domain.Lot{}, domain.Event{}, domain.ValidationError{Field: "operator", Reason: "is required"}
	}
	if err = patch.validate(); err != nil {
		return domain.Lot{}, domain.Event{}, err
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return domain.Lot{}, domain.Event{}, err
	}
	defer release()

	err = s.run(ctx, "update_lot_fields", func(tx domain.Transaction) error {
		current, ok := tx.FindLot(id)
		if !ok {
			return domain.NotFoundError{Kind: string(domain.EntityLot), ID: id}
		}
		before, after := map[string]any{}, map[string]any{}
		lot, err = tx.UpdateLot(id, func(l *domain.Lot) error {
			patch.apply(l, before, after)
			return nil
		})
		if err != nil {
			return err
		}
		if len(after) == 0 {
			return domain.ValidationError{Field: "patch", Reason: "changes nothing"}
		}
		evt, _, err = s.appendEvent(tx, domain.Event{
			EntityKind: current.Kind(),
			EntityID:   id,
			Type:       domain.EventLotUpdated,
			Timestamp:  s.clock(),
			Operator:   operator,
			Location:   lot.Location,
			Payload:    map[string]any{"before": before, "after": after},
		})
		if err != nil {
			return err
		}
		ref := entityRef{kind: current.Kind(), lot: &lot}
		_, _, err = s.reprojectTx(tx, ref, false)
		return err
	})
	if err != nil {
		return domain.Lot{}, domain.Event{}, err
	}
	if refreshed, ok := s.store.GetLot(id); ok {
		lot = refreshed
	}
	s.publish(ctx, evt)
	return lot, evt, nil
}

func (p LotPatch) validate() error {
	if p.Species != nil && strings.TrimSpace(*p.Species) == "" {
		return domain.ValidationError{Field: "species", Reason: "cannot be empty"}
	}
	if p.Quantity != nil && (math.IsNaN(*p.Quantity) || math.IsInf(*p.Quantity, 0) || *p.Quantity < 0) {
		return domain.ValidationError{Field: "quantity", Reason: "must be a finite number >= 0"}
	}
	if p.Location != nil {
		return validateLocation("location", *p.Location)
	}
	return nil
}

func (p LotPatch) apply(l *domain.Lot, before, after map[string]any) {
	set := func(field string, old, updated any) {
		before[field] = old
		after[field] = updated
	}
	if p.Species != nil {
		if species := strings.TrimSpace(*p.Species); species != l.Species {
			set("species", l.Species, species)
			l.Species = species
		}
	}
	if p.Variety != nil && *p.Variety != l.Variety {
		set("variety", l.Variety, *p.Variety)
		l.Variety = *p.Variety
	}
	if p.Quantity != nil && *p.Quantity != l.Quantity {
		set("quantity", l.Quantity, *p.Quantity)
		l.Quantity = *p.Quantity
	}
	if p.Unit != nil && *p.Unit != l.Unit {
		set("unit", l.Unit, *p.Unit)
		l.Unit = *p.Unit
	}
	if p.Location != nil && !sameLocation(*p.Location, l.Location) {
		set("location", l.Location, *p.Location)
		l.Location = *p.Location
	}
	if merged, changed := mergeStrings(l.SourceData, p.SourceData); changed {
		set("source_data", maps.Clone(l.SourceData), maps.Clone(merged))
		l.SourceData = merged
	}
	if merged, changed := mergeStrings(l.QualityData, p.QualityData); changed {
		set("quality_data", maps.Clone(l.QualityData), maps.Clone(merged))
		l.QualityData = merged
	}
}

func sameLocation(a, b domain.Location) bool {
	eq := func(x, y *float64) bool {
		if x == nil || y == nil {
			return x == y
		}
		return *x == *y
	}
	return a.Name == b.Name && eq(a.Latitude, b.Latitude) && eq(a.Longitude, b.Longitude)
}

func mergeStrings(base, patch map[string]string) (map[string]string, bool) {
	if len(patch) == 0 {
		return base, false
	}
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string, len(patch))
	}
	changed := false
	for k, v := range patch {
		old, exists := out[k]
		switch {
		case v == "" && exists:
			delete(out, k)
			changed = true
		case v != "" && (!exists || old != v):
			out[k] = v
			changed = true
		}
	}
	return out, changed
}

// ChildrenOf returns the lots whose parent is lotID.
func (s *Service) ChildrenOf(ctx context.Context, lotID string) ([]domain.Lot, error) {
	if _, err := s.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	out := []domain.Lot{}
	for _, lot := range s.store.ListLots() {
		if lot.ParentLotID != nil && *lot.ParentLotID == lotID {
			out = append(out, lot)
		}
	}
	return out, nil
}

// PlantsOfLot returns the plants tagged under lotID.
func (s *Service) PlantsOfLot(ctx context.Context, lotID string) ([]domain.Plant, error) {
	if _, err := s.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	out := []domain.Plant{}
	for _, plant := range s.store.ListPlants() {
		if plant.LotID == lotID {
			out = append(out, plant)
		}
	}
	return out, nil
}

// LineageOf returns the ancestor chain of lotID, root first, ending with the
// lot itself.
func (s *Service) LineageOf(ctx context.Context, lotID string) ([]domain.Lot, error) {
	var chain []domain.Lot
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		lot, ok := v.FindLot(lotID)
		if !ok {
			return domain.NotFoundError{Kind: string(domain.EntityLot), ID: lotID}
		}
		seen := map[string]struct{}{}
		for {
			if _, loop := seen[lot.ID]; loop {
				return fmt.Errorf("lineage of %s forms a cycle at %s", lotID, lot.ID)
			}
			seen[lot.ID] = struct{}{}
			chain = append(chain, lot)
			if lot.ParentLotID == nil || *lot.ParentLotID == "" {
				break
			}
			parent, ok := v.FindLot(*lot.ParentLotID)
			if !ok {
				break
			}
			lot = parent
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
