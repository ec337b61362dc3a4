// Package domain defines the traceability records, closed vocabularies, error
// kinds and rule evaluation primitives used by herbtrace.
package domain

import "time"

// EntityKind identifies the kind of record an event or QR code refers to.
type EntityKind string

// Supported entity kinds.
const (
	// EntityLot identifies a batch-tracked lot of any type.
	EntityLot EntityKind = "lot"
	// EntityPlant identifies an individually tagged plant.
	EntityPlant EntityKind = "plant"
	// EntityProduct identifies a lot whose type is product_lot.
	EntityProduct EntityKind = "product"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityLot, EntityPlant, EntityProduct:
		return true
	}
	return false
}

// LotType classifies a lot along the seed to product chain.
type LotType string

// Lot types in ascending propagation order.
const (
	LotTypeSeed    LotType = "seed_lot"
	LotTypePlant   LotType = "plant_lot"
	LotTypeHarvest LotType = "harvest_lot"
	LotTypeProduct LotType = "product_lot"
)

var lotTypeRanks = map[LotType]int{
	LotTypeSeed:    1,
	LotTypePlant:   2,
	LotTypeHarvest: 3,
	LotTypeProduct: 4,
}

// Rank returns the position of t in the seed to product chain, or 0 when t is unknown.
func (t LotType) Rank() int { return lotTypeRanks[t] }

// Valid reports whether t is a known lot type.
func (t LotType) Valid() bool { return t.Rank() > 0 }

// Prefix returns the lot number prefix for t.
func (t LotType) Prefix() string {
	switch t {
	case LotTypeSeed:
		return "SD"
	case LotTypePlant:
		return "PL"
	case LotTypeHarvest:
		return "HV"
	case LotTypeProduct:
		return "PR"
	}
	return "LT"
}

// PlantStage is the cultivation stage of a plant.
type PlantStage string

// Plant stages.
const (
	StageSeedling   PlantStage = "seedling"
	StageVegetative PlantStage = "vegetative"
	StageFlowering  PlantStage = "flowering"
	StageHarvested  PlantStage = "harvested"
	StageDestroyed  PlantStage = "destroyed"
)

// Valid reports whether s is a known plant stage.
func (s PlantStage) Valid() bool {
	switch s {
	case StageSeedling, StageVegetative, StageFlowering, StageHarvested, StageDestroyed:
		return true
	}
	return false
}

// Status is the lifecycle status derived from an entity's event history.
type Status string

// Lifecycle statuses. StatusActive is the status of a freshly created entity.
const (
	StatusActive    Status = "active"
	StatusPlanted   Status = "planted"
	StatusGrowing   Status = "growing"
	StatusHarvested Status = "harvested"
	StatusProcessed Status = "processed"
	StatusPackaged  Status = "packaged"
	StatusInTransit Status = "in_transit"
	StatusReceived  Status = "received"
	StatusSold      Status = "sold"
)

var statusRanks = map[Status]int{
	StatusActive:    1,
	StatusPlanted:   2,
	StatusGrowing:   3,
	StatusHarvested: 4,
	StatusProcessed: 5,
	StatusPackaged:  6,
	StatusInTransit: 7,
	StatusReceived:  8,
	StatusSold:      9,
}

// Rank returns the lifecycle position of s, or 0 for an unknown status.
func (s Status) Rank() int { return statusRanks[s] }

// Base contains common fields for all stored records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location describes where an entity or event is situated.
type Location struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// IsZero reports whether no location information is present.
func (l Location) IsZero() bool {
	return l.Name == "" && l.Latitude == nil && l.Longitude == nil
}

// Lot is a batch of seed, plants, harvested material or packaged product.
type Lot struct {
	Base
	LotNumber   string            `json:"lot_number"`
	Type        LotType           `json:"type"`
	Species     string            `json:"species"`
	Variety     string            `json:"variety"`
	ParentLotID *string           `json:"parent_lot_id"`
	Quantity    float64           `json:"quantity"`
	Unit        string            `json:"unit"`
	Location    Location          `json:"location"`
	Operator    string            `json:"operator"`
	SourceData  map[string]string `json:"source_data"`
	QualityData map[string]string `json:"quality_data"`
	Status      Status            `json:"status"`
	Active      bool              `json:"active"`
}

// Kind returns the entity kind under which l is addressed.
func (l Lot) Kind() EntityKind {
	if l.Type == LotTypeProduct {
		return EntityProduct
	}
	return EntityLot
}

// Plant is an individually tagged cultivation unit.
type Plant struct {
	Base
	PlantTag      string     `json:"plant_tag"`
	LotID         string     `json:"lot_id"`
	Species       string     `json:"species"`
	Variety       string     `json:"variety"`
	Stage         PlantStage `json:"stage"`
	Location      Location   `json:"location"`
	PlantedAt     *time.Time `json:"planted_at"`
	Operator      string     `json:"operator"`
	MotherPlantID *string    `json:"mother_plant_id"`
	Status        Status     `json:"status"`
	Active        bool       `json:"active"`
}

// QRStatus is the lifecycle state of a QR code.
type QRStatus string

// QR code statuses.
const (
	QRActive  QRStatus = "active"
	QRRevoked QRStatus = "revoked"
)

// QRCode binds a scannable tag to an entity.
type QRCode struct {
	ID               string     `json:"id"`
	EntityKind       EntityKind `json:"entity_kind"`
	EntityID         string     `json:"entity_id"`
	Version          int        `json:"version"`
	Token            string     `json:"token"`
	VerificationURL  string     `json:"verification_url"`
	Issuer           string     `json:"issuer"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	SecurityHash     string     `json:"security_hash"`
	Status           QRStatus   `json:"status"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

// ActiveAt reports whether the code is active and unexpired at t.
func (q QRCode) ActiveAt(t time.Time) bool {
	if q.Status != QRActive {
		return false
	}
	if q.ExpiresAt != nil && !t.Before(*q.ExpiresAt) {
		return false
	}
	return true
}

// RecordKind identifies what an audit entry wraps.
type RecordKind string

// RecordEvent marks an audit entry wrapping an Event.
const RecordEvent RecordKind = "event"

// AuditEntry is the tamper-evidence wrapper around a recorded event. The
// copied event fields are the hashed content. Seq numbers an entity's entries
// in commit order starting at 1.
type AuditEntry struct {
	ID             string     `json:"id"`
	Timestamp      time.Time  `json:"timestamp"`
	RecordKind     RecordKind `json:"record_kind"`
	RecordID       string     `json:"record_id"`
	EntityKind     EntityKind `json:"entity_kind"`
	EntityID       string     `json:"entity_id"`
	Seq            int        `json:"seq"`
	EventType      EventType  `json:"event_type"`
	EventTimestamp time.Time  `json:"event_timestamp"`
	Operator       string     `json:"operator"`
	PrevHash       string     `json:"prev_hash,omitempty"`
	Hash           string     `json:"hash"`
	Verified       bool       `json:"verified"`
}
