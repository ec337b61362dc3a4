package domain

import "context"

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope. Events and audit entries are append-only.
type Transaction interface {
	Snapshot() TransactionView
	CreateLot(Lot) (Lot, error)
	UpdateLot(id string, mutator func(*Lot) error) (Lot, error)
	CreatePlant(Plant) (Plant, error)
	UpdatePlant(id string, mutator func(*Plant) error) (Plant, error)
	AppendEvent(Event) (Event, error)
	AppendAudit(AuditEntry) (AuditEntry, error)
	CreateQRCode(QRCode) (QRCode, error)
	UpdateQRCode(id string, mutator func(*QRCode) error) (QRCode, error)
	FindLot(id string) (Lot, bool)
	FindPlant(id string) (Plant, bool)
	FindQRCode(id string) (QRCode, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// query paths.
type TransactionView interface {
	RuleView
	FindLotByNumber(number string) (Lot, bool)
	FindPlantByTag(tag string) (Plant, bool)
	FindEvent(id string) (Event, bool)
	// EventsFor returns the events of an entity ordered by timestamp then id.
	EventsFor(entityID string) []Event
	// AuditFor returns the audit entries of an entity in commit order.
	AuditFor(entityID string) []AuditEntry
	// AuditEntityIDs returns the ids of every entity with audit entries, sorted.
	AuditEntityIDs() []string
	FindQRCode(id string) (QRCode, bool)
	QRCodesFor(entityID string) []QRCode
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetLot(id string) (Lot, bool)
	GetPlant(id string) (Plant, bool)
	ListLots() []Lot
	ListPlants() []Plant
}
