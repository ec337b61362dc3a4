// Package memory provides an in-memory implementation of the traceability
// store used for tests and ephemeral environments. The sqlite and postgres
// stores embed it and snapshot its state after every commit.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"herbtrace/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Lot aliases domain.Lot for in-memory persistence operations.
	Lot = domain.Lot
	// Plant aliases domain.Plant.
	Plant = domain.Plant
	// Event aliases domain.Event.
	Event = domain.Event
	// AuditEntry aliases domain.AuditEntry.
	AuditEntry = domain.AuditEntry
	// QRCode aliases domain.QRCode.
	QRCode = domain.QRCode
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// memoryState holds committed records plus per-entity indexes. Events and
// audit entries are immutable once appended so transactions copy the maps
// but share the values.
type memoryState struct {
	lots    map[string]Lot
	plants  map[string]Plant
	events  map[string]Event
	audit   map[string]AuditEntry
	qrcodes map[string]QRCode

	eventsByEntity map[string][]string
	auditByEntity  map[string][]string
	qrByEntity     map[string][]string
	lotNumbers     map[string]string
	plantTags      map[string]string
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Lots    map[string]Lot        `json:"lots"`
	Plants  map[string]Plant      `json:"plants"`
	Events  map[string]Event      `json:"events"`
	Audit   map[string]AuditEntry `json:"audit"`
	QRCodes map[string]QRCode     `json:"qrcodes"`
}

func newMemoryState() memoryState {
	return memoryState{
		lots:           make(map[string]Lot),
		plants:         make(map[string]Plant),
		events:         make(map[string]Event),
		audit:          make(map[string]AuditEntry),
		qrcodes:        make(map[string]QRCode),
		eventsByEntity: make(map[string][]string),
		auditByEntity:  make(map[string][]string),
		qrByEntity:     make(map[string][]string),
		lotNumbers:     make(map[string]string),
		plantTags:      make(map[string]string),
	}
}

func (s memoryState) clone() memoryState {
	return memoryState{
		lots:           cloneMap(s.lots),
		plants:         cloneMap(s.plants),
		events:         cloneMap(s.events),
		audit:          cloneMap(s.audit),
		qrcodes:        cloneMap(s.qrcodes),
		eventsByEntity: cloneMap(s.eventsByEntity),
		auditByEntity:  cloneMap(s.auditByEntity),
		qrByEntity:     cloneMap(s.qrByEntity),
		lotNumbers:     cloneMap(s.lotNumbers),
		plantTags:      cloneMap(s.plantTags),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	return cloneMap(in)
}

func cloneLocation(l domain.Location) domain.Location {
	if l.Latitude != nil {
		lat := *l.Latitude
		l.Latitude = &lat
	}
	if l.Longitude != nil {
		lon := *l.Longitude
		l.Longitude = &lon
	}
	return l
}

func cloneLot(l Lot) Lot {
	if l.ParentLotID != nil {
		parent := *l.ParentLotID
		l.ParentLotID = &parent
	}
	l.Location = cloneLocation(l.Location)
	l.SourceData = cloneStrings(l.SourceData)
	l.QualityData = cloneStrings(l.QualityData)
	return l
}

func clonePlant(p Plant) Plant {
	if p.MotherPlantID != nil {
		mother := *p.MotherPlantID
		p.MotherPlantID = &mother
	}
	if p.PlantedAt != nil {
		planted := *p.PlantedAt
		p.PlantedAt = &planted
	}
	p.Location = cloneLocation(p.Location)
	return p
}

func cloneEvent(e Event) Event {
	e.Location = cloneLocation(e.Location)
	if e.Payload != nil {
		e.Payload = cloneMap(e.Payload)
	}
	if e.Attachments != nil {
		e.Attachments = append([]string(nil), e.Attachments...)
	}
	return e
}

func cloneQRCode(q QRCode) QRCode {
	if q.ExpiresAt != nil {
		exp := *q.ExpiresAt
		q.ExpiresAt = &exp
	}
	if q.RevokedAt != nil {
		rev := *q.RevokedAt
		q.RevokedAt = &rev
	}
	return q
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Lots:    make(map[string]Lot, len(state.lots)),
		Plants:  make(map[string]Plant, len(state.plants)),
		Events:  make(map[string]Event, len(state.events)),
		Audit:   cloneMap(state.audit),
		QRCodes: make(map[string]QRCode, len(state.qrcodes)),
	}
	for k, v := range state.lots {
		s.Lots[k] = cloneLot(v)
	}
	for k, v := range state.plants {
		s.Plants[k] = clonePlant(v)
	}
	for k, v := range state.events {
		s.Events[k] = cloneEvent(v)
	}
	for k, v := range state.qrcodes {
		s.QRCodes[k] = cloneQRCode(v)
	}
	return s
}

// memoryStateFromSnapshot rebuilds records and indexes. Index order is
// restored from timestamps for events, sequence numbers for audit entries and
// versions for QR codes.
func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Lots {
		state.lots[k] = cloneLot(v)
		state.lotNumbers[v.LotNumber] = k
	}
	for k, v := range s.Plants {
		state.plants[k] = clonePlant(v)
		state.plantTags[v.PlantTag] = k
	}
	for k, v := range s.Events {
		state.events[k] = cloneEvent(v)
		state.eventsByEntity[v.EntityID] = append(state.eventsByEntity[v.EntityID], k)
	}
	for k, v := range s.Audit {
		state.audit[k] = v
		state.auditByEntity[v.EntityID] = append(state.auditByEntity[v.EntityID], k)
	}
	for k, v := range s.QRCodes {
		state.qrcodes[k] = cloneQRCode(v)
		state.qrByEntity[v.EntityID] = append(state.qrByEntity[v.EntityID], k)
	}
	for entity, ids := range state.auditByEntity {
		sort.SliceStable(ids, func(i, j int) bool {
			a, b := state.audit[ids[i]], state.audit[ids[j]]
			if a.Seq != b.Seq {
				return a.Seq < b.Seq
			}
			return a.ID < b.ID
		})
		state.auditByEntity[entity] = ids
	}
	for entity, ids := range state.qrByEntity {
		sort.SliceStable(ids, func(i, j int) bool {
			return state.qrcodes[ids[i]].Version < state.qrcodes[ids[j]].Version
		})
		state.qrByEntity[entity] = ids
	}
	return state
}

// migrateSnapshot fills missing buckets so older or partial snapshots load.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Lots == nil {
		snapshot.Lots = map[string]Lot{}
	}
	if snapshot.Plants == nil {
		snapshot.Plants = map[string]Plant{}
	}
	if snapshot.Events == nil {
		snapshot.Events = map[string]Event{}
	}
	if snapshot.Audit == nil {
		snapshot.Audit = map[string]AuditEntry{}
	}
	if snapshot.QRCodes == nil {
		snapshot.QRCodes = map[string]QRCode{}
	}
	for id, lot := range snapshot.Lots {
		if lot.ParentLotID != nil && *lot.ParentLotID == "" {
			lot.ParentLotID = nil
			snapshot.Lots[id] = lot
		}
	}
	return snapshot
}

// Store provides an in-memory transactional store for the traceability domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc replaces the clock used to stamp created and updated times.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Nothing is committed when fn fails, a blocking rule fires or ctx is done.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state. Committed
// maps are replaced on commit and never written in place, so the snapshot
// shares them.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindLot exposes lot lookup within the transaction scope.
func (tx *transaction) FindLot(id string) (Lot, bool) {
	return tx.Snapshot().FindLot(id)
}

// FindPlant exposes plant lookup within the transaction scope.
func (tx *transaction) FindPlant(id string) (Plant, bool) {
	return tx.Snapshot().FindPlant(id)
}

// FindQRCode exposes QR lookup within the transaction scope.
func (tx *transaction) FindQRCode(id string) (QRCode, bool) {
	return tx.Snapshot().FindQRCode(id)
}

// CreateLot stores a new lot within the transaction.
func (tx *transaction) CreateLot(l Lot) (Lot, error) {
	if l.ID == "" {
		l.ID = domain.NewID()
	}
	if _, exists := tx.state.lots[l.ID]; exists {
		return Lot{}, fmt.Errorf("lot %q already exists", l.ID)
	}
	if l.LotNumber == "" {
		return Lot{}, domain.ValidationError{Field: "lot number", Reason: "is required"}
	}
	if owner, exists := tx.state.lotNumbers[l.LotNumber]; exists {
		return Lot{}, fmt.Errorf("lot number %q already used by %s", l.LotNumber, owner)
	}
	l.CreatedAt = tx.now
	l.UpdatedAt = tx.now
	tx.state.lots[l.ID] = cloneLot(l)
	tx.state.lotNumbers[l.LotNumber] = l.ID
	tx.recordChange(Change{Kind: domain.EntityLot, Action: domain.ActionCreate, After: cloneLot(l)})
	return cloneLot(l), nil
}

// UpdateLot mutates a lot using the provided mutator function. The id and lot
// number are immutable.
func (tx *transaction) UpdateLot(id string, mutator func(*Lot) error) (Lot, error) {
	current, ok := tx.state.lots[id]
	if !ok {
		return Lot{}, domain.NotFoundError{Kind: string(domain.EntityLot), ID: id}
	}
	before := cloneLot(current)
	current = cloneLot(current)
	if err := mutator(&current); err != nil {
		return Lot{}, err
	}
	current.ID = id
	current.LotNumber = before.LotNumber
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.lots[id] = cloneLot(current)
	tx.recordChange(Change{Kind: domain.EntityLot, Action: domain.ActionUpdate, Before: before, After: cloneLot(current)})
	return cloneLot(current), nil
}

// CreatePlant stores a new plant within the transaction.
func (tx *transaction) CreatePlant(p Plant) (Plant, error) {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	if _, exists := tx.state.plants[p.ID]; exists {
		return Plant{}, fmt.Errorf("plant %q already exists", p.ID)
	}
	if p.PlantTag == "" {
		return Plant{}, domain.ValidationError{Field: "plant tag", Reason: "is required"}
	}
	if owner, exists := tx.state.plantTags[p.PlantTag]; exists {
		return Plant{}, fmt.Errorf("plant tag %q already used by %s", p.PlantTag, owner)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.plants[p.ID] = clonePlant(p)
	tx.state.plantTags[p.PlantTag] = p.ID
	tx.recordChange(Change{Kind: domain.EntityPlant, Action: domain.ActionCreate, After: clonePlant(p)})
	return clonePlant(p), nil
}

// UpdatePlant mutates a plant using the provided mutator function.
func (tx *transaction) UpdatePlant(id string, mutator func(*Plant) error) (Plant, error) {
	current, ok := tx.state.plants[id]
	if !ok {
		return Plant{}, domain.NotFoundError{Kind: string(domain.EntityPlant), ID: id}
	}
	before := clonePlant(current)
	current = clonePlant(current)
	if err := mutator(&current); err != nil {
		return Plant{}, err
	}
	current.ID = id
	current.PlantTag = before.PlantTag
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.plants[id] = clonePlant(current)
	tx.recordChange(Change{Kind: domain.EntityPlant, Action: domain.ActionUpdate, Before: before, After: clonePlant(current)})
	return clonePlant(current), nil
}

// AppendEvent adds an event to the log. Events cannot be replaced.
func (tx *transaction) AppendEvent(e Event) (Event, error) {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if _, exists := tx.state.events[e.ID]; exists {
		return Event{}, fmt.Errorf("event %q already exists", e.ID)
	}
	if e.EntityID == "" {
		return Event{}, domain.ValidationError{Field: "event entity id", Reason: "is required"}
	}
	e.RecordedAt = tx.now
	tx.state.events[e.ID] = cloneEvent(e)
	tx.state.eventsByEntity[e.EntityID] = append(slices.Clip(tx.state.eventsByEntity[e.EntityID]), e.ID)
	tx.recordChange(Change{Kind: e.EntityKind, Action: domain.ActionAppend, After: cloneEvent(e)})
	return cloneEvent(e), nil
}

// AppendAudit adds an audit entry. Sequence numbers must continue the
// entity's existing entries and the wrapped event must already be appended.
func (tx *transaction) AppendAudit(a AuditEntry) (AuditEntry, error) {
	if a.ID == "" {
		a.ID = domain.NewID()
	}
	if _, exists := tx.state.audit[a.ID]; exists {
		return AuditEntry{}, fmt.Errorf("audit entry %q already exists", a.ID)
	}
	if _, ok := tx.state.events[a.RecordID]; !ok {
		return AuditEntry{}, fmt.Errorf("audit entry %q references unknown event %q", a.ID, a.RecordID)
	}
	existing := tx.state.auditByEntity[a.EntityID]
	if want := len(existing) + 1; a.Seq != want {
		return AuditEntry{}, fmt.Errorf("audit entry %q sequence %d, want %d", a.ID, a.Seq, want)
	}
	tx.state.audit[a.ID] = a
	tx.state.auditByEntity[a.EntityID] = append(slices.Clip(existing), a.ID)
	return a, nil
}

// CreateQRCode stores a new QR code.
func (tx *transaction) CreateQRCode(q QRCode) (QRCode, error) {
	if q.ID == "" {
		q.ID = domain.NewID()
	}
	if _, exists := tx.state.qrcodes[q.ID]; exists {
		return QRCode{}, fmt.Errorf("qr code %q already exists", q.ID)
	}
	tx.state.qrcodes[q.ID] = cloneQRCode(q)
	tx.state.qrByEntity[q.EntityID] = append(slices.Clip(tx.state.qrByEntity[q.EntityID]), q.ID)
	return cloneQRCode(q), nil
}

// UpdateQRCode mutates a QR code. Identity and binding fields are immutable.
func (tx *transaction) UpdateQRCode(id string, mutator func(*QRCode) error) (QRCode, error) {
	current, ok := tx.state.qrcodes[id]
	if !ok {
		return QRCode{}, domain.NotFoundError{Kind: "qr code", ID: id}
	}
	before := cloneQRCode(current)
	current = cloneQRCode(current)
	if err := mutator(&current); err != nil {
		return QRCode{}, err
	}
	current.ID = id
	current.EntityID = before.EntityID
	current.EntityKind = before.EntityKind
	current.Version = before.Version
	tx.state.qrcodes[id] = cloneQRCode(current)
	return cloneQRCode(current), nil
}

// FindLot retrieves a lot by ID from the snapshot.
func (v transactionView) FindLot(id string) (Lot, bool) {
	l, ok := v.state.lots[id]
	if !ok {
		return Lot{}, false
	}
	return cloneLot(l), true
}

// FindLotByNumber retrieves a lot by its lot number.
func (v transactionView) FindLotByNumber(number string) (Lot, bool) {
	id, ok := v.state.lotNumbers[number]
	if !ok {
		return Lot{}, false
	}
	return v.FindLot(id)
}

// FindPlant retrieves a plant by ID from the snapshot.
func (v transactionView) FindPlant(id string) (Plant, bool) {
	p, ok := v.state.plants[id]
	if !ok {
		return Plant{}, false
	}
	return clonePlant(p), true
}

// FindPlantByTag retrieves a plant by its tag.
func (v transactionView) FindPlantByTag(tag string) (Plant, bool) {
	id, ok := v.state.plantTags[tag]
	if !ok {
		return Plant{}, false
	}
	return v.FindPlant(id)
}

// ListLots returns all lots ordered by creation time then id.
func (v transactionView) ListLots() []Lot {
	out := make([]Lot, 0, len(v.state.lots))
	for _, l := range v.state.lots {
		out = append(out, cloneLot(l))
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(out[i].Base, out[j].Base) })
	return out
}

// ListPlants returns all plants ordered by creation time then id.
func (v transactionView) ListPlants() []Plant {
	out := make([]Plant, 0, len(v.state.plants))
	for _, p := range v.state.plants {
		out = append(out, clonePlant(p))
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(out[i].Base, out[j].Base) })
	return out
}

func createdBefore(a, b domain.Base) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// FindEvent retrieves an event by ID.
func (v transactionView) FindEvent(id string) (Event, bool) {
	e, ok := v.state.events[id]
	if !ok {
		return Event{}, false
	}
	return cloneEvent(e), true
}

// EventsFor returns the entity's events in history order.
func (v transactionView) EventsFor(entityID string) []Event {
	ids := v.state.eventsByEntity[entityID]
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneEvent(v.state.events[id]))
	}
	domain.SortEvents(out)
	return out
}

// AuditFor returns the entity's audit entries in commit order.
func (v transactionView) AuditFor(entityID string) []AuditEntry {
	ids := v.state.auditByEntity[entityID]
	out := make([]AuditEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.state.audit[id])
	}
	return out
}

// AuditEntityIDs returns every entity id that has audit entries, sorted.
func (v transactionView) AuditEntityIDs() []string {
	out := make([]string, 0, len(v.state.auditByEntity))
	for id := range v.state.auditByEntity {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FindQRCode retrieves a QR code by ID.
func (v transactionView) FindQRCode(id string) (QRCode, bool) {
	q, ok := v.state.qrcodes[id]
	if !ok {
		return QRCode{}, false
	}
	return cloneQRCode(q), true
}

// QRCodesFor returns the entity's QR codes ordered by version.
func (v transactionView) QRCodesFor(entityID string) []QRCode {
	ids := v.state.qrByEntity[entityID]
	out := make([]QRCode, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneQRCode(v.state.qrcodes[id]))
	}
	return out
}

// Read helpers ---------------------------------------------------------------

// GetLot retrieves a lot by ID from committed state.
func (s *Store) GetLot(id string) (Lot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindLot(id)
}

// GetPlant retrieves a plant by ID from committed state.
func (s *Store) GetPlant(id string) (Plant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindPlant(id)
}

// ListLots returns all lots from committed state.
func (s *Store) ListLots() []Lot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListLots()
}

// ListPlants returns all plants from committed state.
func (s *Store) ListPlants() []Plant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListPlants()
}

// Bucket names one persisted section of a Snapshot. Target points at the
// snapshot field so it can be both marshalled and decoded in place.
type Bucket struct {
	Name   string
	Target any
}

// Buckets lists the snapshot sections in a fixed order.
func (s *Snapshot) Buckets() []Bucket {
	return []Bucket{
		{Name: "lots", Target: &s.Lots},
		{Name: "plants", Target: &s.Plants},
		{Name: "events", Target: &s.Events},
		{Name: "audit", Target: &s.Audit},
		{Name: "qrcodes", Target: &s.QRCodes},
	}
}
