package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herbtrace/internal/core"
	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/pkg/domain"
)

// testClock ticks one second on every read so history order is deterministic.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T, opts ...core.Option) (*core.Service, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts = append([]core.Option{core.WithClock(clock.Now)}, opts...)
	return core.NewInMemoryService(opts...), clock
}

func memoryStore(t *testing.T, svc *core.Service) *memory.Store {
	t.Helper()
	store, ok := svc.Store().(*memory.Store)
	if !ok {
		t.Fatalf("expected *memory.Store, got %T", svc.Store())
	}
	return store
}

func seedLot(t *testing.T, svc *core.Service) (domain.Lot, domain.QRCode) {
	t.Helper()
	lot, code, err := svc.CreateLot(context.Background(), core.LotSpec{
		Type:     domain.LotTypeSeed,
		Species:  "Calendula officinalis",
		Variety:  "Resina",
		Quantity: 500,
		Unit:     "g",
		Operator: "seed-bank",
	})
	if err != nil {
		t.Fatalf("create seed lot: %v", err)
	}
	return lot, code
}

func record(t *testing.T, svc *core.Service, kind domain.EntityKind, id string, typ domain.EventType, payload map[string]any) domain.Event {
	t.Helper()
	evt, _, err := svc.RecordEvent(context.Background(), core.EventSpec{
		Kind:     kind,
		EntityID: id,
		Type:     typ,
		Operator: "grower-1",
		Payload:  payload,
	})
	if err != nil {
		t.Fatalf("record %s on %s: %v", typ, id, err)
	}
	return evt
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) published() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

type keySetResolver map[string]bool

func (r keySetResolver) ResolveAttachment(_ context.Context, key string) error {
	if !r[key] {
		return domain.ValidationError{Field: "attachments", Reason: "unknown evidence " + key}
	}
	return nil
}

func assertIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
