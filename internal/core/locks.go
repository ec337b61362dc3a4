package core

import (
	"context"
	"sync"
	"time"

	"herbtrace/pkg/domain"
)

// entityLocks serializes writers per entity id. Each id maps to a one-slot
// semaphore that is dropped once no caller holds or waits for it.
type entityLocks struct {
	mu   sync.Mutex
	sems map[string]*entitySem
}

type entitySem struct {
	ch   chan struct{}
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{sems: make(map[string]*entitySem)}
}

// acquire waits up to timeout for the lock on id. A timeout yields
// domain.BusyError; cancellation yields the context error.
func (l *entityLocks) acquire(ctx context.Context, id string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	sem, ok := l.sems[id]
	if !ok {
		sem = &entitySem{ch: make(chan struct{}, 1)}
		l.sems[id] = sem
	}
	sem.refs++
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case sem.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-sem.ch
				l.unref(id, sem)
			})
		}, nil
	case <-timer.C:
		l.unref(id, sem)
		return nil, domain.BusyError{EntityID: id}
	case <-ctx.Done():
		l.unref(id, sem)
		return nil, ctx.Err()
	}
}

func (l *entityLocks) unref(id string, sem *entitySem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem.refs--
	if sem.refs == 0 {
		delete(l.sems, id)
	}
}

func (l *entityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sems)
}
