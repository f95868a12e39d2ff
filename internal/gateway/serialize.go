package gateway

import (
	"container/list"
	"sync"

	"github.com/plantops/plantsync/internal/schema"
)

// lockTable serializes mutations per entity identifier. Two callers
// touching the same record within one process take turns; different
// records proceed concurrently. Locks are never reclaimed, which is
// bounded by the number of distinct records a process touches.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the per-entity lock and returns its release func.
func (t *lockTable) lock(entity schema.Kind, id string) func() {
	key := string(entity) + "/" + id

	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	m, ok := t.locks[key]
	if !ok {
		m = &sync.Mutex{}
		t.locks[key] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// appliedSet remembers recently applied event IDs so duplicate
// delivery never double-applies. Bounded FIFO: old IDs age out, which
// is fine because relays only redeliver within a short window.
type appliedSet struct {
	mu    sync.Mutex
	limit int
	ids   map[string]bool
	order *list.List
}

func newAppliedSet(limit int) *appliedSet {
	return &appliedSet{
		limit: limit,
		ids:   make(map[string]bool),
		order: list.New(),
	}
}

// seen reports whether the event ID was already applied.
func (s *appliedSet) seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id]
}

// mark records an applied event ID, evicting the oldest at capacity.
func (s *appliedSet) mark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ids[id] {
		return
	}
	s.ids[id] = true
	s.order.PushBack(id)

	for s.order.Len() > s.limit {
		front := s.order.Front()
		s.order.Remove(front)
		delete(s.ids, front.Value.(string))
	}
}
