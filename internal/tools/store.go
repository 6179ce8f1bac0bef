package tools

import (
	"sync"
)

// StatusListener observes tool status transitions.
type StatusListener func(id string, oldStatus, newStatus Status)

// Store is the process-wide inventory of tool descriptors. The discovery
// engine is its only writer; everyone else reads copy-out snapshots.
// Descriptors are replaced whole so a reader never observes a half-updated
// record.
type Store struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	listeners   []StatusListener
}

func NewStore() *Store {
	return &Store{
		descriptors: make(map[string]Descriptor),
	}
}

// Subscribe registers a listener for status transitions. Listeners run on
// the reconciliation goroutine.
func (s *Store) Subscribe(fn StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, fn)
}

// Apply replaces a tool's descriptor if its state differs from the stored
// one; a pass that computed an identical state is a no-op so subscribers are
// not notified of churn. Returns whether the store changed.
func (s *Store) Apply(d Descriptor) bool {
	s.mu.Lock()

	prev, existed := s.descriptors[d.ID]
	if existed && prev.sameState(d) {
		s.mu.Unlock()
		return false
	}

	s.descriptors[d.ID] = d
	listeners := s.listeners
	s.mu.Unlock()

	oldStatus := StatusAbsent
	if existed {
		oldStatus = prev.Status
	}

	if oldStatus != d.Status {
		for _, fn := range listeners {
			fn(d.ID, oldStatus, d.Status)
		}
	}

	return true
}

// Get returns one descriptor.
func (s *Store) Get(id string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.descriptors[id]
	return d, ok
}

// Snapshot returns a copy of every descriptor.
func (s *Store) Snapshot() map[string]Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Descriptor, len(s.descriptors))
	for id, d := range s.descriptors {
		out[id] = d
	}

	return out
}
