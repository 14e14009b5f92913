// Package dataset holds the currently active dataset.
package dataset

import (
	"sync"

	"github.com/recera/scattershare/pkg/point"
)

// Listener is called after the dataset has been replaced.
type Listener func(d point.Dataset, version uint64)

// Store is the process-wide holder of the active dataset. It is passed
// explicitly to the components that need it.
type Store struct {
	mu      sync.RWMutex
	value   point.Dataset
	version uint64

	subsMu sync.RWMutex
	subs   map[uint64]Listener
	nextID uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[uint64]Listener)}
}

// Replace overwrites the held dataset. Last write wins.
func (s *Store) Replace(d point.Dataset) uint64 {
	snapshot := d.Clone()

	s.mu.Lock()
	s.value = snapshot
	s.version++
	version := s.version
	s.mu.Unlock()

	// Notify outside the lock so listeners may call Current.
	s.subsMu.RLock()
	listeners := make([]Listener, 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range listeners {
		fn(snapshot.Clone(), version)
	}
	return version
}

// Current returns a snapshot of the live dataset.
func (s *Store) Current() point.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value.Clone()
}

// Version returns the number of replacements so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of points currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.value)
}

// Subscribe registers fn for replacement notifications. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}
