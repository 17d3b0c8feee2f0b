// Package history keeps the most recent engine transitions in memory for the
// status API.
package history

import (
	"sync"
	"time"

	"safezone/internal/model"
)

// Store is a fixed-size ring of state changes, oldest overwritten first.
type Store struct {
	mu    sync.RWMutex
	ring  []model.StateChange
	head  int
	count int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{ring: make([]model.StateChange, limit)}
}

// Record is an engine change handler. Countdown ticks are not kept.
func (s *Store) Record(change model.StateChange) {
	if change.Kind == model.ChangeTick {
		return
	}
	s.Add(change)
}

func (s *Store) Add(change model.StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == len(s.ring) {
		s.ring[s.head] = change
		s.head = (s.head + 1) % len(s.ring)
		return
	}
	s.ring[(s.head+s.count)%len(s.ring)] = change
	s.count++
}

func (s *Store) at(i int) model.StateChange {
	return s.ring[(s.head+i)%len(s.ring)]
}

// List returns up to limit of the newest changes, oldest first. A limit of
// zero or less returns everything held.
func (s *Store) List(limit int) []model.StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.count {
		limit = s.count
	}
	out := make([]model.StateChange, 0, limit)
	for i := s.count - limit; i < s.count; i++ {
		out = append(out, s.at(i))
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StateChange, 0)
	for i := 0; i < s.count; i++ {
		if c := s.at(i); !c.Timestamp.Before(ts) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head, s.count = 0, 0
	clear(s.ring)
}
