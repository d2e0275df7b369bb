// Package state keeps a point-in-time copy of the host's entity state table,
// seeded by get_states and kept current by state_changed events.
package state

import (
	"sort"
	"strings"
	"sync"

	"github.com/jkaflik/hundesystem/hass"
)

// Snapshot is an immutable view of a set of entity states.
type Snapshot map[string]*hass.State

// State returns the state of an entity, or nil when it is missing.
func (s Snapshot) State(entityID string) *hass.State {
	return s[entityID]
}

// Value returns the raw state value, or an empty string when the entity is missing.
func (s Snapshot) Value(entityID string) string {
	if st := s[entityID]; st != nil {
		return st.State
	}
	return ""
}

// Store is safe for concurrent use. Every read returns copies.
type Store struct {
	mu     sync.RWMutex
	states map[string]*hass.State
}

func NewStore() *Store {
	return &Store{states: make(map[string]*hass.State)}
}

// Replace drops everything and loads the given states.
func (s *Store) Replace(states []hass.State) {
	m := make(map[string]*hass.State, len(states))
	for i := range states {
		m[states[i].EntityID] = states[i].Clone()
	}

	s.mu.Lock()
	s.states = m
	s.mu.Unlock()
}

// Apply records a state_changed event. A nil new state removes the entity.
func (s *Store) Apply(data *hass.EventData) {
	if data == nil || data.EntityID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if data.NewState == nil {
		delete(s.states, data.EntityID)
		return
	}

	st := data.NewState.Clone()
	st.EntityID = data.EntityID
	s.states[data.EntityID] = st
}

// Set stores a single state, used after the service itself publishes one.
func (s *Store) Set(st hass.State) {
	s.mu.Lock()
	s.states[st.EntityID] = st.Clone()
	s.mu.Unlock()
}

// Get returns a copy of the entity state.
func (s *Store) Get(entityID string) (*hass.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[entityID]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// Snapshot copies the states of the given entities. Missing entities are absent from the result.
func (s *Store) Snapshot(entityIDs ...string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(entityIDs))
	for _, id := range entityIDs {
		if st, ok := s.states[id]; ok {
			snap[id] = st.Clone()
		}
	}
	return snap
}

// ByDomain returns copies of every entity of a domain, sorted by entity ID.
func (s *Store) ByDomain(domain string) []*hass.State {
	prefix := domain + "."

	s.mu.RLock()
	var out []*hass.State
	for id, st := range s.states {
		if strings.HasPrefix(id, prefix) {
			out = append(out, st.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
