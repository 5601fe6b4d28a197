package platform

import (
	"sync"
	"time"
)

// Registry is the in-memory entity state registry, fed by the MQTT hook and
// read by every evaluator. Lookups never block on the broker.
type Registry struct {
	mu      sync.RWMutex
	states  map[string]State
	seen    map[string]time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]State),
		seen:   make(map[string]time.Time),
	}
}

// Get implements States.
func (r *Registry) Get(entityID string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[entityID]
	return state, ok
}

// SetValue records an entity's state value, preserving known attributes.
func (r *Registry) SetValue(entityID, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.states[entityID]
	state.Value = value
	r.states[entityID] = state
	r.seen[entityID] = time.Now()
}

// SetAttributes merges attributes for an entity.
func (r *Registry) SetAttributes(entityID string, attrs map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.states[entityID]
	if state.Attributes == nil {
		state.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		state.Attributes[k] = v
	}
	r.states[entityID] = state
	r.seen[entityID] = time.Now()
}

// LastSeen returns when the entity last reported.
func (r *Registry) LastSeen(entityID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.seen[entityID]
	return t, ok
}

// All returns a copy of every known entity state.
func (r *Registry) All() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.states))
	for id, state := range r.states {
		copied := state
		if state.Attributes != nil {
			attrs := make(map[string]any, len(state.Attributes))
			for k, v := range state.Attributes {
				attrs[k] = v
			}
			copied.Attributes = attrs
		}
		out[id] = copied
	}
	return out
}

var _ States = (*Registry)(nil)
