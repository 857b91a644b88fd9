package executor

import (
	"sort"
	"sync"
)

// Registry tracks in-flight runs that may be cancelled from outside.
//
// Runs started by the scheduler are never registered: only runs a client
// asked for can be cancelled by a client.
type Registry struct {
	runs map[string]Handle
	mu   sync.RWMutex
}

// NewRegistry creates an empty run registry
func NewRegistry() *Registry {
	return &Registry{
		runs: make(map[string]Handle),
	}
}

// Register adds a run
func (r *Registry) Register(runID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = h
}

// Unregister removes a run. If runID has since been registered with a
// different handle, that entry is left alone.
func (r *Registry) Unregister(runID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.runs[runID]; ok && cur == h {
		delete(r.runs, runID)
	}
}

// Lookup returns the handle of an in-flight run
func (r *Registry) Lookup(runID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.runs[runID]
	return h, ok
}

// Cancel terminates and removes a run. It returns false when no run with
// that id is in flight, including when it was already cancelled.
func (r *Registry) Cancel(runID string) bool {
	r.mu.Lock()
	h, ok := r.runs[runID]
	delete(r.runs, runID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.Terminate()
	return true
}

// Count returns the number of in-flight runs
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// IDs returns the ids of in-flight runs in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
