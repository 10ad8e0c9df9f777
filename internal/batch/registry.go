package batch

import (
	"sync"
)

// DefaultRegistrySize bounds how many runs are remembered
const DefaultRegistrySize = 500

// Registry keeps recent job runs by id
type Registry struct {
	mu    sync.RWMutex
	runs  map[string]*JobRun
	order []string
	max   int
}

// NewRegistry creates a registry remembering at most max runs
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultRegistrySize
	}
	return &Registry{
		runs: make(map[string]*JobRun),
		max:  max,
	}
}

// Add registers run, evicting the oldest finished runs beyond capacity
func (r *Registry) Add(run *JobRun) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[run.ID()] = run
	r.order = append(r.order, run.ID())

	for i := 0; len(r.order) > r.max && i < len(r.order); {
		id := r.order[i]
		if !r.runs[id].state().Terminal() {
			i++
			continue
		}
		delete(r.runs, id)
		r.order = append(r.order[:i], r.order[i+1:]...)
	}
}

// Get returns the run with id
func (r *Registry) Get(id string) (*JobRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// List returns snapshots, newest first
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.runs[r.order[i]].Snapshot())
	}
	return out
}
