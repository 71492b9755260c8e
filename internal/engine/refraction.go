package engine

import "sync"

// refractionKey identifies one rule application within a run.
type refractionKey struct {
	runID       string
	rule        string
	bindingHash string
}

// Refractor remembers which (rule, environment) pairs already fired so a
// rule never fires twice on the same bindings within a run.
//
// Environments are compared by ir.BindingHash, so two environments with equal
// values but different construction histories are the same instance.
type Refractor struct {
	mu   sync.RWMutex
	seen map[refractionKey]bool
}

// NewRefractor creates an empty Refractor.
func NewRefractor() *Refractor {
	return &Refractor{seen: make(map[refractionKey]bool)}
}

// Fired reports whether rule already fired with the given binding hash.
func (r *Refractor) Fired(runID, rule, bindingHash string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seen[refractionKey{runID, rule, bindingHash}]
}

// Record marks the application as fired.
func (r *Refractor) Record(runID, rule, bindingHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[refractionKey{runID, rule, bindingHash}] = true
}

// Clear forgets everything recorded for runID.
func (r *Refractor) Clear(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.seen {
		if k.runID == runID {
			delete(r.seen, k)
		}
	}
}

// Size returns the total number of recorded applications.
func (r *Refractor) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.seen)
}

// RunSize returns the number of applications recorded for runID.
func (r *Refractor) RunSize(runID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k := range r.seen {
		if k.runID == runID {
			n++
		}
	}
	return n
}
