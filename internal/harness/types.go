package harness

import (
	"github.com/roach88/symspace/internal/codec"
	"github.com/roach88/symspace/internal/ir"
)

// TraceEvent is one recorded rule firing.
type TraceEvent struct {
	Seq       int64       `json:"seq"`
	Cycle     int64       `json:"cycle"`
	Rule      string      `json:"rule"`
	Bindings  ir.Bindings `json:"bindings"`
	Mutations []string    `json:"mutations,omitempty"`
}

func traceEvent(f ir.Firing) TraceEvent {
	return TraceEvent{
		Seq:       f.Seq,
		Cycle:     f.Cycle,
		Rule:      f.Rule,
		Bindings:  f.Bindings,
		Mutations: f.Mutations,
	}
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the expected outcome and all assertions match.
	Pass bool `json:"pass"`

	RunID   string `json:"run_id"`
	State   string `json:"state"`
	Cycles  int    `json:"cycles"`
	Firings int    `json:"firings"`

	GCRuns    int `json:"gc_runs,omitempty"`
	Reclaimed int `json:"reclaimed,omitempty"`

	// RunError is the error the run halted with, e.g. for an aborted cycle.
	RunError string `json:"run_error,omitempty"`

	// Trace contains all firings in sequence order, read back from the store.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Space is the final space. Tombstones still referenced by live data
	// are included.
	Space *codec.Snapshot `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddFiring appends a firing to the trace.
func (r *Result) AddFiring(f ir.Firing) {
	r.Trace = append(r.Trace, traceEvent(f))
}
