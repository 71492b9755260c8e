package engine

import "time"

const (
	// DefaultMaxCycles bounds a run when neither the Budget nor the engine
	// sets a cycle limit.
	DefaultMaxCycles = 10000

	// DefaultMaxSteps bounds the total matcher steps of a run.
	DefaultMaxSteps int64 = 1_000_000

	// DefaultGCInterval is how many cycles pass between collections.
	DefaultGCInterval = 64
)

// Budget bounds a single RunSystem call. Zero fields fall back to the
// engine's defaults (or mean "unlimited" for the firing limits and Timeout).
//
// Exhausting MaxCycles, MaxSteps or Timeout halts the run in
// BudgetExhausted, which is a normal outcome. MaxFirings and
// MaxFiringsPerRule are run-control limits and halt it in Stopped.
type Budget struct {
	// MaxCycles is the number of select-and-apply cycles allowed.
	MaxCycles int

	// MaxSteps is the total matcher steps allowed across all cycles.
	MaxSteps int64

	// Timeout bounds the wall-clock duration of the run.
	Timeout time.Duration

	// MaxFirings stops the run once this many firings have happened.
	MaxFirings int

	// MaxFiringsPerRule stops the run once any single rule has fired this
	// many times.
	MaxFiringsPerRule int
}

// Unlimited returns a budget with no firing limits and the engine's default
// cycle and step limits.
func Unlimited() Budget { return Budget{} }

// Cycles returns a budget limited to n cycles.
func Cycles(n int) Budget { return Budget{MaxCycles: n} }

// tracker charges work against a resolved Budget.
type tracker struct {
	maxCycles int
	maxSteps  int64

	cycles int
	steps  int64
}

func newTracker(b Budget, defaultCycles int, defaultSteps int64) *tracker {
	t := &tracker{maxCycles: b.MaxCycles, maxSteps: b.MaxSteps}
	if t.maxCycles <= 0 {
		t.maxCycles = defaultCycles
	}
	if t.maxSteps <= 0 {
		t.maxSteps = defaultSteps
	}
	return t
}

// exhausted reports whether another cycle may start.
func (t *tracker) exhausted() bool {
	return t.cycles >= t.maxCycles || t.steps >= t.maxSteps
}

// remainingSteps is the step limit handed to the next search.
func (t *tracker) remainingSteps() int64 {
	return t.maxSteps - t.steps
}

func (t *tracker) addSteps(n int64) {
	t.steps += n
}
