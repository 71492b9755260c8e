package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/symspace/internal/compiler"
	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/space"
)

// State is the scheduler's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning

	// StateNoMatch: no rule matched, the system reached a fixpoint.
	StateNoMatch

	// StateBudgetExhausted: the cycle, step or time budget ran out.
	StateBudgetExhausted

	// StateStopped: a run-control limit or callback stopped the run.
	StateStopped

	// StateAborted: effect application failed and the cycle rolled back.
	StateAborted

	// StateFired: RunModeFirst applied its single cycle.
	StateFired
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateRunning:         "running",
	StateNoMatch:         "no_match",
	StateBudgetExhausted: "budget_exhausted",
	StateStopped:         "stopped",
	StateAborted:         "aborted",
	StateFired:           "fired",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Halted reports whether s is terminal.
func (s State) Halted() bool {
	return s >= StateNoMatch
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RunMode is the conflict-resolution policy of a run.
type RunMode string

const (
	// RunModeSaturate fires the first matching rule in declaration order,
	// every cycle, until nothing matches.
	RunModeSaturate RunMode = "saturate"

	// RunModeFirst fires the first matching rule once and halts.
	RunModeFirst RunMode = "first"

	// RunModeRuleSaturate fires each rule in declaration order until it no
	// longer matches, then moves on. Earlier rules are never revisited.
	RunModeRuleSaturate RunMode = "rule-saturate"
)

// ParseRunMode converts a flag value to a RunMode.
func ParseRunMode(s string) (RunMode, error) {
	switch m := RunMode(s); m {
	case RunModeSaturate, RunModeFirst, RunModeRuleSaturate:
		return m, nil
	case "":
		return RunModeSaturate, nil
	default:
		return "", fmt.Errorf("unknown run mode %q (want saturate, first or rule-saturate)", s)
	}
}

// Control is a run-control decision.
type Control int

const (
	Continue Control = iota
	Stop
)

// ControlFunc inspects each firing. count is the number of firings so far in
// the run, including f.
type ControlFunc func(f ir.Firing, count int) Control

// Recorder persists run traces. Recording failures never change the outcome
// of a run; the first one is returned alongside the Result.
type Recorder interface {
	BeginRun(ctx context.Context, run ir.Run) error
	RecordFiring(ctx context.Context, f ir.Firing) error
	EndRun(ctx context.Context, run ir.Run) error
}

// Result summarizes a finished run.
type Result struct {
	RunID         string         `json:"run_id"`
	System        string         `json:"system"`
	Mode          RunMode        `json:"mode"`
	State         State          `json:"state"`
	Cycles        int            `json:"cycles"`
	Firings       int            `json:"firings"`
	FiringsByRule map[string]int `json:"firings_by_rule,omitempty"`
	Steps         int64          `json:"steps"`
	LastRule      string         `json:"last_rule,omitempty"`
	GCRuns        int            `json:"gc_runs,omitempty"`
	Reclaimed     int            `json:"reclaimed,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

// Engine is the rule scheduler. It owns no data: every run reads and writes
// the Space it was created with.
//
// Thread-safety model:
//   - RunSystem: runs are serialized; a second caller blocks until the
//     first returns
//   - State: safe from any goroutine
//
// Rules are always considered in declaration order.
type Engine struct {
	mu    sync.Mutex
	state atomic.Int32

	space   *space.Space
	planner *compiler.Planner
	clock   SeqClock
	runIDs  RunIDGenerator
	logger  *slog.Logger

	metrics   *Metrics
	recorder  Recorder
	refractor *Refractor
	control   ControlFunc

	mode       RunMode
	maxCycles  int
	maxSteps   int64
	gcInterval int
}

// New creates an Engine over sp.
func New(sp *space.Space, opts ...Option) *Engine {
	e := &Engine{
		space:     sp,
		planner:   compiler.NewPlanner(),
		clock:     NewClock(),
		runIDs:    UUIDv7Generator{},
		logger:    slog.Default(),
		mode:      RunModeSaturate,
		maxCycles: DefaultMaxCycles,
		maxSteps:  DefaultMaxSteps,

		gcInterval: DefaultGCInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the state of the current or most recent run.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Space returns the space the engine runs against.
func (e *Engine) Space() *space.Space {
	return e.space
}

// Clock returns the firing clock.
func (e *Engine) Clock() SeqClock {
	return e.clock
}

// Planner returns the clause planner.
func (e *Engine) Planner() *compiler.Planner {
	return e.planner
}

// RunSystem runs sys against the space until it halts.
//
// inputs bind sys.Inputs positionally for every match. Reaching a fixpoint,
// exhausting the budget and being stopped by run control are normal outcomes
// reported through Result.State with a nil error. An effect failure rolls
// back its cycle and returns a TransactionAborted error with StateAborted.
// Cancelling ctx halts in StateStopped and returns ctx.Err(); a deadline on
// ctx counts as budget exhaustion.
func (e *Engine) RunSystem(ctx context.Context, sys ir.System, budget Budget, inputs ...ir.Value) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := compiler.ValidateSystem(sys); err != nil {
		return Result{}, err
	}
	seed, err := e.bindInputs(&sys, inputs)
	if err != nil {
		return Result{}, err
	}
	if e.space.Depth() > 0 {
		return Result{}, &ir.Error{
			Code:    ir.CodeTransactionActive,
			Message: fmt.Sprintf("cannot run system %s inside an open transaction", sys.Name),
		}
	}

	plans := make([]*ir.Plan, len(sys.Rules))
	for i, rule := range sys.Rules {
		plan, err := e.planner.Plan(rule, sys.Inputs)
		if err != nil {
			return Result{}, fmt.Errorf("plan rule %s: %w", rule.Name, err)
		}
		plans[i] = plan
	}

	if budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget.Timeout)
		defer cancel()
	}

	r := &run{
		e:      e,
		sys:    &sys,
		plans:  plans,
		seed:   seed,
		budget: budget,
		track:  newTracker(budget, e.maxCycles, e.maxSteps),
		byRule: make(map[string]int),
		res: Result{
			RunID:  e.runIDs.Generate(),
			System: sys.Name,
			Mode:   e.mode,
		},
	}
	return r.execute(ctx)
}

func (e *Engine) bindInputs(sys *ir.System, inputs []ir.Value) (ir.Bindings, error) {
	if len(inputs) != len(sys.Inputs) {
		return nil, ir.NewInvalidInputError("system %s takes %d inputs, got %d", sys.Name, len(sys.Inputs), len(inputs))
	}
	seed := make(ir.Bindings, len(inputs))
	for i, v := range inputs {
		name := sys.Inputs[i]
		if v == nil {
			return nil, ir.NewInvalidInputError("input %s is nil", name)
		}
		if ref, ok := v.(ir.ObjectRef); ok && !e.space.Exists(ref) {
			err := ir.NewInvalidInputError("input %s names a missing object", name)
			err.Ref = ref
			err.Err = ir.NewUnknownObjectError(ref)
			return nil, err
		}
		seed[name] = v
	}
	return seed, nil
}

// run is the state of one RunSystem call.
type run struct {
	e      *Engine
	sys    *ir.System
	plans  []*ir.Plan
	seed   ir.Bindings
	budget Budget
	track  *tracker

	// cursor is the first rule RunModeRuleSaturate still considers.
	cursor int

	byRule map[string]int
	res    Result
	recErr error
}

// candidate is a matched environment with its binding hash.
type candidate struct {
	env  ir.Bindings
	hash string
}

func (r *run) execute(ctx context.Context) (Result, error) {
	e := r.e
	start := time.Now()
	e.state.Store(int32(StateRunning))
	r.record(func(rec Recorder) error { return rec.BeginRun(ctx, r.trace("", nil)) })

	state, err := r.loop(ctx)

	r.res.State = state
	r.res.Steps = r.track.steps
	r.res.FiringsByRule = r.byRule
	r.res.Duration = time.Since(start)
	e.state.Store(int32(state))
	if e.refractor != nil {
		e.refractor.Clear(r.res.RunID)
	}

	if m := e.metrics; m != nil {
		m.Halts.WithLabelValues(state.String()).Inc()
		m.RunDuration.Observe(r.res.Duration.Seconds())
	}
	e.logger.Info("run halted",
		"run_id", r.res.RunID,
		"system", r.res.System,
		"state", state.String(),
		"cycles", r.res.Cycles,
		"firings", r.res.Firings,
	)

	endCtx := context.WithoutCancel(ctx)
	r.record(func(rec Recorder) error { return rec.EndRun(endCtx, r.trace(state.String(), err)) })
	if err == nil && r.recErr != nil {
		err = fmt.Errorf("record trace: %w", r.recErr)
	}
	return r.res, err
}

func (r *run) loop(ctx context.Context) (State, error) {
	e := r.e
	for {
		if err := ctx.Err(); err != nil {
			return haltForContext(err)
		}
		if r.track.exhausted() {
			return StateBudgetExhausted, nil
		}

		r.track.cycles++
		r.res.Cycles++
		if e.metrics != nil {
			e.metrics.Cycles.Inc()
		}

		idx, cands, err := r.selectRule(ctx)
		if err != nil {
			return r.haltForMatchError(err)
		}
		if idx < 0 {
			return StateNoMatch, nil
		}

		stop, err := r.fire(ctx, idx, cands)
		if err != nil {
			return StateAborted, err
		}
		if stop {
			return StateStopped, nil
		}
		if e.mode == RunModeFirst {
			return StateFired, nil
		}

		if e.gcInterval > 0 && r.res.Cycles%e.gcInterval == 0 {
			if err := r.collect(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return haltForContext(ctxErr)
				}
				return StateAborted, err
			}
		}
	}
}

// haltForContext maps a context error to a terminal state. A deadline is a
// wall-clock budget and ends the run normally.
func haltForContext(err error) (State, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return StateBudgetExhausted, nil
	}
	return StateStopped, err
}

func (r *run) haltForMatchError(err error) (State, error) {
	switch {
	case ir.IsBudgetExhausted(err):
		return StateBudgetExhausted, nil
	case errors.Is(err, context.Canceled):
		return StateStopped, err
	default:
		return StateAborted, err
	}
}

// selectRule returns the index of the rule that wins this cycle and the
// environments it fires on, or -1 when no rule matches.
func (r *run) selectRule(ctx context.Context) (int, []candidate, error) {
	first := 0
	if r.e.mode == RunModeRuleSaturate {
		first = r.cursor
	}
	for i := first; i < len(r.sys.Rules); i++ {
		cands, err := r.match(ctx, i)
		if err != nil {
			return -1, nil, err
		}
		if len(cands) > 0 {
			r.cursor = i
			return i, cands, nil
		}
	}
	r.cursor = len(r.sys.Rules)
	return -1, nil, nil
}

// match runs rule i's plan. Environments the rule already fired on are
// skipped when refraction is enabled.
func (r *run) match(ctx context.Context, i int) ([]candidate, error) {
	e := r.e
	rule := &r.sys.Rules[i]
	m := NewMatcher(e.space, WithStepLimit(r.track.remainingSteps()))
	s := m.Search(ctx, r.plans[i], r.seed)

	var out []candidate
	seen := make(map[string]bool)
	for {
		env, ok := s.Next()
		if !ok {
			break
		}
		hash, err := ir.BindingHash(env)
		if err != nil {
			return nil, err
		}
		if e.refractor != nil && e.refractor.Fired(r.res.RunID, rule.Name, hash) {
			continue
		}
		if seen[hash] {
			continue
		}
		seen[hash] = true
		out = append(out, candidate{env: env, hash: hash})
		if rule.Mode != ir.MatchAll {
			break
		}
	}

	r.track.addSteps(s.Steps())
	if e.metrics != nil {
		e.metrics.MatchSteps.Add(float64(s.Steps()))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// fire applies rule idx to every candidate inside one transaction. It
// reports whether run control asked to stop; a stop still commits the
// firings applied so far.
func (r *run) fire(ctx context.Context, idx int, cands []candidate) (bool, error) {
	e := r.e
	rule := &r.sys.Rules[idx]
	txn := e.space.Begin()
	ap := &applier{txn: txn}

	var firings []ir.Firing
	stop := false
	for _, c := range cands {
		mark := len(txn.Log())
		if err := ap.apply(rule, c.env.Clone()); err != nil {
			txn.Abort()
			e.logger.Warn("cycle aborted",
				"run_id", r.res.RunID,
				"rule", rule.Name,
				"cycle", r.res.Cycles,
				"error", err,
			)
			return false, ir.NewAbortedError(rule.Name, err)
		}

		log := txn.Log()[mark:]
		muts := make([]string, len(log))
		for i, mu := range log {
			muts[i] = mu.String()
		}
		f := ir.Firing{
			RunID:       r.res.RunID,
			Seq:         e.clock.Next(),
			Cycle:       r.res.Cycles,
			Rule:        rule.Name,
			Bindings:    c.env,
			BindingHash: c.hash,
			Mutations:   muts,
		}
		firings = append(firings, f)
		r.res.Firings++
		r.byRule[rule.Name]++

		if r.shouldStop(f) {
			stop = true
			break
		}
	}

	if err := txn.Commit(); err != nil {
		return false, err
	}
	for _, t := range ap.tuples {
		e.space.ReleaseTuple(t)
	}

	r.res.LastRule = rule.Name
	for _, f := range firings {
		if e.refractor != nil {
			e.refractor.Record(f.RunID, f.Rule, f.BindingHash)
		}
		if e.metrics != nil {
			e.metrics.Firings.WithLabelValues(f.Rule).Inc()
		}
		e.logger.Debug("rule fired",
			"rule", f.Rule,
			"cycle", f.Cycle,
			"seq", f.Seq,
			"bindings", f.Bindings.String(),
		)
		r.record(func(rec Recorder) error { return rec.RecordFiring(ctx, f) })
	}
	return stop, nil
}

// shouldStop applies run control after a firing.
func (r *run) shouldStop(f ir.Firing) bool {
	count := r.res.Firings
	if c := r.e.control; c != nil && c(f, count) == Stop {
		return true
	}
	if n := r.budget.MaxFirings; n > 0 && count >= n {
		return true
	}
	if n := r.budget.MaxFiringsPerRule; n > 0 && r.byRule[f.Rule] >= n {
		return true
	}
	return false
}

// collect runs a garbage collection between cycles. Objects bound to the
// system's inputs stay live for the whole run.
func (r *run) collect(ctx context.Context) error {
	e := r.e
	keep := make([]ir.Value, 0, len(r.seed))
	for _, v := range r.seed {
		keep = append(keep, v)
	}
	stats, err := e.space.Collect(ctx, keep...)
	if err != nil {
		return err
	}
	r.res.GCRuns++
	r.res.Reclaimed += stats.Reclaimed
	if e.metrics != nil {
		e.metrics.Reclaimed.Add(float64(stats.Reclaimed))
	}
	e.logger.Debug("gc",
		"cycle", r.res.Cycles,
		"marked", stats.Marked,
		"reclaimed", stats.Reclaimed,
	)
	return nil
}

// record forwards to the recorder, keeping the first failure.
func (r *run) record(fn func(Recorder) error) {
	rec := r.e.recorder
	if rec == nil {
		return
	}
	if err := fn(rec); err != nil {
		r.e.logger.Error("trace recording failed", "run_id", r.res.RunID, "error", err)
		if r.recErr == nil {
			r.recErr = err
		}
	}
}

func (r *run) trace(state string, err error) ir.Run {
	out := ir.Run{
		ID:            r.res.RunID,
		System:        r.res.System,
		Mode:          string(r.res.Mode),
		State:         state,
		Cycles:        r.res.Cycles,
		Firings:       r.res.Firings,
		Steps:         r.track.steps,
		EngineVersion: ir.EngineVersion,
		FormatVersion: ir.FormatVersion,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
