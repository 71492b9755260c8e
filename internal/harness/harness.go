package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/roach88/symspace/internal/codec"
	"github.com/roach88/symspace/internal/compiler"
	"github.com/roach88/symspace/internal/engine"
	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/space"
	"github.com/roach88/symspace/internal/store"
	"github.com/roach88/symspace/internal/testutil"
)

// Harness holds the per-scenario execution state.
// It runs one scenario with a deterministic clock and run ID.
type Harness struct {
	store  *store.Store
	space  *space.Space
	engine *engine.Engine
	logger *slog.Logger

	// refs maps seed indices to live objects; names maps seed names to
	// seed indices.
	refs  []ir.ObjectRef
	names map[string]int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh space with a fresh in-memory trace store.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Compile the rule files and select the system
// 2. Restore the seed into a fresh space
// 3. Run the system with the store as trace recorder
// 4. Read the trace back from the store
// 5. Check the expected outcome and evaluate assertions
//
// The returned error covers scenarios that cannot run at all (bad rules,
// bad seed, invalid inputs). A run that halts Aborted is a result, not an
// error, so scenarios can expect it.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	prog, err := compiler.LoadFiles(scenario.Rules...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}
	sys, err := selectSystem(prog, scenario.System)
	if err != nil {
		return nil, err
	}
	mode, err := engine.ParseRunMode(scenario.Mode)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	// Suppress logs in tests
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sp := space.New(space.WithLogger(logger))
	defer sp.Close()

	h := &Harness{store: st, space: sp, logger: logger}
	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed space: %w", err)
	}
	inputs, err := h.inputs(scenario.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to bind inputs: %w", err)
	}

	h.engine = engine.New(sp,
		engine.WithLogger(logger),
		engine.WithRecorder(st),
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(scenario.RunID)),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithRunMode(mode),
		engine.WithGCInterval(scenario.GCInterval),
	)

	res, runErr := h.engine.RunSystem(ctx, *sys, scenario.Budget.engine(), inputs...)
	if !res.State.Halted() {
		return nil, fmt.Errorf("failed to run system %s: %w", sys.Name, runErr)
	}

	result := NewResult()
	result.RunID = res.RunID
	result.State = res.State.String()
	result.Cycles = res.Cycles
	result.Firings = res.Firings
	result.GCRuns = res.GCRuns
	result.Reclaimed = res.Reclaimed
	if runErr != nil {
		result.RunError = runErr.Error()
	}

	firings, err := st.ReadFirings(ctx, res.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	for _, f := range firings {
		result.AddFiring(f)
	}

	if result.Space, err = codec.Capture(sp); err != nil {
		return nil, fmt.Errorf("failed to capture final space: %w", err)
	}

	h.logger.Info("scenario run complete",
		"scenario", scenario.Name,
		"run_id", result.RunID,
		"state", result.State,
		"firings", result.Firings,
	)

	if scenario.Expect != nil {
		for _, msg := range checkOutcome(scenario.Expect, result) {
			result.AddError(msg)
		}
	}

	actx := &AssertionContext{
		Space: sp,
		Value: h.value,
		Ref:   h.ref,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// selectSystem picks the named system, or the default one when name is empty.
func selectSystem(prog *compiler.Program, name string) (*ir.System, error) {
	if name == "" {
		name = compiler.DefaultSystemName
	}
	sys, ok := prog.System(name)
	if !ok {
		return nil, fmt.Errorf("system %q not found", name)
	}
	return sys, nil
}

// seed restores the scenario's space section.
func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	snap := &codec.Snapshot{Format: codec.FormatVersion}
	if scenario.Space.Kind != 0 {
		// Round-trip through the seed parser so the same strict rules apply
		// as for seed files.
		data, err := yaml.Marshal(&scenario.Space)
		if err != nil {
			return err
		}
		if snap, err = codec.ParseSeed(bytes.NewReader(data)); err != nil {
			return err
		}
	}

	refs, err := codec.Restore(ctx, h.space, snap)
	if err != nil {
		return err
	}
	h.refs = refs
	h.names = snap.Names()
	return nil
}

func (h *Harness) inputs(nodes []yaml.Node) ([]ir.Value, error) {
	values := make([]ir.Value, len(nodes))
	for i := range nodes {
		v, err := h.value(&nodes[i])
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

// value converts a seed-syntax YAML node to a live value.
func (h *Harness) value(n *yaml.Node) (ir.Value, error) {
	v, err := codec.ParseSeedValue(n, h.names)
	if err != nil {
		return nil, err
	}
	return codec.Resolve(v, h.refs)
}

// ref returns the live object a seed name was restored to.
func (h *Harness) ref(name string) (ir.ObjectRef, bool) {
	i, ok := h.names[name]
	if !ok {
		return ir.ObjectRef{}, false
	}
	return h.refs[i], true
}

// checkOutcome compares the run result to the expected outcome.
func checkOutcome(want *Outcome, got *Result) []string {
	var errs []string
	if want.State != got.State {
		errs = append(errs, fmt.Sprintf("expected state %s, got %s", want.State, got.State))
	}
	if want.Cycles != nil && *want.Cycles != got.Cycles {
		errs = append(errs, fmt.Sprintf("expected %d cycles, got %d", *want.Cycles, got.Cycles))
	}
	if want.Firings != nil && *want.Firings != got.Firings {
		errs = append(errs, fmt.Sprintf("expected %d firings, got %d", *want.Firings, got.Firings))
	}
	if want.Reclaimed != nil && *want.Reclaimed != got.Reclaimed {
		errs = append(errs, fmt.Sprintf("expected %d reclaimed, got %d", *want.Reclaimed, got.Reclaimed))
	}
	return errs
}
