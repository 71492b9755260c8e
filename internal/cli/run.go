package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/symspace/internal/codec"
	"github.com/roach88/symspace/internal/engine"
	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/space"
	"github.com/roach88/symspace/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Space    string
	System   string
	Mode     string
	Inputs   []string
	Database string
	Snapshot string

	MaxCycles         int
	MaxSteps          int64
	MaxFirings        int
	MaxFiringsPerRule int
	Timeout           time.Duration
	GCInterval        int

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	engine.Result
	Error    string `json:"error,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <rules-dir>",
		Short: "Run a rule system against a seeded space",
		Long: `Run a rule system against an object space.

The space is built from a YAML seed file or a CBOR snapshot, the system's
rules fire until nothing matches or the budget runs out, and the terminal
state is reported. Inputs bind the system's input variables in order and
use seed syntax: "@name" refers to a seeded object.

Exit status is 0 when the run halts normally (no_match, budget_exhausted,
stopped, fired), 1 when an effect fails and the run aborts, and 2 for
command errors.

Example:
  symspace run ./rules --space seed.yaml
  symspace run ./rules --space seed.yaml --system count --input @c --input 10
  symspace run ./rules --space in.cbor --db trace.db --snapshot out.cbor
  symspace run ./rules --space seed.yaml --gc-interval 8`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Space, "space", "", "seed file (.yaml) or snapshot (.cbor) to load")
	cmd.Flags().StringVar(&opts.System, "system", "", "system to run (default \"main\")")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "run mode (saturate|first|rule-saturate)")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "system input value, repeatable")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the trace to this SQLite database")
	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "write the final space as CBOR to this path")
	cmd.Flags().IntVar(&opts.MaxCycles, "max-cycles", 0, "cycle budget (0 = engine default)")
	cmd.Flags().Int64Var(&opts.MaxSteps, "max-steps", 0, "matcher step budget (0 = engine default)")
	cmd.Flags().IntVar(&opts.MaxFirings, "max-firings", 0, "stop after this many firings (0 = unlimited)")
	cmd.Flags().IntVar(&opts.MaxFiringsPerRule, "max-firings-per-rule", 0, "stop once a rule fires this many times (0 = unlimited)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "wall-clock budget (0 = none)")
	cmd.Flags().IntVar(&opts.GCInterval, "gc-interval", 0, "collect garbage every n cycles (0 = engine default, negative = never)")

	return cmd
}

func runSystem(opts *RunOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions)

	if opts.MaxCycles < 0 || opts.MaxSteps < 0 || opts.MaxFirings < 0 || opts.MaxFiringsPerRule < 0 || opts.Timeout < 0 {
		return runError(formatter, ErrCodeGeneric, "budget limits must be non-negative", nil)
	}
	mode, err := engine.ParseRunMode(opts.Mode)
	if err != nil {
		return runError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	logger.Debug("loading rules", "dir", rulesDir)
	loadResult, loadErrors := LoadRules(rulesDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		code, message := parseCompileError(loadErrors[0])
		return runError(formatter, code, message, loadErrors[0])
	}
	sys, err := SelectSystem(loadResult.Program, opts.System)
	if err != nil {
		code, message := parseCompileError(err)
		return runError(formatter, code, message, err)
	}
	logger.Debug("rules loaded", "files", loadResult.FileCount, "system", sys.Name, "rules", len(sys.Rules))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sp := space.New(space.WithLogger(logger))
	defer sp.Close()

	snap := &codec.Snapshot{Format: codec.FormatVersion}
	if opts.Space != "" {
		snap, err = codec.LoadFile(opts.Space)
		if err != nil {
			return runError(formatter, ErrCodeSpaceFailed, fmt.Sprintf("reading space %s: %v", opts.Space, err), err)
		}
	}
	refs, err := codec.Restore(ctx, sp, snap)
	if err != nil {
		return runError(formatter, ErrCodeSpaceFailed, fmt.Sprintf("restoring space: %v", err), err)
	}
	logger.Debug("space ready", "objects", len(refs), "roots", len(sp.Roots()))

	inputs, err := parseInputs(opts.Inputs, snap, refs)
	if err != nil {
		return runError(formatter, ErrCodeSpaceFailed, err.Error(), err)
	}

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	reg := prometheus.NewRegistry()
	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(reg)),
		engine.WithRunIDGenerator(runIDs),
		engine.WithRunMode(mode),
		engine.WithGCInterval(opts.GCInterval),
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return runError(formatter, ErrCodeStoreFailed, fmt.Sprintf("opening database: %v", err), err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		// Sequence numbers keep growing across runs in one database.
		last, err := st.LastSeq(ctx)
		if err != nil {
			return runError(formatter, ErrCodeStoreFailed, fmt.Sprintf("reading database: %v", err), err)
		}
		engineOpts = append(engineOpts, engine.WithRecorder(st), engine.WithClock(engine.NewClockAt(last)))
	}

	eng := engine.New(sp, engineOpts...)
	budget := engine.Budget{
		MaxCycles:         opts.MaxCycles,
		MaxSteps:          opts.MaxSteps,
		Timeout:           opts.Timeout,
		MaxFirings:        opts.MaxFirings,
		MaxFiringsPerRule: opts.MaxFiringsPerRule,
	}

	result, runErr := eng.RunSystem(ctx, *sys, budget, inputs...)
	if !result.State.Halted() {
		return runError(formatter, ErrCodeGeneric, fmt.Sprintf("running system %s: %v", sys.Name, runErr), runErr)
	}
	logMetrics(logger, reg)

	out := RunOutput{Result: result}
	if runErr != nil {
		out.Error = runErr.Error()
	}

	if opts.Snapshot != "" {
		final, err := codec.Capture(sp)
		if err != nil {
			return runError(formatter, ErrCodeSpaceFailed, fmt.Sprintf("capturing space: %v", err), err)
		}
		if err := codec.WriteFile(opts.Snapshot, final); err != nil {
			return runError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing snapshot: %v", err), err)
		}
		if st != nil {
			if err := st.SaveSnapshot(context.WithoutCancel(ctx), result.RunID, result.RunID, final); err != nil {
				return runError(formatter, ErrCodeStoreFailed, fmt.Sprintf("saving snapshot: %v", err), err)
			}
		}
		out.Snapshot = opts.Snapshot
	}

	if err := outputRunResult(formatter, out); err != nil {
		return err
	}

	switch {
	case HaltExitCode(result.State) == ExitFailure:
		return WrapExitError(ExitFailure, fmt.Sprintf("run %s aborted", result.RunID), runErr)
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		// The run itself halted normally; only recording failed.
		return WrapExitError(ExitCommandError, "failed to record trace", runErr)
	}
	return nil
}

// parseInputs decodes each input as a seed value and resolves object
// references against the restored space.
func parseInputs(raw []string, snap *codec.Snapshot, refs []ir.ObjectRef) ([]ir.Value, error) {
	names := snap.Names()
	inputs := make([]ir.Value, 0, len(raw))
	for i, s := range raw {
		n, err := inputNode(s)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		v, err := codec.ParseSeedValue(n, names)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		resolved, err := codec.Resolve(v, refs)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		inputs = append(inputs, resolved)
	}
	return inputs, nil
}

// inputNode parses one --input flag. A bare "@name" cannot start a plain
// YAML scalar, so it is taken as a string as written.
func inputNode(s string) (*yaml.Node, error) {
	if strings.HasPrefix(s, "@") {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) != 1 {
		return nil, fmt.Errorf("empty value")
	}
	return doc.Content[0], nil
}

// logMetrics writes the run's counters at debug level.
func logMetrics(logger *slog.Logger, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		logger.Debug("gathering metrics failed", "error", err)
		return
	}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
		logger.Debug("metric", "name", mf.GetName(), "series", len(mf.GetMetric()), "total", total)
	}
}

func outputRunResult(formatter *OutputFormatter, out RunOutput) error {
	if formatter.Format == "json" {
		return formatter.SuccessRun(out.RunID, out)
	}

	w := formatter.Writer
	mark := "✓"
	if out.State == engine.StateAborted {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s\n\n", mark, out.State)
	fmt.Fprintf(w, "Run:      %s\n", out.RunID)
	fmt.Fprintf(w, "System:   %s (%s)\n", out.System, out.Mode)
	fmt.Fprintf(w, "Cycles:   %d\n", out.Cycles)
	fmt.Fprintf(w, "Firings:  %d\n", out.Firings)
	fmt.Fprintf(w, "Steps:    %d\n", out.Steps)
	if out.GCRuns > 0 {
		fmt.Fprintf(w, "GC:       %d run(s), %d reclaimed\n", out.GCRuns, out.Reclaimed)
	}
	if len(out.FiringsByRule) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Rules:")
		names := make([]string, 0, len(out.FiringsByRule))
		for name := range out.FiringsByRule {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %d\n", name, out.FiringsByRule[name])
		}
	}
	if out.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", out.Error)
	}
	if out.Snapshot != "" {
		fmt.Fprintf(w, "\nWrote snapshot to %s\n", out.Snapshot)
	}
	return nil
}

// runError reports a command error and returns exit code 2.
func runError(formatter *OutputFormatter, code, message string, err error) error {
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), err)
}
