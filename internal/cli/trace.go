package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Rule     string // optional - filter to one rule
}

// TraceEvent is one firing in the trace timeline.
type TraceEvent struct {
	Seq       int64       `json:"seq"`
	Cycle     int         `json:"cycle"`
	Rule      string      `json:"rule"`
	Bindings  ir.Bindings `json:"bindings"`
	Mutations []string    `json:"mutations"`
}

// TraceResult holds the trace of one run.
type TraceResult struct {
	Run      ir.Run         `json:"run"`
	Timeline []TraceEvent   `json:"timeline"`
	Counts   map[string]int `json:"counts"`
	Stats    TraceStats     `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalFirings int `json:"total_firings"`
	Shown        int `json:"shown"`
	Rules        int `json:"rules"`
	Mutations    int `json:"mutations"`
}

// RunListing lists the runs and snapshots in a trace database.
type RunListing struct {
	Runs      []ir.Run             `json:"runs"`
	Snapshots []store.SnapshotInfo `json:"snapshots"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded runs and their firings",
		Long: `Show the firing trace of a run recorded with "run --db".

Without --run, lists every run and snapshot in the database. With --run,
prints the run's firings in logical clock order: the rule, the bindings
it fired with and, with --verbose, the mutations it applied.

Examples:
  symspace trace --db ./trace.db
  symspace trace --db ./trace.db --run 0192...
  symspace trace --db ./trace.db --run 0192... --rule inc --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to trace")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "show only firings of this rule")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening would create an empty database.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunID == "" {
		return listRuns(ctx, opts, st, cmd.OutOrStdout())
	}

	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		if opts.Format == "json" {
			return outputTraceJSON(cmd.OutOrStdout(), TraceResult{
				Run:      ir.Run{ID: opts.RunID},
				Timeline: []TraceEvent{},
				Counts:   map[string]int{},
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "No run found: %s\n", opts.RunID)
		return nil
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	firings, err := st.ReadFirings(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read firings", err)
	}
	counts, err := st.FiringCounts(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count firings", err)
	}

	timeline := buildTimeline(firings, opts.Rule)
	mutations := 0
	for _, ev := range timeline {
		mutations += len(ev.Mutations)
	}
	result := TraceResult{
		Run:      run,
		Timeline: timeline,
		Counts:   counts,
		Stats: TraceStats{
			TotalFirings: len(firings),
			Shown:        len(timeline),
			Rules:        len(counts),
			Mutations:    mutations,
		},
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd.OutOrStdout(), result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// buildTimeline converts stored firings to timeline events, keeping only
// ruleFilter's firings when it is set.
func buildTimeline(firings []ir.Firing, ruleFilter string) []TraceEvent {
	timeline := []TraceEvent{}
	for _, f := range firings {
		if ruleFilter != "" && f.Rule != ruleFilter {
			continue
		}
		muts := f.Mutations
		if muts == nil {
			muts = []string{}
		}
		timeline = append(timeline, TraceEvent{
			Seq:       f.Seq,
			Cycle:     f.Cycle,
			Rule:      f.Rule,
			Bindings:  f.Bindings,
			Mutations: muts,
		})
	}
	return timeline
}

func listRuns(ctx context.Context, opts *TraceOptions, st *store.Store, w io.Writer) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	snaps, err := st.ListSnapshots(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list snapshots", err)
	}

	if opts.Format == "json" {
		out := &OutputFormatter{Format: "json", Writer: w}
		return out.Success(RunListing{Runs: runs, Snapshots: snaps})
	}

	fmt.Fprintln(w, "=== Runs ===")
	if len(runs) == 0 {
		fmt.Fprintln(w, "  (no runs)")
	}
	for _, r := range runs {
		fmt.Fprintf(w, "  %s  %-16s %s/%s  cycles=%d firings=%d\n",
			r.ID, r.State, r.System, r.Mode, r.Cycles, r.Firings)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Snapshots ===")
	if len(snaps) == 0 {
		fmt.Fprintln(w, "  (no snapshots)")
	}
	for _, s := range snaps {
		fmt.Fprintf(w, "  %s  objects=%d size=%d\n", s.Name, s.Objects, s.Size)
	}
	return nil
}

func outputTraceJSON(w io.Writer, result TraceResult) error {
	out := &OutputFormatter{Format: "json", Writer: w}
	return out.SuccessRun(result.Run.ID, result)
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	run := result.Run
	fmt.Fprintf(w, "Trace for Run: %s\n", run.ID)
	fmt.Fprintf(w, "System: %s (%s)\n", run.System, run.Mode)
	fmt.Fprintf(w, "State: %s\n", runStatus(run))
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no firings)")
	}
	for _, ev := range result.Timeline {
		fmt.Fprintf(w, "  [%d] cycle %d  %s %s\n", ev.Seq, ev.Cycle, ev.Rule, ev.Bindings)
		if verbose {
			for _, m := range ev.Mutations {
				fmt.Fprintf(w, "       %s\n", m)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Rules ===")
	names := make([]string, 0, len(result.Counts))
	for name := range result.Counts {
		names = append(names, name)
	}
	slices.Sort(names)
	if len(names) == 0 {
		fmt.Fprintln(w, "  (none fired)")
	}
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", name, result.Counts[name])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Firings:   %d\n", result.Stats.TotalFirings)
	fmt.Fprintf(w, "  Shown:     %d\n", result.Stats.Shown)
	fmt.Fprintf(w, "  Cycles:    %d\n", run.Cycles)
	fmt.Fprintf(w, "  Steps:     %d\n", run.Steps)
	fmt.Fprintf(w, "  Mutations: %d\n", result.Stats.Mutations)
	return nil
}

// runStatus renders a run's terminal state. A run that never ended is
// still marked running in the database.
func runStatus(run ir.Run) string {
	if run.State == "" || run.State == "running" {
		return "incomplete"
	}
	return run.State
}
