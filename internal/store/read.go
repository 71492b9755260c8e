package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/symspace/internal/ir"
)

// ReadRun retrieves a run header by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (ir.Run, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, system, mode, state, cycles, firings, steps, error, engine_version, format_version
		FROM runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns every run header ordered by ID.
// Returns an empty slice (not nil) if the store holds no runs.
func (s *Store) ListRuns(ctx context.Context) ([]ir.Run, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, system, mode, state, cycles, firings, steps, error, engine_version, format_version
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadFirings returns the trace of a run in logical clock order.
// Returns an empty slice (not nil) if the run recorded no firings.
func (s *Store) ReadFirings(ctx context.Context, runID string) ([]ir.Firing, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT run_id, seq, cycle, rule, bindings, binding_hash, mutations
		FROM firings
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query firings: %w", err)
	}
	defer rows.Close()

	firings := []ir.Firing{}
	for rows.Next() {
		var (
			f             ir.Firing
			bindingsJSON  string
			mutationsJSON string
		)
		if err := rows.Scan(&f.RunID, &f.Seq, &f.Cycle, &f.Rule, &bindingsJSON, &f.BindingHash, &mutationsJSON); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		if f.Bindings, err = unmarshalBindings(bindingsJSON); err != nil {
			return nil, fmt.Errorf("firing %s/%d: %w", f.RunID, f.Seq, err)
		}
		if f.Mutations, err = unmarshalMutations(mutationsJSON); err != nil {
			return nil, fmt.Errorf("firing %s/%d: %w", f.RunID, f.Seq, err)
		}
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firings: %w", err)
	}
	return firings, nil
}

// FiringCounts returns how many times each rule fired in a run.
func (s *Store) FiringCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT rule, COUNT(*)
		FROM firings
		WHERE run_id = ?
		GROUP BY rule
		ORDER BY rule COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query firing counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			rule string
			n    int
		)
		if err := rows.Scan(&rule, &n); err != nil {
			return nil, fmt.Errorf("scan firing count: %w", err)
		}
		counts[rule] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firing counts: %w", err)
	}
	return counts, nil
}

// LastSeq returns the highest seq recorded across all runs, or 0.
// Used to resume the logical clock when appending to an existing store.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM firings
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (ir.Run, error) {
	var run ir.Run
	err := row.Scan(
		&run.ID,
		&run.System,
		&run.Mode,
		&run.State,
		&run.Cycles,
		&run.Firings,
		&run.Steps,
		&run.Error,
		&run.EngineVersion,
		&run.FormatVersion,
	)
	if err == sql.ErrNoRows {
		return ir.Run{}, err
	}
	if err != nil {
		return ir.Run{}, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}
