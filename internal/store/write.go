package store

import (
	"context"
	"fmt"

	"github.com/roach88/symspace/internal/ir"
)

// BeginRun inserts the header row for a run.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - a run ID that was
// already recorded is left untouched.
func (s *Store) BeginRun(ctx context.Context, run ir.Run) error {
	state := run.State
	if state == "" {
		state = "running"
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO runs
		(id, system, mode, state, cycles, firings, steps, error, engine_version, format_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.System,
		run.Mode,
		state,
		run.Cycles,
		run.Firings,
		run.Steps,
		run.Error,
		run.EngineVersion,
		run.FormatVersion,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordFiring appends one firing to its run's trace.
// The run must have been started with BeginRun (foreign key constraint).
// A firing whose (run_id, seq) already exists is silently ignored.
func (s *Store) RecordFiring(ctx context.Context, f ir.Firing) error {
	bindingsJSON, err := marshalBindings(f.Bindings)
	if err != nil {
		return fmt.Errorf("record firing: %w", err)
	}
	mutationsJSON, err := marshalMutations(f.Mutations)
	if err != nil {
		return fmt.Errorf("record firing: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO firings
		(run_id, seq, cycle, rule, bindings, binding_hash, mutations)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		f.RunID,
		f.Seq,
		f.Cycle,
		f.Rule,
		bindingsJSON,
		f.BindingHash,
		mutationsJSON,
	)
	if err != nil {
		return fmt.Errorf("record firing: %w", err)
	}
	return nil
}

// EndRun stores the final state and counters of a run.
// Returns an error if the run was never started.
func (s *Store) EndRun(ctx context.Context, run ir.Run) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE runs
		SET state = ?, cycles = ?, firings = ?, steps = ?, error = ?
		WHERE id = ?
	`,
		run.State,
		run.Cycles,
		run.Firings,
		run.Steps,
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("end run: unknown run %q", run.ID)
	}
	return nil
}

// WriteTrace records a complete run in one transaction. It is used to
// import traces produced elsewhere.
func (s *Store) WriteTrace(ctx context.Context, run ir.Run, firings []ir.Firing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	defer tx.Rollback()

	// Route the writes through the transaction.
	txStore := &Store{db: s.db, q: tx}
	if err := txStore.BeginRun(ctx, run); err != nil {
		return err
	}
	for _, f := range firings {
		f.RunID = run.ID
		if err := txStore.RecordFiring(ctx, f); err != nil {
			return err
		}
	}
	if err := txStore.EndRun(ctx, run); err != nil {
		return err
	}
	return tx.Commit()
}
