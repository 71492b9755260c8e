package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/symspace/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun returns a run header with minimal required fields.
func createTestRun(id string) ir.Run {
	return ir.Run{
		ID:            id,
		System:        "counter",
		Mode:          "saturate",
		EngineVersion: ir.EngineVersion,
		FormatVersion: ir.FormatVersion,
	}
}

// createTestFiring returns a firing of rule with a single binding.
func createTestFiring(runID, rule string, seq int64, n int64) ir.Firing {
	b := ir.Bindings{"n": ir.Int(n)}
	hash, err := ir.BindingHash(b)
	if err != nil {
		panic(err)
	}
	return ir.Firing{
		RunID:       runID,
		Seq:         seq,
		Cycle:       int(seq),
		Rule:        rule,
		Bindings:    b,
		BindingHash: hash,
		Mutations:   []string{"set #1.n = 1"},
	}
}

// mustBeginRun starts a run or fails the test.
func mustBeginRun(t *testing.T, s *Store, id string) ir.Run {
	t.Helper()
	run := createTestRun(id)
	if err := s.BeginRun(context.Background(), run); err != nil {
		t.Fatalf("BeginRun(%q) failed: %v", id, err)
	}
	return run
}
