package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/roach88/symspace/internal/ir"
)

func TestBeginRun_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	mustBeginRun(t, s, "run-1")

	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.State != "running" {
		t.Errorf("State = %q, want running", run.State)
	}
	if run.System != "counter" || run.Mode != "saturate" {
		t.Errorf("unexpected header: %+v", run)
	}
	if run.EngineVersion != ir.EngineVersion {
		t.Errorf("EngineVersion = %q, want %q", run.EngineVersion, ir.EngineVersion)
	}
}

func TestBeginRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	mustBeginRun(t, s, "run-1")

	again := createTestRun("run-1")
	again.System = "other"
	if err := s.BeginRun(ctx, again); err != nil {
		t.Fatalf("second BeginRun() failed: %v", err)
	}

	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.System != "counter" {
		t.Errorf("System = %q, want the first write to win", run.System)
	}
}

func TestRecordFiring_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	mustBeginRun(t, s, "run-1")

	f := createTestFiring("run-1", "inc", 1, 0)
	for i := 0; i < 3; i++ {
		if err := s.RecordFiring(ctx, f); err != nil {
			t.Fatalf("RecordFiring() attempt %d failed: %v", i, err)
		}
	}

	firings, err := s.ReadFirings(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadFirings() failed: %v", err)
	}
	if len(firings) != 1 {
		t.Errorf("expected 1 firing, got %d", len(firings))
	}
}

func TestRecordFiring_CanonicalBindings(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	mustBeginRun(t, s, "run-1")

	f := createTestFiring("run-1", "inc", 1, 0)
	f.Bindings = ir.Bindings{
		"z":    ir.Intern("last"),
		"a":    ir.NewObjectRef(3, 0),
		"pair": ir.NewTuple(ir.Int(1), ir.Float(0.5)),
	}
	if err := s.RecordFiring(ctx, f); err != nil {
		t.Fatalf("RecordFiring() failed: %v", err)
	}

	var stored string
	err := s.db.QueryRow("SELECT bindings FROM firings WHERE run_id = ?", "run-1").Scan(&stored)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	want := `{"a":{"ref":"#3"},"pair":{"tuple":[{"int":1},{"float":"0.5"}]},"z":{"sym":"last"}}`
	if stored != want {
		t.Errorf("bindings = %s\nwant %s", stored, want)
	}
}

func TestEndRun(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	run := mustBeginRun(t, s, "run-1")
	run.State = "no_match"
	run.Cycles = 4
	run.Firings = 3
	run.Steps = 27
	if err := s.EndRun(ctx, run); err != nil {
		t.Fatalf("EndRun() failed: %v", err)
	}

	got, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if got != run {
		t.Errorf("ReadRun() = %+v, want %+v", got, run)
	}
}

func TestEndRun_UnknownRun(t *testing.T) {
	s := createTestStore(t)

	err := s.EndRun(t.Context(), createTestRun("never-started"))
	if err == nil {
		t.Error("expected error ending a run that was never started")
	}
}

func TestWriteTrace(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	run := createTestRun("imported")
	run.State = "no_match"
	run.Firings = 2
	firings := []ir.Firing{
		createTestFiring("", "inc", 1, 0),
		createTestFiring("", "inc", 2, 1),
	}
	if err := s.WriteTrace(ctx, run, firings); err != nil {
		t.Fatalf("WriteTrace() failed: %v", err)
	}

	got, err := s.ReadFirings(ctx, "imported")
	if err != nil {
		t.Fatalf("ReadFirings() failed: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "imported" {
		t.Errorf("unexpected firings: %+v", got)
	}
}

func TestWriteTrace_RollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	// A firing with an unencodable binding fails after the header insert.
	bad := createTestFiring("", "inc", 1, 0)
	bad.Bindings = ir.Bindings{"x": nil}
	if err := s.WriteTrace(ctx, createTestRun("partial"), []ir.Firing{bad}); err == nil {
		t.Fatal("expected WriteTrace() to fail")
	}

	_, err := s.ReadRun(ctx, "partial")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ReadRun() error = %v, want sql.ErrNoRows after rollback", err)
	}
}
