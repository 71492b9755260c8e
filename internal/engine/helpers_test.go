package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/symspace/internal/compiler"
	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/space"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func attr(key string, v ir.Value) ir.Attribute {
	return ir.Attribute{Key: ir.Intern(key), Value: v}
}

// newTestSpace returns a space that is closed when the test ends.
func newTestSpace(t *testing.T) *space.Space {
	t.Helper()
	sp := space.New(space.WithLogger(quietLogger()))
	t.Cleanup(func() {
		_ = sp.Close()
	})
	return sp
}

// mustObject commits a new object with the given attributes.
func mustObject(t *testing.T, sp *space.Space, attrs ...ir.Attribute) ir.ObjectRef {
	t.Helper()
	var ref ir.ObjectRef
	err := sp.Update(context.Background(), func(txn *space.Txn) error {
		var err error
		if ref, err = txn.CreateObject(); err != nil {
			return err
		}
		for _, a := range attrs {
			if err := txn.SetAttribute(ref, a.Key, a.Value); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return ref
}

// mustRoot pins ref as a GC root.
func mustRoot(t *testing.T, sp *space.Space, ref ir.ObjectRef) {
	t.Helper()
	require.NoError(t, sp.Update(context.Background(), func(txn *space.Txn) error {
		return txn.AddRoot(ref)
	}))
}

// getAttr reads a committed attribute, failing the test on a bad handle.
func getAttr(t *testing.T, sp *space.Space, ref ir.ObjectRef, key string) (ir.Value, bool) {
	t.Helper()
	v, ok, err := sp.GetAttribute(ref, ir.Intern(key))
	require.NoError(t, err)
	return v, ok
}

// mustPlan compiles rule with the given seed variables.
func mustPlan(t *testing.T, rule ir.Rule, seed ...ir.Var) *ir.Plan {
	t.Helper()
	plan, err := compiler.NewPlanner().Plan(rule, seed)
	require.NoError(t, err)
	return plan
}

// newTestEngine returns an engine with a quiet logger and fixed run IDs.
func newTestEngine(sp *space.Space, opts ...Option) *Engine {
	base := []Option{
		WithLogger(quietLogger()),
		WithRunIDGenerator(NewFixedGenerator("run-1", "run-2", "run-3", "run-4")),
	}
	return New(sp, append(base, opts...)...)
}

// satisfies reports whether env satisfies every clause when substituted in.
func satisfies(t *testing.T, sp *space.Space, clauses []ir.Clause, env ir.Bindings) bool {
	t.Helper()
	plan := &ir.Plan{Clauses: clauses}
	_, ok, err := NewMatcher(sp).MatchFirst(context.Background(), plan, env)
	require.NoError(t, err)
	return ok
}
