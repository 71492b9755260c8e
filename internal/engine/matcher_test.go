package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/space"
)

// scenarioRule is ?x.foo = ?n, ?n > 3, ?y.bar = ?x.
func scenarioRule() ir.Rule {
	return ir.Rule{
		Name: "mark",
		Clauses: []ir.Clause{
			ir.MatchClause(ir.V("x"), "foo", ir.V("n")),
			ir.CompareClause(ir.V("n"), ir.OpGt, ir.C(ir.Int(3))),
			ir.MatchClause(ir.V("y"), "bar", ir.V("x")),
		},
		Actions: []ir.Action{
			ir.SetAction(ir.V("y"), "baz", ir.C(ir.Intern("true"))),
		},
	}
}

func TestMatcher_ScenarioJoin(t *testing.T) {
	sp := newTestSpace(t)
	a := mustObject(t, sp, attr("foo", ir.Int(5)))
	b := mustObject(t, sp, attr("bar", a))

	envs, err := NewMatcher(sp).MatchAll(context.Background(), mustPlan(t, scenarioRule()), nil)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, ir.Bindings{"x": a, "n": ir.Int(5), "y": b}, envs[0])
}

func TestMatcher_ScenarioJoinFiltered(t *testing.T) {
	sp := newTestSpace(t)
	a := mustObject(t, sp, attr("foo", ir.Int(2)))
	mustObject(t, sp, attr("bar", a))

	env, ok, err := NewMatcher(sp).MatchFirst(context.Background(), mustPlan(t, scenarioRule()), nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, env)
}

func TestMatcher_MatchAllCompleteAndSound(t *testing.T) {
	sp := newTestSpace(t)
	var parents []ir.ObjectRef
	for i := 1; i <= 4; i++ {
		parents = append(parents, mustObject(t, sp, attr("n", ir.Int(int64(i)))))
	}
	// Two children per parent.
	for _, p := range parents {
		mustObject(t, sp, attr("parent", p))
		mustObject(t, sp, attr("parent", p))
	}

	rule := ir.Rule{
		Name: "big-family",
		Clauses: []ir.Clause{
			ir.MatchClause(ir.V("c"), "parent", ir.V("p")),
			ir.MatchClause(ir.V("p"), "n", ir.V("v")),
			ir.CompareClause(ir.V("v"), ir.OpGe, ir.C(ir.Int(3))),
		},
	}
	plan := mustPlan(t, rule)

	envs, err := NewMatcher(sp).MatchAll(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.Len(t, envs, 4, "two qualifying parents with two children each")

	seen := make(map[string]bool)
	for _, env := range envs {
		assert.True(t, satisfies(t, sp, rule.Clauses, env), "env %s", env)
		h := ir.MustBindingHash(env)
		assert.False(t, seen[h], "env %s returned twice", env)
		seen[h] = true
	}
}

func TestMatcher_MatchAllMergesEqualNumbers(t *testing.T) {
	sp := newTestSpace(t)
	mustObject(t, sp, attr("v", ir.Int(5)))
	mustObject(t, sp, attr("v", ir.Float(5.0)))
	mustObject(t, sp, attr("v", ir.Float(5.5)))

	rule := ir.Rule{
		Name:    "values",
		Clauses: []ir.Clause{ir.MatchClause(ir.Wildcard, "v", ir.V("n"))},
	}
	envs, err := NewMatcher(sp).MatchAll(context.Background(), mustPlan(t, rule), nil)
	require.NoError(t, err)
	require.Len(t, envs, 2, "5 and 5.0 bind the same environment")
	assert.False(t, ir.Equal(envs[0]["n"], envs[1]["n"]))
	for _, env := range envs {
		n := env["n"]
		assert.True(t, ir.Equal(n, ir.Int(5)) || ir.Equal(n, ir.Float(5.5)), "unexpected %v", n)
	}
}

func TestMatcher_SearchIsLazyAndRestartable(t *testing.T) {
	sp := newTestSpace(t)
	for i := 0; i < 3; i++ {
		mustObject(t, sp, attr("n", ir.Int(int64(i))))
	}
	rule := ir.Rule{
		Name:    "all-n",
		Clauses: []ir.Clause{ir.MatchClause(ir.V("o"), "n", ir.V("v"))},
	}

	s := NewMatcher(sp).Search(context.Background(), mustPlan(t, rule), nil)
	assert.Zero(t, s.Steps(), "nothing runs before Next")

	var first []ir.Bindings
	for env, ok := s.Next(); ok; env, ok = s.Next() {
		first = append(first, env)
	}
	require.Len(t, first, 3)
	_, ok := s.Next()
	assert.False(t, ok, "exhausted search stays exhausted")
	assert.NoError(t, s.Err())

	s.Reset()
	var second []ir.Bindings
	for env, ok := s.Next(); ok; env, ok = s.Next() {
		second = append(second, env)
	}
	assert.Equal(t, first, second)
}

func TestMatcher_EmptyPatternMatchesOnce(t *testing.T) {
	sp := newTestSpace(t)
	seed := ir.Bindings{"k": ir.Int(1)}

	envs, err := NewMatcher(sp).MatchAll(context.Background(), &ir.Plan{}, seed)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, seed, envs[0])
}

func TestMatcher_SeedRestrictsSearch(t *testing.T) {
	sp := newTestSpace(t)
	a := mustObject(t, sp, attr("n", ir.Int(1)))
	mustObject(t, sp, attr("n", ir.Int(2)))

	rule := ir.Rule{
		Name:    "lookup",
		Clauses: []ir.Clause{ir.MatchClause(ir.V("o"), "n", ir.V("v"))},
	}
	envs, err := NewMatcher(sp).MatchAll(context.Background(), mustPlan(t, rule, "o"), ir.Bindings{"o": a})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, ir.Int(1), envs[0]["v"])
}

func TestMatcher_BoundNonObjectNeverMatches(t *testing.T) {
	sp := newTestSpace(t)
	mustObject(t, sp, attr("n", ir.Int(1)))

	rule := ir.Rule{
		Name:    "lookup",
		Clauses: []ir.Clause{ir.MatchClause(ir.V("o"), "n", ir.Wildcard)},
	}
	_, ok, err := NewMatcher(sp).MatchFirst(context.Background(), mustPlan(t, rule, "o"), ir.Bindings{"o": ir.Int(7)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatcher_RepeatedVariableUnifies(t *testing.T) {
	sp := newTestSpace(t)
	self := mustObject(t, sp)
	other := mustObject(t, sp)
	require.NoError(t, sp.Update(context.Background(), func(txn *space.Txn) error {
		if err := txn.SetAttribute(self, ir.Intern("next"), self); err != nil {
			return err
		}
		return txn.SetAttribute(other, ir.Intern("next"), self)
	}))

	rule := ir.Rule{
		Name:    "loop",
		Clauses: []ir.Clause{ir.MatchClause(ir.V("o"), "next", ir.V("o"))},
	}
	envs, err := NewMatcher(sp).MatchAll(context.Background(), mustPlan(t, rule), nil)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, self, envs[0]["o"])
}

func TestMatcher_ClauseKinds(t *testing.T) {
	tests := []struct {
		name    string
		clauses []ir.Clause
		want    []int64
	}{
		{
			name: "comparison",
			clauses: []ir.Clause{
				ir.MatchClause(ir.V("o"), "n", ir.V("v")),
				ir.CompareClause(ir.V("v"), ir.OpNe, ir.C(ir.Int(2))),
			},
			want: []int64{1, 3},
		},
		{
			name: "calculation",
			clauses: []ir.Clause{
				ir.MatchClause(ir.V("o"), "n", ir.V("v")),
				ir.CalcClause(ir.V("d"), ir.V("v"), ir.OpMul, ir.C(ir.Int(2))),
				ir.CompareClause(ir.V("d"), ir.OpGe, ir.C(ir.Int(4))),
			},
			want: []int64{2, 3},
		},
		{
			name: "calculation against a constant",
			clauses: []ir.Clause{
				ir.MatchClause(ir.V("o"), "n", ir.V("v")),
				ir.CalcClause(ir.C(ir.Int(4)), ir.V("v"), ir.OpAdd, ir.C(ir.Int(1))),
			},
			want: []int64{3},
		},
		{
			name: "negation",
			clauses: []ir.Clause{
				ir.MatchClause(ir.V("o"), "n", ir.V("v")),
				ir.NotClause(ir.MatchClause(ir.V("o"), "skip", ir.Wildcard)),
			},
			want: []int64{1, 3},
		},
		{
			name: "type mismatch fails the branch",
			clauses: []ir.Clause{
				ir.MatchClause(ir.V("o"), "n", ir.V("v")),
				ir.CompareClause(ir.V("v"), ir.OpLt, ir.C(ir.Intern("z"))),
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := newTestSpace(t)
			mustObject(t, sp, attr("n", ir.Int(1)))
			mustObject(t, sp, attr("n", ir.Int(2)), attr("skip", ir.Intern("yes")))
			mustObject(t, sp, attr("n", ir.Int(3)))

			plan := mustPlan(t, ir.Rule{Name: "kinds", Clauses: tt.clauses})
			envs, err := NewMatcher(sp).MatchAll(context.Background(), plan, nil)
			require.NoError(t, err)

			var got []int64
			for _, env := range envs {
				got = append(got, int64(env["v"].(ir.Int)))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcher_DestructureArity(t *testing.T) {
	sp := newTestSpace(t)
	pair := mustObject(t, sp, attr("t", ir.NewTuple(ir.Int(1), ir.Intern("a"))))
	mustObject(t, sp, attr("t", ir.NewTuple(ir.Int(1), ir.Intern("a"), ir.Int(9))))
	mustObject(t, sp, attr("t", ir.Int(4)))

	rule := ir.Rule{
		Name: "pairs",
		Clauses: []ir.Clause{
			ir.MatchClause(ir.V("o"), "t", ir.V("tup")),
			ir.DestructureClause(ir.V("tup"), ir.V("n"), ir.C(ir.Intern("a"))),
		},
	}
	envs, err := NewMatcher(sp).MatchAll(context.Background(), mustPlan(t, rule), nil)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, pair, envs[0]["o"])
	assert.Equal(t, ir.Int(1), envs[0]["n"])
}

func TestMatcher_UnboundComparisonFails(t *testing.T) {
	sp := newTestSpace(t)
	mustObject(t, sp, attr("n", ir.Int(1)))

	// Built by hand: the planner would refuse this order.
	plan := &ir.Plan{Clauses: []ir.Clause{
		ir.CompareClause(ir.V("v"), ir.OpGt, ir.C(ir.Int(0))),
		ir.MatchClause(ir.V("o"), "n", ir.V("v")),
	}}
	envs, err := NewMatcher(sp).MatchAll(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestMatcher_StepLimit(t *testing.T) {
	sp := newTestSpace(t)
	for i := 0; i < 20; i++ {
		mustObject(t, sp, attr("n", ir.Int(int64(i))))
	}
	rule := ir.Rule{
		Name: "pairs",
		Clauses: []ir.Clause{
			ir.MatchClause(ir.V("a"), "n", ir.V("x")),
			ir.MatchClause(ir.V("b"), "n", ir.V("y")),
		},
	}

	s := NewMatcher(sp, WithStepLimit(50)).Search(context.Background(), mustPlan(t, rule), nil)
	_, err := s.All()
	require.Error(t, err)
	assert.True(t, ir.IsBudgetExhausted(err))
	assert.Equal(t, int64(50), s.Steps())

	envs, err := NewMatcher(sp).MatchAll(context.Background(), mustPlan(t, rule), nil)
	require.NoError(t, err)
	assert.Len(t, envs, 400)
}

func TestMatcher_NegationSharesStepLimit(t *testing.T) {
	sp := newTestSpace(t)
	for i := 0; i < 10; i++ {
		mustObject(t, sp, attr("n", ir.Int(int64(i))))
	}
	rule := ir.Rule{
		Name: "no-bigger",
		Clauses: []ir.Clause{
			ir.MatchClause(ir.V("a"), "n", ir.V("x")),
			ir.NotClause(
				ir.MatchClause(ir.V("b"), "n", ir.V("y")),
				ir.CompareClause(ir.V("y"), ir.OpGt, ir.V("x")),
			),
		},
	}
	plan := mustPlan(t, rule)

	envs, err := NewMatcher(sp).MatchAll(context.Background(), plan, nil)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, ir.Int(9), envs[0]["x"])

	_, err = NewMatcher(sp, WithStepLimit(15)).MatchAll(context.Background(), plan, nil)
	assert.True(t, ir.IsBudgetExhausted(err))
}

func TestMatcher_Cancellation(t *testing.T) {
	sp := newTestSpace(t)
	for i := 0; i < 2*ctxCheckInterval; i++ {
		mustObject(t, sp, attr("n", ir.Int(int64(i))))
	}
	rule := ir.Rule{
		Name:    "all",
		Clauses: []ir.Clause{ir.MatchClause(ir.V("o"), "n", ir.Wildcard)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMatcher(sp).MatchAll(ctx, mustPlan(t, rule), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ir.IsBudgetExhausted(err))
}

func TestMatcher_DoesNotMutate(t *testing.T) {
	sp := newTestSpace(t)
	a := mustObject(t, sp, attr("foo", ir.Int(5)))
	mustObject(t, sp, attr("bar", a))
	before := sp.Stats()

	_, err := NewMatcher(sp).MatchAll(context.Background(), mustPlan(t, scenarioRule()), nil)
	require.NoError(t, err)
	assert.Equal(t, before, sp.Stats())
	assert.Zero(t, sp.Depth())
}
