package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/space"
)

// ctxCheckInterval is how many search steps run between context checks.
const ctxCheckInterval = 256

// Matcher executes compiled plans against a space.
//
// A search is a depth-first walk over the plan's clauses driven by an
// explicit stack of choice points. Each choice point remembers how far the
// undo trail reached when its clause was entered, so backtracking restores
// exactly the bindings introduced since then. Negations run a nested search.
//
// Matching reads the live view of the space and never mutates it.
type Matcher struct {
	space *space.Space
	limit int64
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithStepLimit bounds every search to n steps. A search that reaches the
// limit stops and reports a BudgetExhausted error from Err. Zero means
// unlimited.
func WithStepLimit(n int64) MatcherOption {
	return func(m *Matcher) {
		m.limit = n
	}
}

// NewMatcher creates a Matcher over sp.
func NewMatcher(sp *space.Space, opts ...MatcherOption) *Matcher {
	m := &Matcher{space: sp}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Search starts a lazy search for environments satisfying plan, extending
// seed. Nothing runs until the first call to Next.
func (m *Matcher) Search(ctx context.Context, plan *ir.Plan, seed ir.Bindings) *Search {
	return m.search(ctx, plan.Clauses, seed, m.limit)
}

func (m *Matcher) search(ctx context.Context, clauses []ir.Clause, seed ir.Bindings, limit int64) *Search {
	s := &Search{
		m:       m,
		ctx:     ctx,
		clauses: clauses,
		seed:    seed.Clone(),
		limit:   limit,
	}
	s.Reset()
	return s
}

// MatchFirst returns the first environment satisfying plan.
func (m *Matcher) MatchFirst(ctx context.Context, plan *ir.Plan, seed ir.Bindings) (ir.Bindings, bool, error) {
	s := m.Search(ctx, plan, seed)
	env, ok := s.Next()
	if err := s.Err(); err != nil {
		return nil, false, err
	}
	return env, ok, nil
}

// MatchAll returns every environment satisfying plan, each exactly once,
// in search order.
func (m *Matcher) MatchAll(ctx context.Context, plan *ir.Plan, seed ir.Bindings) ([]ir.Bindings, error) {
	s := m.Search(ctx, plan, seed)
	return s.All()
}

// choice is one entry of the search stack.
type choice struct {
	// mark is the trail length when the clause was entered.
	mark int

	// candidates enumerated by an attribute match, and the next to try.
	candidates []ir.ObjectRef
	next       int
	started    bool

	// tried is set once a deterministic clause has produced its result.
	tried bool
}

// Search is a lazy, restartable sequence of binding environments.
//
// Search is not safe for concurrent use, and it reads the space's live view:
// consume or discard it before the transaction frame it observed closes.
type Search struct {
	m       *Matcher
	ctx     context.Context
	clauses []ir.Clause
	seed    ir.Bindings
	limit   int64

	env   ir.Bindings
	trail []ir.Var
	stack []choice

	started   bool
	exhausted bool
	steps     int64
	err       error
}

// Reset rewinds the search to its initial state.
func (s *Search) Reset() {
	s.env = s.seed.Clone()
	s.trail = s.trail[:0]
	s.stack = s.stack[:0]
	s.started = false
	s.exhausted = false
	s.steps = 0
	s.err = nil
}

// Steps returns the number of search steps taken since the last Reset.
func (s *Search) Steps() int64 { return s.steps }

// Err returns the error that stopped the search, if any. Running out of
// candidates is not an error.
func (s *Search) Err() error { return s.err }

// Next returns the next environment. It returns false once the search is
// exhausted or stopped; check Err to tell the two apart.
func (s *Search) Next() (ir.Bindings, bool) {
	if s.exhausted || s.err != nil {
		return nil, false
	}

	if !s.started {
		s.started = true
		if len(s.clauses) == 0 {
			// The empty pattern matches exactly once.
			s.exhausted = true
			return s.env.Clone(), true
		}
		s.push()
	}

	for len(s.stack) > 0 {
		ok, err := s.advance()
		if err != nil {
			s.err = err
			return nil, false
		}
		if !ok {
			s.pop()
			continue
		}
		if len(s.stack) == len(s.clauses) {
			return s.env.Clone(), true
		}
		s.push()
	}

	s.exhausted = true
	return nil, false
}

// All drains the search, dropping environments already seen.
func (s *Search) All() ([]ir.Bindings, error) {
	var out []ir.Bindings
	seen := make(map[string]bool)
	for {
		env, ok := s.Next()
		if !ok {
			break
		}
		h, err := ir.BindingHash(env)
		if err != nil {
			return nil, err
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, env)
	}
	if s.err != nil {
		return nil, s.err
	}
	return out, nil
}

func (s *Search) push() {
	s.stack = append(s.stack, choice{mark: len(s.trail)})
}

func (s *Search) pop() {
	top := s.stack[len(s.stack)-1]
	s.undo(top.mark)
	s.stack = s.stack[:len(s.stack)-1]
}

// undo unbinds every variable bound after the trail reached mark.
func (s *Search) undo(mark int) {
	for i := len(s.trail) - 1; i >= mark; i-- {
		delete(s.env, s.trail[i])
	}
	s.trail = s.trail[:mark]
}

// step charges one unit of work against the budget.
func (s *Search) step() error {
	if s.limit > 0 && s.steps >= s.limit {
		return ir.NewBudgetError("search exceeded %d steps", s.limit)
	}
	s.steps++
	if s.steps%ctxCheckInterval == 0 {
		if err := s.ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return &ir.Error{Code: ir.CodeBudgetExhausted, Message: "search deadline exceeded", Err: err}
			}
			return err
		}
	}
	return nil
}

// advance produces the next alternative for the clause on top of the stack.
func (s *Search) advance() (bool, error) {
	top := &s.stack[len(s.stack)-1]
	s.undo(top.mark)
	c := s.clauses[len(s.stack)-1]

	if c.Kind == ir.ClauseMatch {
		return s.advanceMatch(top, c)
	}

	if top.tried {
		return false, nil
	}
	top.tried = true
	if err := s.step(); err != nil {
		return false, err
	}

	switch c.Kind {
	case ir.ClauseCompare:
		return s.compare(c), nil
	case ir.ClauseCalc:
		return s.calc(c), nil
	case ir.ClauseDestructure:
		return s.destructure(c), nil
	case ir.ClauseNot:
		return s.negate(c)
	default:
		return false, ir.NewInvalidRuleError("unknown clause kind %q", c.Kind)
	}
}

func (s *Search) advanceMatch(top *choice, c ir.Clause) (bool, error) {
	if !top.started {
		top.started = true
		top.candidates = s.candidates(c)
	}

	for top.next < len(top.candidates) {
		ref := top.candidates[top.next]
		top.next++
		if err := s.step(); err != nil {
			return false, err
		}

		v, ok, err := s.m.space.GetAttribute(ref, c.Attr)
		if err != nil || !ok {
			continue
		}
		if s.unify(c.Object, ref) && s.unify(c.Value, v) {
			return true, nil
		}
		s.undo(top.mark)
	}
	return false, nil
}

// candidates lists the objects an attribute match may range over.
func (s *Search) candidates(c ir.Clause) []ir.ObjectRef {
	if v, ok := s.resolve(c.Object); ok {
		ref, isRef := v.(ir.ObjectRef)
		if !isRef {
			return nil
		}
		return []ir.ObjectRef{ref}
	}
	return s.m.space.ObjectsWithAttribute(c.Attr)
}

func (s *Search) compare(c ir.Clause) bool {
	left, ok := s.resolve(c.Left)
	if !ok {
		return false
	}
	right, ok := s.resolve(c.Right)
	if !ok {
		return false
	}
	res, err := ir.EvalCompare(c.Cmp, left, right)
	return err == nil && res
}

func (s *Search) calc(c ir.Clause) bool {
	left, ok := s.resolve(c.Left)
	if !ok {
		return false
	}
	right, ok := s.resolve(c.Right)
	if !ok {
		return false
	}
	v, err := ir.Arith(c.Arith, left, right)
	if err != nil {
		return false
	}
	return s.unify(c.Target, v)
}

func (s *Search) destructure(c ir.Clause) bool {
	src, ok := s.resolve(c.Source)
	if !ok {
		return false
	}
	elems, err := ir.Destructure(src, len(c.Items))
	if err != nil {
		return false
	}
	for i, item := range c.Items {
		if !s.unify(item, elems[i]) {
			return false
		}
	}
	return true
}

// negate succeeds iff the body has no match under the current bindings.
// The nested search shares this search's step budget.
func (s *Search) negate(c ir.Clause) (bool, error) {
	limit := int64(0)
	if s.limit > 0 {
		limit = s.limit - s.steps
		if limit <= 0 {
			return false, ir.NewBudgetError("search exceeded %d steps", s.limit)
		}
	}
	inner := s.m.search(s.ctx, c.Body, s.env, limit)
	_, found := inner.Next()
	s.steps += inner.Steps()
	if err := inner.Err(); err != nil {
		return false, fmt.Errorf("negation: %w", err)
	}
	return !found, nil
}

// resolve returns the value of t under the current bindings. Wildcards and
// unbound variables have no value.
func (s *Search) resolve(t ir.Term) (ir.Value, bool) {
	switch t.Kind {
	case ir.TermConst:
		return t.Value, true
	case ir.TermVar:
		v, ok := s.env[t.Var]
		return v, ok
	default:
		return nil, false
	}
}

// unify matches t against v, binding t if it is an unbound variable.
func (s *Search) unify(t ir.Term, v ir.Value) bool {
	switch t.Kind {
	case ir.TermWildcard:
		return true
	case ir.TermConst:
		return ir.Equal(t.Value, v)
	default:
		if cur, ok := s.env[t.Var]; ok {
			return ir.Equal(cur, v)
		}
		s.env[t.Var] = v
		s.trail = append(s.trail, t.Var)
		return true
	}
}
