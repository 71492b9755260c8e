package compiler

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/symspace/internal/ir"
)

// Planner orders rule clauses for execution and memoizes the result per
// rule fingerprint and seed. Compiling the same rule twice returns the same
// plan. A Planner is safe for concurrent use.
type Planner struct {
	mu     sync.Mutex
	plans  map[string]*ir.Plan
	hits   int
	misses int
}

// NewPlanner creates an empty Planner.
func NewPlanner() *Planner {
	return &Planner{plans: make(map[string]*ir.Plan)}
}

// PlannerStats reports memo effectiveness.
type PlannerStats struct {
	Plans  int `json:"plans"`
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// Stats returns memo counters.
func (p *Planner) Stats() PlannerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlannerStats{Plans: len(p.plans), Hits: p.hits, Misses: p.misses}
}

// Plan compiles rule assuming the seed variables are bound before the
// first clause runs.
func (p *Planner) Plan(rule ir.Rule, seed []ir.Var) (*ir.Plan, error) {
	fingerprint, err := ir.RuleHash(rule)
	if err != nil {
		return nil, err
	}
	seed = slices.Clone(seed)
	slices.Sort(seed)
	seed = slices.Compact(seed)

	parts := make([]string, len(seed))
	for i, v := range seed {
		parts[i] = string(v)
	}
	key := fingerprint + "|" + strings.Join(parts, ",")

	p.mu.Lock()
	if plan, ok := p.plans[key]; ok {
		p.hits++
		p.mu.Unlock()
		return plan, nil
	}
	p.mu.Unlock()

	order, clauses, err := OrderClauses(rule.Clauses, seed)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			ce.Field = rule.Name + "." + ce.Field
		}
		return nil, err
	}
	plan := &ir.Plan{
		Rule:        rule.Name,
		Order:       order,
		Clauses:     clauses,
		Seed:        seed,
		Fingerprint: fingerprint,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.plans[key]; ok {
		p.hits++
		return existing, nil
	}
	p.misses++
	p.plans[key] = plan
	return plan, nil
}

// OrderClauses returns a greedy execution order for clauses.
//
// At each step it picks, among the clauses that are legal given the
// variables bound so far, the one that introduces the fewest new variables.
// Ties keep declaration order. Comparisons and calculations need their
// operands bound, destructures need their source bound, and negations need
// every variable they share with the surrounding pattern bound. Attribute
// matches are always legal. Negation bodies are ordered recursively.
//
// order[i] is the declaration index of the i-th clause to run.
func OrderClauses(clauses []ir.Clause, seed []ir.Var) ([]int, []ir.Clause, error) {
	bound := make(map[ir.Var]bool, len(seed))
	for _, v := range seed {
		bound[v] = true
	}
	return orderScope(clauses, bound)
}

func orderScope(clauses []ir.Clause, bound map[ir.Var]bool) ([]int, []ir.Clause, error) {
	bound = cloneSet(bound)
	remaining := make([]int, len(clauses))
	for i := range clauses {
		remaining[i] = i
	}

	order := make([]int, 0, len(clauses))
	ordered := make([]ir.Clause, 0, len(clauses))

	for len(remaining) > 0 {
		best, bestPos, bestCost := -1, -1, 0
		for pos, idx := range remaining {
			c := clauses[idx]
			if !legal(c, bound, outerVars(clauses, idx, bound)) {
				continue
			}
			cost := introduces(c, bound)
			if best < 0 || cost < bestCost {
				best, bestPos, bestCost = idx, pos, cost
			}
		}
		if best < 0 {
			return nil, nil, unorderable(clauses, remaining, bound)
		}

		c := clauses[best]
		if c.Kind == ir.ClauseNot {
			_, body, err := orderScope(c.Body, bound)
			if err != nil {
				return nil, nil, err
			}
			c = ir.NotClause(body...)
		}
		for _, v := range binds(c) {
			bound[v] = true
		}
		order = append(order, best)
		ordered = append(ordered, c)
		remaining = slices.Delete(remaining, bestPos, bestPos+1)
	}
	return order, ordered, nil
}

// outerVars returns the variables visible to clause idx from outside it:
// those already bound plus those any sibling mentions.
func outerVars(clauses []ir.Clause, idx int, bound map[ir.Var]bool) map[ir.Var]bool {
	if clauses[idx].Kind != ir.ClauseNot {
		return nil
	}
	outer := cloneSet(bound)
	for i, c := range clauses {
		if i == idx {
			continue
		}
		for _, v := range c.Vars() {
			outer[v] = true
		}
	}
	return outer
}

// legal reports whether c can run once the bound variables are bound.
func legal(c ir.Clause, bound, outer map[ir.Var]bool) bool {
	switch c.Kind {
	case ir.ClauseMatch:
		return true
	case ir.ClauseCompare, ir.ClauseCalc, ir.ClauseDestructure:
		for _, t := range inputTerms(c) {
			if t.Kind == ir.TermWildcard {
				return false
			}
			if t.IsVar() && !bound[t.Var] {
				return false
			}
		}
		return true
	case ir.ClauseNot:
		for _, v := range c.Vars() {
			if outer[v] && !bound[v] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func inputTerms(c ir.Clause) []ir.Term {
	switch c.Kind {
	case ir.ClauseCompare, ir.ClauseCalc:
		return []ir.Term{c.Left, c.Right}
	case ir.ClauseDestructure:
		return []ir.Term{c.Source}
	default:
		return nil
	}
}

// introduces counts the distinct unbound variables c would bind.
func introduces(c ir.Clause, bound map[ir.Var]bool) int {
	return len(unboundIn(binds(c), bound))
}

// binds returns the variables c binds on success. Negations bind nothing.
func binds(c ir.Clause) []ir.Var {
	if c.Kind == ir.ClauseNot {
		return nil
	}
	var vars []ir.Var
	for _, t := range c.Terms() {
		if t.IsVar() && !slices.Contains(vars, t.Var) {
			vars = append(vars, t.Var)
		}
	}
	return vars
}

func unboundIn(vars []ir.Var, bound map[ir.Var]bool) []ir.Var {
	var out []ir.Var
	for _, v := range vars {
		if !bound[v] {
			out = append(out, v)
		}
	}
	return out
}

func unorderable(clauses []ir.Clause, remaining []int, bound map[ir.Var]bool) error {
	c := clauses[remaining[0]]
	var missing []string
	for _, t := range inputTerms(c) {
		switch {
		case t.Kind == ir.TermWildcard:
			missing = append(missing, "_")
		case t.IsVar() && !bound[t.Var]:
			missing = append(missing, t.Var.String())
		}
	}
	if c.Kind == ir.ClauseNot {
		outer := outerVars(clauses, remaining[0], bound)
		for _, v := range c.Vars() {
			if outer[v] && !bound[v] {
				missing = append(missing, v.String())
			}
		}
	}
	return &CompileError{
		Field:   fmt.Sprintf("when[%d]", remaining[0]),
		Message: fmt.Sprintf("clause %q cannot run: %s never bound by an attribute match", c, strings.Join(missing, ", ")),
	}
}

func cloneSet(s map[ir.Var]bool) map[ir.Var]bool {
	out := make(map[ir.Var]bool, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
