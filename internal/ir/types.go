package ir

import (
	"slices"
	"strings"
)

// Var names a pattern variable, without the leading '?'.
type Var string

func (v Var) String() string { return "?" + string(v) }

// TermKind distinguishes the operand forms a clause or action may use.
type TermKind uint8

const (
	TermWildcard TermKind = iota
	TermVar
	TermConst
)

// Term is an operand: a variable, a constant value, or the wildcard "_".
// The zero Term is the wildcard.
type Term struct {
	Kind  TermKind
	Var   Var
	Value Value
}

// V returns a variable term.
func V(name string) Term { return Term{Kind: TermVar, Var: Var(name)} }

// C returns a constant term.
func C(v Value) Term { return Term{Kind: TermConst, Value: v} }

// Wildcard matches anything and binds nothing.
var Wildcard = Term{Kind: TermWildcard}

// IsVar reports whether t is a variable.
func (t Term) IsVar() bool { return t.Kind == TermVar }

func (t Term) String() string {
	switch t.Kind {
	case TermVar:
		return t.Var.String()
	case TermConst:
		if s, ok := t.Value.(Symbol); ok {
			return "'" + s.Name()
		}
		return t.Value.String()
	default:
		return "_"
	}
}

// MatchMode selects how many environments a rule applies per cycle.
type MatchMode string

const (
	// MatchFirst applies the rule to the first environment found.
	MatchFirst MatchMode = "first"

	// MatchAll applies the rule to every environment in one cycle.
	MatchAll MatchMode = "all"
)

// Bindings maps pattern variables to values.
type Bindings map[Var]Value

// Clone returns a shallow copy of b.
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// SortedVars returns the bound variables in name order.
func (b Bindings) SortedVars() []Var {
	vars := make([]Var, 0, len(b))
	for k := range b {
		vars = append(vars, k)
	}
	slices.Sort(vars)
	return vars
}

func (b Bindings) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range b.SortedVars() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k.String())
		sb.WriteString("=")
		sb.WriteString(b[k].String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// Rule is a named pattern plus the effects applied to each match.
// Clauses and actions share one variable namespace.
type Rule struct {
	Name    string    `json:"name"`
	Mode    MatchMode `json:"mode,omitempty"`
	Clauses []Clause  `json:"clauses"`
	Actions []Action  `json:"actions"`
}

// System is an ordered set of rules run together by the scheduler.
// Inputs are variables bound by the caller for every match.
type System struct {
	Name   string `json:"name"`
	Inputs []Var  `json:"inputs,omitempty"`
	Rules  []Rule `json:"rules"`
}

// Rule returns the rule with the given name.
func (s *System) Rule(name string) (*Rule, bool) {
	for i := range s.Rules {
		if s.Rules[i].Name == name {
			return &s.Rules[i], true
		}
	}
	return nil, false
}

// Plan is a rule's clause list in execution order.
type Plan struct {
	Rule string `json:"rule"`

	// Order maps plan position to the clause's declaration index.
	Order []int `json:"order"`

	// Clauses are the rule's clauses in execution order. Negation bodies
	// are ordered too.
	Clauses []Clause `json:"-"`

	// Seed lists the variables bound before the first clause runs.
	Seed []Var `json:"seed,omitempty"`

	// Fingerprint is the RuleHash of the compiled rule.
	Fingerprint string `json:"fingerprint"`
}
