package ir

import (
	"strings"
)

// ClauseKind identifies the form of a pattern clause.
type ClauseKind string

const (
	// ClauseMatch is an attribute match: Object.Attr = Value.
	ClauseMatch ClauseKind = "match"

	// ClauseCompare is a comparison: Left Cmp Right.
	ClauseCompare ClauseKind = "compare"

	// ClauseDestructure unifies a tuple positionally: (Items...) = Source.
	ClauseDestructure ClauseKind = "destructure"

	// ClauseCalc binds or checks Target = Left Arith Right.
	ClauseCalc ClauseKind = "calc"

	// ClauseNot succeeds iff Body has no match.
	ClauseNot ClauseKind = "not"
)

// Clause is one conjunct of a rule pattern. Which fields are meaningful
// depends on Kind; use the constructors rather than building literals.
type Clause struct {
	Kind ClauseKind

	// ClauseMatch
	Object Term
	Attr   Symbol
	Value  Term

	// ClauseCompare and ClauseCalc
	Left  Term
	Right Term
	Cmp   CmpOp
	Arith ArithOp

	// ClauseCalc
	Target Term

	// ClauseDestructure
	Source Term
	Items  []Term

	// ClauseNot
	Body []Clause
}

// MatchClause builds obj.attr = val.
func MatchClause(obj Term, attr string, val Term) Clause {
	return Clause{Kind: ClauseMatch, Object: obj, Attr: Intern(attr), Value: val}
}

// CompareClause builds left op right.
func CompareClause(left Term, op CmpOp, right Term) Clause {
	return Clause{Kind: ClauseCompare, Left: left, Cmp: op, Right: right}
}

// DestructureClause builds (items...) = source.
func DestructureClause(source Term, items ...Term) Clause {
	return Clause{Kind: ClauseDestructure, Source: source, Items: items}
}

// CalcClause builds target = left op right.
func CalcClause(target Term, left Term, op ArithOp, right Term) Clause {
	return Clause{Kind: ClauseCalc, Target: target, Left: left, Arith: op, Right: right}
}

// NotClause builds not { body... }.
func NotClause(body ...Clause) Clause {
	return Clause{Kind: ClauseNot, Body: body}
}

// Terms returns the operand terms of the clause in evaluation order.
// Negation bodies are not included.
func (c Clause) Terms() []Term {
	switch c.Kind {
	case ClauseMatch:
		return []Term{c.Object, c.Value}
	case ClauseCompare:
		return []Term{c.Left, c.Right}
	case ClauseCalc:
		return []Term{c.Left, c.Right, c.Target}
	case ClauseDestructure:
		return append([]Term{c.Source}, c.Items...)
	default:
		return nil
	}
}

// Vars returns every variable the clause mentions, in first-appearance
// order, including those inside negation bodies.
func (c Clause) Vars() []Var {
	var vars []Var
	seen := make(map[Var]bool)
	c.collectVars(&vars, seen)
	return vars
}

func (c Clause) collectVars(out *[]Var, seen map[Var]bool) {
	for _, t := range c.Terms() {
		if t.IsVar() && !seen[t.Var] {
			seen[t.Var] = true
			*out = append(*out, t.Var)
		}
	}
	for _, b := range c.Body {
		b.collectVars(out, seen)
	}
}

// Inputs returns the variables that must be bound before the clause can be
// evaluated. Attribute matches have no inputs; they enumerate.
func (c Clause) Inputs() []Var {
	var terms []Term
	switch c.Kind {
	case ClauseCompare, ClauseCalc:
		terms = []Term{c.Left, c.Right}
	case ClauseDestructure:
		terms = []Term{c.Source}
	}
	var vars []Var
	for _, t := range terms {
		if t.IsVar() {
			vars = append(vars, t.Var)
		}
	}
	return vars
}

func (c Clause) String() string {
	switch c.Kind {
	case ClauseMatch:
		return c.Object.String() + "." + c.Attr.Name() + " = " + c.Value.String()
	case ClauseCompare:
		return c.Left.String() + " " + string(c.Cmp) + " " + c.Right.String()
	case ClauseCalc:
		return c.Target.String() + " is " + c.Left.String() + " " + string(c.Arith) + " " + c.Right.String()
	case ClauseDestructure:
		items := make([]string, len(c.Items))
		for i, t := range c.Items {
			items[i] = t.String()
		}
		return "(" + strings.Join(items, ", ") + ") = " + c.Source.String()
	case ClauseNot:
		body := make([]string, len(c.Body))
		for i, b := range c.Body {
			body[i] = b.String()
		}
		return "not { " + strings.Join(body, ", ") + " }"
	default:
		return string(c.Kind)
	}
}
