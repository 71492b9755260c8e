package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/symspace/internal/ir"
)

// DefaultSystemName names the system built when a source declares rules
// but no system.
const DefaultSystemName = "main"

var (
	// varNamePattern matches a pattern variable name (without the '?').
	varNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// namePattern matches rule and system names.
	namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)
)

// CompileError reports a malformed rule or system definition.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

// Program is everything one CUE source declares.
type Program struct {
	Rules   []ir.Rule
	Systems []ir.System
}

// System returns the system with the given name.
func (p *Program) System(name string) (*ir.System, bool) {
	for i := range p.Systems {
		if p.Systems[i].Name == name {
			return &p.Systems[i], true
		}
	}
	return nil, false
}

// CompileProgram compiles every rule under "rule" and every system under
// "system", stopping at the first error. With no systems declared, a
// DefaultSystemName system holds every rule in declaration order.
func CompileProgram(v cue.Value) (*Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	prog := &Program{}

	if rulesVal := v.LookupPath(cue.ParsePath("rule")); rulesVal.Exists() {
		iter, err := rulesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			rule, err := CompileRule(iter.Value())
			if err != nil {
				return nil, err
			}
			prog.Rules = append(prog.Rules, *rule)
		}
	}

	if sysVal := v.LookupPath(cue.ParsePath("system")); sysVal.Exists() {
		iter, err := sysVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			sys, err := CompileSystem(iter.Value(), prog.Rules)
			if err != nil {
				return nil, err
			}
			prog.Systems = append(prog.Systems, *sys)
		}
	}

	if len(prog.Systems) == 0 && len(prog.Rules) > 0 {
		prog.Systems = append(prog.Systems, DefaultSystem(prog.Rules))
	}
	return prog, nil
}

// DefaultSystem wraps rules, in order, in a system with no inputs.
func DefaultSystem(rules []ir.Rule) ir.System {
	out := make([]ir.Rule, len(rules))
	copy(out, rules)
	return ir.System{Name: DefaultSystemName, Rules: out}
}

// CompileRule parses a CUE value into a Rule.
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: bump: { when: [...], then: [...] }`)
//	rule, err := CompileRule(v.LookupPath(cue.ParsePath("rule.bump")))
//
// Pattern and effect operands are written as CUE values: "?x" is a
// variable, "_" the wildcard, "'x" a symbol that would otherwise read as a
// variable, any other string a symbol, numbers are Int or Float, booleans
// are the symbols true and false, and lists are constant tuples.
func CompileRule(v cue.Value) (*ir.Rule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.Rule{Name: labelOf(v), Mode: ir.MatchFirst}

	if modeVal := v.LookupPath(cue.ParsePath("mode")); modeVal.Exists() {
		mode, err := modeVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		switch ir.MatchMode(mode) {
		case ir.MatchFirst, ir.MatchAll:
			rule.Mode = ir.MatchMode(mode)
		default:
			return nil, &CompileError{
				Field:   "mode",
				Message: fmt.Sprintf("invalid mode %q, must be \"first\" or \"all\"", mode),
				Pos:     modeVal.Pos(),
			}
		}
	}

	// An absent when-list is the empty pattern, which always matches once.
	if whenVal := v.LookupPath(cue.ParsePath("when")); whenVal.Exists() {
		items, err := listOf(whenVal, "when")
		if err != nil {
			return nil, err
		}
		for i, item := range items {
			c, err := parseClause(item, fmt.Sprintf("when[%d]", i))
			if err != nil {
				return nil, err
			}
			rule.Clauses = append(rule.Clauses, c)
		}
	}

	thenVal := v.LookupPath(cue.ParsePath("then"))
	if !thenVal.Exists() {
		return nil, &CompileError{
			Field:   "then",
			Message: "then list is required",
			Pos:     v.Pos(),
		}
	}
	items, err := listOf(thenVal, "then")
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		a, err := parseAction(item, fmt.Sprintf("then[%d]", i))
		if err != nil {
			return nil, err
		}
		rule.Actions = append(rule.Actions, a)
	}

	return rule, nil
}

// CompileSystem parses a CUE value into a System over already compiled
// rules. An absent rules list selects every rule in declaration order.
func CompileSystem(v cue.Value, rules []ir.Rule) (*ir.System, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	sys := &ir.System{Name: labelOf(v)}

	if inputsVal := v.LookupPath(cue.ParsePath("inputs")); inputsVal.Exists() {
		items, err := listOf(inputsVal, "inputs")
		if err != nil {
			return nil, err
		}
		for i, item := range items {
			name, err := parseVarTarget(item, fmt.Sprintf("inputs[%d]", i))
			if err != nil {
				return nil, err
			}
			sys.Inputs = append(sys.Inputs, name)
		}
	}

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		sys.Rules = append(sys.Rules, rules...)
		return sys, nil
	}

	items, err := listOf(rulesVal, "rules")
	if err != nil {
		return nil, err
	}
	byName := make(map[string]ir.Rule, len(rules))
	for _, r := range rules {
		byName[r.Name] = r
	}
	for i, item := range items {
		name, err := item.String()
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("rules[%d]", i),
				Message: "rule reference must be a string",
				Pos:     item.Pos(),
			}
		}
		r, ok := byName[name]
		if !ok {
			return nil, &CompileError{
				Field:   fmt.Sprintf("rules[%d]", i),
				Message: fmt.Sprintf("unknown rule %q", name),
				Pos:     item.Pos(),
			}
		}
		sys.Rules = append(sys.Rules, r)
	}
	return sys, nil
}

// labelOf returns the last path selector of v, unquoted.
func labelOf(v cue.Value) string {
	labels := v.Path().Selectors()
	if len(labels) == 0 {
		return ""
	}
	return strings.Trim(labels[len(labels)-1].String(), `"`)
}

func listOf(v cue.Value, field string) ([]cue.Value, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "expected a list",
			Pos:     v.Pos(),
		}
	}
	var items []cue.Value
	for iter.Next() {
		items = append(items, iter.Value())
	}
	return items, nil
}

// listOfLen is listOf with an exact length check.
func listOfLen(v cue.Value, field string, n int, form string) ([]cue.Value, error) {
	items, err := listOf(v, field)
	if err != nil {
		return nil, err
	}
	if len(items) != n {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected %s", form),
			Pos:     v.Pos(),
		}
	}
	return items, nil
}

// singleField returns the only label and value of a one-field struct.
func singleField(v cue.Value, field string) (string, cue.Value, error) {
	iter, err := v.Fields()
	if err != nil {
		return "", cue.Value{}, &CompileError{
			Field:   field,
			Message: "expected a single-key struct",
			Pos:     v.Pos(),
		}
	}
	var (
		label string
		value cue.Value
		count int
	)
	for iter.Next() {
		label = iter.Label()
		value = iter.Value()
		count++
	}
	if count != 1 {
		return "", cue.Value{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected exactly one key, found %d", count),
			Pos:     v.Pos(),
		}
	}
	return label, value, nil
}

func parseClause(v cue.Value, field string) (ir.Clause, error) {
	kind, body, err := singleField(v, field)
	if err != nil {
		return ir.Clause{}, err
	}
	field = field + "." + kind

	switch ir.ClauseKind(kind) {
	case ir.ClauseMatch:
		items, err := listOfLen(body, field, 3, "[object, attribute, value]")
		if err != nil {
			return ir.Clause{}, err
		}
		obj, err := parseTerm(items[0], field+"[0]")
		if err != nil {
			return ir.Clause{}, err
		}
		attr, err := parseAttr(items[1], field+"[1]")
		if err != nil {
			return ir.Clause{}, err
		}
		val, err := parseTerm(items[2], field+"[2]")
		if err != nil {
			return ir.Clause{}, err
		}
		return ir.MatchClause(obj, attr, val), nil

	case ir.ClauseCompare:
		items, err := listOfLen(body, field, 3, "[left, operator, right]")
		if err != nil {
			return ir.Clause{}, err
		}
		left, err := parseTerm(items[0], field+"[0]")
		if err != nil {
			return ir.Clause{}, err
		}
		op, err := items[1].String()
		if err != nil || !ir.ValidCmpOps[ir.CmpOp(op)] {
			return ir.Clause{}, &CompileError{
				Field:   field + "[1]",
				Message: fmt.Sprintf("invalid comparison operator %q", op),
				Pos:     items[1].Pos(),
			}
		}
		right, err := parseTerm(items[2], field+"[2]")
		if err != nil {
			return ir.Clause{}, err
		}
		return ir.CompareClause(left, ir.CmpOp(op), right), nil

	case ir.ClauseDestructure:
		items, err := listOfLen(body, field, 2, "[tuple, [items...]]")
		if err != nil {
			return ir.Clause{}, err
		}
		src, err := parseTerm(items[0], field+"[0]")
		if err != nil {
			return ir.Clause{}, err
		}
		parts, err := parseTermList(items[1], field+"[1]")
		if err != nil {
			return ir.Clause{}, err
		}
		return ir.DestructureClause(src, parts...), nil

	case ir.ClauseCalc:
		items, err := listOfLen(body, field, 4, "[target, left, operator, right]")
		if err != nil {
			return ir.Clause{}, err
		}
		target, err := parseTerm(items[0], field+"[0]")
		if err != nil {
			return ir.Clause{}, err
		}
		left, right, op, err := parseArith(items[1], items[2], items[3], field)
		if err != nil {
			return ir.Clause{}, err
		}
		return ir.CalcClause(target, left, op, right), nil

	case ir.ClauseNot:
		items, err := listOf(body, field)
		if err != nil {
			return ir.Clause{}, err
		}
		if len(items) == 0 {
			return ir.Clause{}, &CompileError{
				Field:   field,
				Message: "negation requires at least one clause",
				Pos:     body.Pos(),
			}
		}
		var inner []ir.Clause
		for i, item := range items {
			c, err := parseClause(item, fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return ir.Clause{}, err
			}
			inner = append(inner, c)
		}
		return ir.NotClause(inner...), nil

	default:
		return ir.Clause{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unknown clause %q, must be match, compare, destructure, calc or not", kind),
			Pos:     v.Pos(),
		}
	}
}

func parseAction(v cue.Value, field string) (ir.Action, error) {
	kind, body, err := singleField(v, field)
	if err != nil {
		return ir.Action{}, err
	}
	field = field + "." + kind

	switch ir.ActionKind(kind) {
	case ir.ActionSet:
		items, err := listOfLen(body, field, 3, "[object, attribute, value]")
		if err != nil {
			return ir.Action{}, err
		}
		obj, err := parseTerm(items[0], field+"[0]")
		if err != nil {
			return ir.Action{}, err
		}
		attr, err := parseAttr(items[1], field+"[1]")
		if err != nil {
			return ir.Action{}, err
		}
		val, err := parseTerm(items[2], field+"[2]")
		if err != nil {
			return ir.Action{}, err
		}
		return ir.SetAction(obj, attr, val), nil

	case ir.ActionRemove:
		items, err := listOfLen(body, field, 2, "[object, attribute]")
		if err != nil {
			return ir.Action{}, err
		}
		obj, err := parseTerm(items[0], field+"[0]")
		if err != nil {
			return ir.Action{}, err
		}
		attr, err := parseAttr(items[1], field+"[1]")
		if err != nil {
			return ir.Action{}, err
		}
		return ir.RemoveAction(obj, attr), nil

	case ir.ActionCreate:
		name, err := parseVarTarget(body, field)
		if err != nil {
			return ir.Action{}, err
		}
		return ir.CreateAction(string(name)), nil

	case ir.ActionDelete, ir.ActionRoot, ir.ActionUnroot:
		obj, err := parseTerm(body, field)
		if err != nil {
			return ir.Action{}, err
		}
		switch ir.ActionKind(kind) {
		case ir.ActionDelete:
			return ir.DeleteAction(obj), nil
		case ir.ActionRoot:
			return ir.RootAction(obj), nil
		default:
			return ir.UnrootAction(obj), nil
		}

	case ir.ActionTuple:
		items, err := listOfLen(body, field, 2, "[target, [items...]]")
		if err != nil {
			return ir.Action{}, err
		}
		name, err := parseVarTarget(items[0], field+"[0]")
		if err != nil {
			return ir.Action{}, err
		}
		parts, err := parseTermList(items[1], field+"[1]")
		if err != nil {
			return ir.Action{}, err
		}
		return ir.TupleAction(string(name), parts...), nil

	case ir.ActionBind:
		items, err := listOf(body, field)
		if err != nil {
			return ir.Action{}, err
		}
		if len(items) != 2 && len(items) != 4 {
			return ir.Action{}, &CompileError{
				Field:   field,
				Message: "expected [target, value] or [target, left, operator, right]",
				Pos:     body.Pos(),
			}
		}
		name, err := parseVarTarget(items[0], field+"[0]")
		if err != nil {
			return ir.Action{}, err
		}
		if len(items) == 2 {
			val, err := parseTerm(items[1], field+"[1]")
			if err != nil {
				return ir.Action{}, err
			}
			return ir.BindAction(string(name), val), nil
		}
		left, right, op, err := parseArith(items[1], items[2], items[3], field)
		if err != nil {
			return ir.Action{}, err
		}
		return ir.BindCalcAction(string(name), left, op, right), nil

	default:
		return ir.Action{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unknown action %q, must be set, remove, create, delete, tuple, bind, root or unroot", kind),
			Pos:     v.Pos(),
		}
	}
}

func parseArith(leftVal, opVal, rightVal cue.Value, field string) (ir.Term, ir.Term, ir.ArithOp, error) {
	left, err := parseTerm(leftVal, field+".left")
	if err != nil {
		return ir.Term{}, ir.Term{}, "", err
	}
	op, err := opVal.String()
	if err != nil || !ir.ValidArithOps[ir.ArithOp(op)] {
		return ir.Term{}, ir.Term{}, "", &CompileError{
			Field:   field + ".op",
			Message: fmt.Sprintf("invalid arithmetic operator %q", op),
			Pos:     opVal.Pos(),
		}
	}
	right, err := parseTerm(rightVal, field+".right")
	if err != nil {
		return ir.Term{}, ir.Term{}, "", err
	}
	return left, right, ir.ArithOp(op), nil
}

func parseTermList(v cue.Value, field string) ([]ir.Term, error) {
	items, err := listOf(v, field)
	if err != nil {
		return nil, err
	}
	terms := make([]ir.Term, 0, len(items))
	for i, item := range items {
		t, err := parseTerm(item, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, nil
}

// parseAttr reads an attribute name. Attributes are always literal.
func parseAttr(v cue.Value, field string) (string, error) {
	s, err := v.String()
	if err != nil || s == "" || s == "_" || strings.HasPrefix(s, "?") {
		return "", &CompileError{
			Field:   field,
			Message: "attribute must be a literal name",
			Pos:     v.Pos(),
		}
	}
	return strings.TrimPrefix(s, "'"), nil
}

// parseVarTarget reads a "?name" that an action or system input binds.
func parseVarTarget(v cue.Value, field string) (ir.Var, error) {
	s, err := v.String()
	if err != nil || !strings.HasPrefix(s, "?") {
		return "", &CompileError{
			Field:   field,
			Message: "expected a variable like \"?x\"",
			Pos:     v.Pos(),
		}
	}
	name := strings.TrimPrefix(s, "?")
	if !varNamePattern.MatchString(name) {
		return "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("invalid variable name %q", s),
			Pos:     v.Pos(),
		}
	}
	return ir.Var(name), nil
}

func parseTerm(v cue.Value, field string) (ir.Term, error) {
	if v.Kind() == cue.StringKind {
		s, err := v.String()
		if err != nil {
			return ir.Term{}, formatCUEError(err)
		}
		switch {
		case s == "_":
			return ir.Wildcard, nil
		case strings.HasPrefix(s, "?"):
			name, err := parseVarTarget(v, field)
			if err != nil {
				return ir.Term{}, err
			}
			return ir.V(string(name)), nil
		}
	}
	val, err := parseConst(v, field)
	if err != nil {
		return ir.Term{}, err
	}
	return ir.C(val), nil
}

// parseConst reads a constant value. Strings are symbols; a leading "'"
// is stripped so symbols may start with '?' or be "_".
func parseConst(v cue.Value, field string) (ir.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if strings.HasPrefix(s, "?") || s == "_" {
			return nil, &CompileError{
				Field:   field,
				Message: fmt.Sprintf("variable %q is not allowed in a constant", s),
				Pos:     v.Pos(),
			}
		}
		return ir.Intern(strings.TrimPrefix(s, "'")), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Float(f), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if b {
			return ir.Intern("true"), nil
		}
		return ir.Intern("false"), nil
	case cue.ListKind:
		items, err := listOf(v, field)
		if err != nil {
			return nil, err
		}
		elems := make([]ir.Value, 0, len(items))
		for i, item := range items {
			e, err := parseConst(item, fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
		}
		return ir.NewTuple(elems...), nil
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value of kind %s", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}
