package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/symspace/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Rule errors (E110-E119)
	ErrInvalidRuleName = "E110" // rule name is empty or malformed
	ErrInvalidMode     = "E111" // mode is not "first" or "all"
	ErrInvalidClause   = "E112" // malformed clause
	ErrInvalidAction   = "E113" // malformed action
	ErrUnboundVariable = "E114" // variable read before anything binds it
	ErrRebindVariable  = "E115" // action binds a variable that is already bound
	ErrUnorderable     = "E116" // no legal clause order exists
	ErrInvalidOperator = "E117" // unknown comparison or arithmetic operator
	ErrInvalidVariable = "E118" // malformed variable name

	// System errors (E120-E129)
	ErrInvalidSystemName = "E120" // system name is empty or malformed
	ErrDuplicateRule     = "E121" // two rules share a name
	ErrDuplicateInput    = "E122" // input variable listed twice
	ErrEmptySystem       = "E123" // system has no rules
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates rules and systems.
// Returns all errors found (does not fail-fast).
// Supports Rule and System types.
func Validate(v any) []ValidationError {
	switch val := v.(type) {
	case *ir.Rule:
		return validateRule(val, nil)
	case ir.Rule:
		return validateRule(&val, nil)
	case *ir.System:
		return validateSystem(val)
	case ir.System:
		return validateSystem(&val)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// ValidateSystem returns nil if sys is well formed, or an INVALID_RULE
// error carrying the first problem found.
func ValidateSystem(sys ir.System) error {
	errs := validateSystem(&sys)
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return &ir.Error{
		Code:    ir.CodeInvalidRule,
		Message: fmt.Sprintf("system %q is invalid: %s", sys.Name, errs[0].Error()),
		Err:     errors.Join(joined...),
	}
}

func validateSystem(sys *ir.System) []ValidationError {
	var errs []ValidationError

	// E120: system name
	if !namePattern.MatchString(sys.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("invalid system name %q", sys.Name),
			Code:    ErrInvalidSystemName,
		})
	}

	// E122, E118: inputs
	seen := make(map[ir.Var]bool, len(sys.Inputs))
	for i, in := range sys.Inputs {
		if !varNamePattern.MatchString(string(in)) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("inputs[%d]", i),
				Message: fmt.Sprintf("invalid variable name %q", in),
				Code:    ErrInvalidVariable,
			})
		}
		if seen[in] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("inputs[%d]", i),
				Message: fmt.Sprintf("duplicate input variable %s", in),
				Code:    ErrDuplicateInput,
			})
		}
		seen[in] = true
	}

	// E123: at least one rule
	if len(sys.Rules) == 0 {
		errs = append(errs, ValidationError{
			Field:   "rules",
			Message: "system must contain at least one rule",
			Code:    ErrEmptySystem,
		})
	}

	// E121: unique rule names
	names := make(map[string]bool, len(sys.Rules))
	for i := range sys.Rules {
		r := &sys.Rules[i]
		if names[r.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("rules[%d]", i),
				Message: fmt.Sprintf("duplicate rule name %q", r.Name),
				Code:    ErrDuplicateRule,
			})
		}
		names[r.Name] = true

		for _, e := range validateRule(r, sys.Inputs) {
			e.Field = r.Name + "." + e.Field
			errs = append(errs, e)
		}
	}

	return errs
}

// validateRule checks one rule given the variables bound by system inputs.
func validateRule(rule *ir.Rule, inputs []ir.Var) []ValidationError {
	var errs []ValidationError

	// E110: rule name
	if !namePattern.MatchString(rule.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("invalid rule name %q", rule.Name),
			Code:    ErrInvalidRuleName,
		})
	}

	// E111: mode
	switch rule.Mode {
	case "", ir.MatchFirst, ir.MatchAll:
	default:
		errs = append(errs, ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("invalid mode %q, must be \"first\" or \"all\"", rule.Mode),
			Code:    ErrInvalidMode,
		})
	}

	for i, c := range rule.Clauses {
		errs = append(errs, validateClause(c, fmt.Sprintf("when[%d]", i))...)
	}

	// E116: the pattern must have a legal order
	if _, _, err := OrderClauses(rule.Clauses, inputs); err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			errs = append(errs, ValidationError{
				Field:   ce.Field,
				Message: ce.Message,
				Code:    ErrUnorderable,
			})
		}
	}

	// E114, E115: every variable an action reads must be bound by the
	// pattern, an input or an earlier action.
	bound := make(map[ir.Var]bool)
	for _, v := range inputs {
		bound[v] = true
	}
	for _, c := range rule.Clauses {
		for _, v := range binds(c) {
			bound[v] = true
		}
	}
	for i, a := range rule.Actions {
		field := fmt.Sprintf("then[%d]", i)
		errs = append(errs, validateAction(a, field)...)
		for _, t := range a.Reads() {
			if t.IsVar() && !bound[t.Var] {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("variable %s is not bound", t.Var),
					Code:    ErrUnboundVariable,
				})
			}
		}
		if v, ok := a.Binds(); ok {
			if bound[v] {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("variable %s is already bound", v),
					Code:    ErrRebindVariable,
				})
			}
			bound[v] = true
		}
	}

	return errs
}

func validateClause(c ir.Clause, field string) []ValidationError {
	var errs []ValidationError
	for _, t := range c.Terms() {
		if t.IsVar() && !varNamePattern.MatchString(string(t.Var)) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid variable name %q", t.Var),
				Code:    ErrInvalidVariable,
			})
		}
	}

	switch c.Kind {
	case ir.ClauseMatch:
		if c.Attr.IsZero() {
			errs = append(errs, ValidationError{Field: field, Message: "attribute name is required", Code: ErrInvalidClause})
		}
		if c.Object.Kind == ir.TermConst {
			if _, ok := c.Object.Value.(ir.ObjectRef); !ok {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("object position holds %s, only objects have attributes", c.Object),
					Code:    ErrInvalidClause,
				})
			}
		}
	case ir.ClauseCompare:
		if !ir.ValidCmpOps[c.Cmp] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unknown comparison operator %q", c.Cmp), Code: ErrInvalidOperator})
		}
	case ir.ClauseCalc:
		if !ir.ValidArithOps[c.Arith] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unknown arithmetic operator %q", c.Arith), Code: ErrInvalidOperator})
		}
	case ir.ClauseDestructure:
		if c.Source.Kind == ir.TermConst && c.Source.Value.Kind() != ir.KindTuple {
			errs = append(errs, ValidationError{Field: field, Message: "destructure source must be a tuple", Code: ErrInvalidClause})
		}
	case ir.ClauseNot:
		if len(c.Body) == 0 {
			errs = append(errs, ValidationError{Field: field, Message: "negation requires at least one clause", Code: ErrInvalidClause})
		}
		for i, b := range c.Body {
			errs = append(errs, validateClause(b, fmt.Sprintf("%s.not[%d]", field, i))...)
		}
	default:
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unknown clause kind %q", c.Kind), Code: ErrInvalidClause})
	}
	return errs
}

func validateAction(a ir.Action, field string) []ValidationError {
	var errs []ValidationError
	if v, ok := a.Binds(); ok && !varNamePattern.MatchString(string(v)) {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid variable name %q", v),
			Code:    ErrInvalidVariable,
		})
	}
	for _, t := range a.Reads() {
		if t.Kind == ir.TermWildcard {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "wildcard cannot be used in an effect",
				Code:    ErrInvalidAction,
			})
		}
	}

	switch a.Kind {
	case ir.ActionSet, ir.ActionRemove:
		if a.Attr.IsZero() {
			errs = append(errs, ValidationError{Field: field, Message: "attribute name is required", Code: ErrInvalidAction})
		}
	case ir.ActionBind:
		if a.Arith != "" && !ir.ValidArithOps[a.Arith] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unknown arithmetic operator %q", a.Arith), Code: ErrInvalidOperator})
		}
	case ir.ActionCreate, ir.ActionDelete, ir.ActionTuple, ir.ActionRoot, ir.ActionUnroot:
	default:
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unknown action kind %q", a.Kind), Code: ErrInvalidAction})
	}
	return errs
}
