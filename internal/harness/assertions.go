package harness

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/space"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Rule, event.Bindings)
		}
	}

	return buf.String()
}

// AssertionContext gives assertions access to the final space and to the
// scenario's seed names.
type AssertionContext struct {
	Space *space.Space

	// Value converts a seed-syntax node, resolving "@name" references.
	Value func(n *yaml.Node) (ir.Value, error)

	// Ref returns the object a seed name was restored to.
	Ref func(name string) (ir.ObjectRef, bool)
}

// assertTraceContains checks if the trace contains a firing of the rule
// whose bindings include every expected binding (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion, actx *AssertionContext) error {
	want, err := expectedBindings(assertion.Bindings, actx)
	if err != nil {
		return err
	}

	for _, event := range trace {
		if event.Rule == assertion.Rule && matchBindings(event.Bindings, want) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("rule %s with bindings %s", assertion.Rule, want),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func expectedBindings(nodes map[string]yaml.Node, actx *AssertionContext) (ir.Bindings, error) {
	if len(nodes) == 0 {
		return ir.Bindings{}, nil
	}
	if actx == nil || actx.Value == nil {
		return nil, fmt.Errorf("trace_contains with bindings requires a value resolver")
	}
	want := make(ir.Bindings, len(nodes))
	for name, n := range nodes {
		v, err := actx.Value(&n)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
		want[ir.Var(strings.TrimPrefix(name, "?"))] = v
	}
	return want, nil
}

// matchBindings reports whether actual binds every variable in expected to
// an equal value. Extra variables in actual are ignored.
func matchBindings(actual, expected ir.Bindings) bool {
	for name, want := range expected {
		got, ok := actual[name]
		if !ok || !ir.Equal(got, want) {
			return false
		}
	}
	return true
}

// assertTraceOrder checks that the first firing of each rule appears in the
// specified order. Other firings may come in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected rule
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Rule]; !seen {
			positions[event.Rule] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all rules fired
	for _, rule := range assertion.Rules {
		if positions[rule] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all rules fired: %v", assertion.Rules),
				Actual:   fmt.Sprintf("rule %s never fired", rule),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Rules); i++ {
		prev := assertion.Rules[i-1]
		curr := assertion.Rules[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("rules in order: %v", assertion.Rules),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that the rule fired exactly the specified number
// of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Rule == assertion.Rule {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d firings of %s", assertion.Count, assertion.Rule),
			Actual:   fmt.Sprintf("%d firings", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks the attributes of a seeded object after the run.
// Expected attributes use subset semantics; Absent attributes must be
// missing; Deleted requires the object to be gone.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	ref, ok := actx.Ref(assertion.Object)
	if !ok {
		return fmt.Errorf("final_state: unknown object %q", assertion.Object)
	}

	exists := actx.Space.Exists(ref)
	if assertion.Deleted {
		if exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("object %s deleted", assertion.Object),
				Actual:   "object still exists",
			}
		}
		return nil
	}
	if !exists {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("object %s to exist", assertion.Object),
			Actual:   "object was deleted",
		}
	}

	// Sort keys for deterministic failure messages
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		n := assertion.Expect[key]
		want, err := actx.Value(&n)
		if err != nil {
			return fmt.Errorf("final_state: %s.%s: %w", assertion.Object, key, err)
		}
		got, ok, err := actx.Space.GetAttribute(ref, ir.Intern(key))
		if err != nil {
			return fmt.Errorf("final_state: %s.%s: %w", assertion.Object, key, err)
		}
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", assertion.Object, key, want),
				Actual:   "attribute not set",
			}
		}
		if !ir.Equal(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", assertion.Object, key, want),
				Actual:   fmt.Sprintf("%s.%s = %v", assertion.Object, key, got),
			}
		}
	}

	for _, key := range assertion.Absent {
		got, ok, err := actx.Space.GetAttribute(ref, ir.Intern(key))
		if err != nil {
			return fmt.Errorf("final_state: %s.%s: %w", assertion.Object, key, err)
		}
		if ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s absent", assertion.Object, key),
				Actual:   fmt.Sprintf("%s.%s = %v", assertion.Object, key, got),
			}
		}
	}

	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides space access for final_state assertions and
// value resolution for trace_contains bindings.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion, actx)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Space == nil || actx.Value == nil || actx.Ref == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires space context", i)
			} else {
				err = assertFinalState(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
