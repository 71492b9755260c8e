package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/symspace/internal/engine"
)

// Scenario defines a conformance test scenario.
// A scenario seeds a fresh space, runs one system over it and asserts on the
// resulting firing trace and final space.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules lists CUE rule files, unified in order.
	// Paths are relative to the scenario file location.
	Rules []string `yaml:"rules"`

	// System names the system to run. Empty selects "main", or an implicit
	// system over every rule when the files declare none.
	System string `yaml:"system,omitempty"`

	// Mode is the run mode (saturate, first or rule-saturate).
	Mode string `yaml:"mode,omitempty"`

	// RunID fixes the run identifier. Defaults to testutil.DefaultRunID.
	RunID string `yaml:"run_id,omitempty"`

	// Budget bounds the run. Zero fields fall back to engine defaults.
	Budget Budget `yaml:"budget,omitempty"`

	// GCInterval collects garbage every n cycles. Zero keeps the engine
	// default and a negative value disables collection.
	GCInterval int `yaml:"gc_interval,omitempty"`

	// Space is the seed, in the same format as a seed YAML file.
	Space yaml.Node `yaml:"space,omitempty"`

	// Inputs bind the system's inputs positionally. "@name" refers to a
	// seeded object.
	Inputs []yaml.Node `yaml:"inputs,omitempty"`

	// Expect checks the run outcome.
	Expect *Outcome `yaml:"expect,omitempty"`

	// Assertions validate the final trace and space.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Budget mirrors engine.Budget in scenario files.
type Budget struct {
	MaxCycles         int   `yaml:"max_cycles,omitempty"`
	MaxSteps          int64 `yaml:"max_steps,omitempty"`
	MaxFirings        int   `yaml:"max_firings,omitempty"`
	MaxFiringsPerRule int   `yaml:"max_firings_per_rule,omitempty"`
}

func (b Budget) engine() engine.Budget {
	return engine.Budget{
		MaxCycles:         b.MaxCycles,
		MaxSteps:          b.MaxSteps,
		MaxFirings:        b.MaxFirings,
		MaxFiringsPerRule: b.MaxFiringsPerRule,
	}
}

// Outcome is the expected result of a run. Nil fields are not checked.
type Outcome struct {
	// State is the halt state name, e.g. "no_match" or "budget_exhausted".
	State   string `yaml:"state"`
	Cycles  *int   `yaml:"cycles,omitempty"`
	Firings *int   `yaml:"firings,omitempty"`

	// Reclaimed is the number of objects garbage collection reclaimed
	// during the run.
	Reclaimed *int `yaml:"reclaimed,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a firing of Rule whose bindings include Bindings
	// - "trace_order": firings of Rules appear in order
	// - "trace_count": Rule fired exactly Count times
	// - "final_state": Object's attributes after the run
	Type string `yaml:"type"`

	// Rule is the rule name (used by trace_contains and trace_count).
	Rule string `yaml:"rule,omitempty"`

	// Bindings are expected variable values (used by trace_contains).
	// Subset match: only the listed variables are compared.
	Bindings map[string]yaml.Node `yaml:"bindings,omitempty"`

	// Count is the expected number of firings (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Rules is the expected firing order (used by trace_order).
	Rules []string `yaml:"rules,omitempty"`

	// Object names a seeded object (used by final_state).
	Object string `yaml:"object,omitempty"`

	// Expect contains expected attribute values (used by final_state).
	// Subset match: unlisted attributes are not compared.
	Expect map[string]yaml.Node `yaml:"expect,omitempty"`

	// Absent lists attributes the object must not carry (used by final_state).
	Absent []string `yaml:"absent,omitempty"`

	// Deleted asserts the object no longer exists (used by final_state).
	Deleted bool `yaml:"deleted,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Rule paths are resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving rule paths relative to basePath.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := parseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve rule paths BEFORE validation so existence checks see real paths
	for i, rulePath := range scenario.Rules {
		if !filepath.IsAbs(rulePath) && basePath != "" {
			scenario.Rules[i] = filepath.Join(basePath, rulePath)
		}
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

func parseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Rules) == 0 {
		return fmt.Errorf("rules list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 && s.Expect == nil {
		return fmt.Errorf("expect or a non-empty assertions list is required")
	}

	for _, rulePath := range s.Rules {
		if _, err := os.Stat(rulePath); os.IsNotExist(err) {
			return fmt.Errorf("rule file not found: %s", rulePath)
		}
	}

	if _, err := engine.ParseRunMode(s.Mode); err != nil {
		return err
	}

	if s.Budget.MaxCycles < 0 || s.Budget.MaxSteps < 0 || s.Budget.MaxFirings < 0 || s.Budget.MaxFiringsPerRule < 0 {
		return fmt.Errorf("budget limits must be non-negative")
	}

	if s.Expect != nil && s.Expect.State == "" {
		return fmt.Errorf("expect: state is required")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Object == "" {
			return fmt.Errorf("assertions[%d]: object is required for final_state", index)
		}
		if a.Deleted && (len(a.Expect) > 0 || len(a.Absent) > 0) {
			return fmt.Errorf("assertions[%d]: deleted excludes expect and absent", index)
		}
		if !a.Deleted && len(a.Expect) == 0 && len(a.Absent) == 0 {
			return fmt.Errorf("assertions[%d]: expect, absent or deleted is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
