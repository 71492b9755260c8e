package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestRules writes a minimal CUE rule file for testing.
func createTestRules(t *testing.T, dir, name string) string {
	t.Helper()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0755))
	rulePath := filepath.Join(rulesDir, name)
	require.NoError(t, os.WriteFile(rulePath, []byte(`rule: noop: then: []`), 0644))
	return rulePath
}

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	createTestRules(t, dir, "counter.cue")

	path := writeScenario(t, dir, `
name: test_scenario
description: "Test scenario for validation"
rules:
  - rules/counter.cue
system: main
mode: rule-saturate
run_id: run-7
budget:
  max_cycles: 10
  max_steps: 500
space:
  objects:
    - name: c
      root: true
      attrs: {n: 0}
inputs: ["@c", 4]
expect:
  state: no_match
  firings: 3
assertions:
  - type: trace_count
    rule: inc
    count: 3
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, []string{filepath.Join(dir, "rules/counter.cue")}, scenario.Rules, "rule paths resolve against the scenario directory")
	assert.Equal(t, "main", scenario.System)
	assert.Equal(t, "rule-saturate", scenario.Mode)
	assert.Equal(t, "run-7", scenario.RunID)
	assert.Equal(t, Budget{MaxCycles: 10, MaxSteps: 500}, scenario.Budget)
	assert.NotZero(t, scenario.Space.Kind)
	assert.Len(t, scenario.Inputs, 2)
	require.NotNil(t, scenario.Expect)
	assert.Equal(t, "no_match", scenario.Expect.State)
	require.NotNil(t, scenario.Expect.Firings)
	assert.Equal(t, 3, *scenario.Expect.Firings)
	assert.Nil(t, scenario.Expect.Cycles)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertTraceCount, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: d
rules: [rules/r.cue]
expect: {state: no_match}
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
rules: [rules/r.cue]
expect: {state: no_match}
`,
			wantErr: "description is required",
		},
		{
			name: "missing rules",
			content: `
name: n
description: d
expect: {state: no_match}
`,
			wantErr: "rules list is required",
		},
		{
			name: "nothing to check",
			content: `
name: n
description: d
rules: [rules/r.cue]
`,
			wantErr: "expect or a non-empty assertions list is required",
		},
		{
			name: "rule file not found",
			content: `
name: n
description: d
rules: [rules/ghost.cue]
expect: {state: no_match}
`,
			wantErr: "rule file not found",
		},
		{
			name: "unknown mode",
			content: `
name: n
description: d
rules: [rules/r.cue]
mode: sideways
expect: {state: no_match}
`,
			wantErr: "unknown run mode",
		},
		{
			name: "negative budget",
			content: `
name: n
description: d
rules: [rules/r.cue]
budget: {max_cycles: -1}
expect: {state: no_match}
`,
			wantErr: "budget limits must be non-negative",
		},
		{
			name: "expect without state",
			content: `
name: n
description: d
rules: [rules/r.cue]
expect: {firings: 1}
`,
			wantErr: "expect: state is required",
		},
		{
			name: "trace_contains without rule",
			content: `
name: n
description: d
rules: [rules/r.cue]
assertions:
  - type: trace_contains
`,
			wantErr: "rule is required for trace_contains",
		},
		{
			name: "trace_order without rules",
			content: `
name: n
description: d
rules: [rules/r.cue]
assertions:
  - type: trace_order
`,
			wantErr: "rules list is required for trace_order",
		},
		{
			name: "negative trace_count",
			content: `
name: n
description: d
rules: [rules/r.cue]
assertions:
  - type: trace_count
    rule: r
    count: -1
`,
			wantErr: "count must be non-negative",
		},
		{
			name: "final_state without object",
			content: `
name: n
description: d
rules: [rules/r.cue]
assertions:
  - type: final_state
    expect: {n: 1}
`,
			wantErr: "object is required for final_state",
		},
		{
			name: "final_state without checks",
			content: `
name: n
description: d
rules: [rules/r.cue]
assertions:
  - type: final_state
    object: c
`,
			wantErr: "expect, absent or deleted is required",
		},
		{
			name: "final_state deleted with expect",
			content: `
name: n
description: d
rules: [rules/r.cue]
assertions:
  - type: final_state
    object: c
    deleted: true
    expect: {n: 1}
`,
			wantErr: "deleted excludes expect and absent",
		},
		{
			name: "unknown assertion type",
			content: `
name: n
description: d
rules: [rules/r.cue]
assertions:
  - type: trace_magic
`,
			wantErr: `unknown assertion type "trace_magic"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			createTestRules(t, dir, "r.cue")
			_, err := LoadScenario(writeScenario(t, dir, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "name: [unclosed")

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "typo at top level",
			content: `
name: n
description: d
rules: [rules/r.cue]
assertion:
  - type: trace_count
    rule: r
`,
		},
		{
			name: "typo in assertion",
			content: `
name: n
description: d
rules: [rules/r.cue]
assertions:
  - type: trace_count
    rul: r
`,
		},
		{
			name: "typo in budget",
			content: `
name: n
description: d
rules: [rules/r.cue]
budget: {max_cycle: 3}
expect: {state: no_match}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			createTestRules(t, dir, "r.cue")
			_, err := LoadScenario(writeScenario(t, dir, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to parse YAML")
		})
	}
}

func TestLoadScenario_TraceCountZeroAllowed(t *testing.T) {
	dir := t.TempDir()
	createTestRules(t, dir, "r.cue")
	path := writeScenario(t, dir, `
name: n
description: d
rules: [rules/r.cue]
assertions:
  - type: trace_count
    rule: r
    count: 0
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, 0, scenario.Assertions[0].Count)
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	dir := t.TempDir()
	rulePath := createTestRules(t, dir, "r.cue")

	scenarioDir := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarioDir, 0755))
	path := writeScenario(t, scenarioDir, `
name: n
description: d
rules: [rules/r.cue]
expect: {state: no_match}
`)

	scenario, err := LoadScenarioWithBasePath(path, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{rulePath}, scenario.Rules)
}

func TestLoadScenarioWithBasePath_AbsoluteRulePath(t *testing.T) {
	dir := t.TempDir()
	rulePath := createTestRules(t, dir, "r.cue")
	path := writeScenario(t, dir, `
name: n
description: d
rules: [`+rulePath+`]
expect: {state: no_match}
`)

	scenario, err := LoadScenarioWithBasePath(path, "/somewhere/else")
	require.NoError(t, err)
	assert.Equal(t, []string{rulePath}, scenario.Rules, "absolute paths are not rebased")
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "trace_contains", AssertTraceContains)
	assert.Equal(t, "trace_order", AssertTraceOrder)
	assert.Equal(t, "trace_count", AssertTraceCount)
	assert.Equal(t, "final_state", AssertFinalState)
}

func TestLoadExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, scenario.Name)
		})
	}
}
