package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/testutil"
)

// writeRules writes a CUE rule file into a temp dir and returns its path.
func writeRules(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

// inlineScenario decodes a scenario body and points it at rulePath.
func inlineScenario(t *testing.T, rulePath, body string) *Scenario {
	t.Helper()
	scenario, err := parseScenario([]byte(body))
	require.NoError(t, err)
	scenario.Rules = []string{rulePath}
	require.NoError(t, validateScenario(scenario))
	return scenario
}

const counterRules = `
rule: inc: {
	when: [
		{match: ["?c", "n", "?v"]},
		{compare: ["?v", "<", "?limit"]},
	]
	then: [
		{bind: ["?next", "?v", "+", 1]},
		{set: ["?c", "n", "?next"]},
	]
}

system: main: {
	inputs: ["?c", "?limit"]
	rules: ["inc"]
}
`

func TestRun_Counter(t *testing.T) {
	scenario := inlineScenario(t, writeRules(t, counterRules), `
name: counter
description: count to the limit
space:
  objects:
    - name: c
      root: true
      attrs: {n: 0}
inputs: ["@c", 2]
expect:
  state: no_match
  cycles: 3
  firings: 2
assertions:
  - type: trace_contains
    rule: inc
    bindings: {c: "@c", v: 1, limit: 2}
  - type: final_state
    object: c
    expect: {n: 2}
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, testutil.DefaultRunID, result.RunID)
	assert.Equal(t, "no_match", result.State)
	assert.Empty(t, result.RunError)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, int64(1), result.Trace[0].Seq, "deterministic clock starts at 1")
	assert.Equal(t, int64(2), result.Trace[1].Seq)
	assert.Equal(t, "inc", result.Trace[0].Rule)
	assert.Equal(t, ir.Int(0), result.Trace[0].Bindings["v"])
	assert.Equal(t, []string{"set #1.n = 1"}, result.Trace[0].Mutations)

	require.NotNil(t, result.Space)
	require.Len(t, result.Space.Objects, 1)
	assert.True(t, result.Space.Objects[0].Root)
}

func TestRun_Deterministic(t *testing.T) {
	rules := writeRules(t, counterRules)
	body := `
name: counter
description: count to the limit
run_id: fixed
space:
  objects:
    - name: c
      root: true
      attrs: {n: 0}
inputs: ["@c", 5]
expect: {state: no_match}
`
	first, err := Run(inlineScenario(t, rules, body))
	require.NoError(t, err)
	second, err := Run(inlineScenario(t, rules, body))
	require.NoError(t, err)

	a := NewTraceSnapshot("counter", first)
	b := NewTraceSnapshot("counter", second)
	aJSON, err := a.MarshalCanonical()
	require.NoError(t, err)
	bJSON, err := b.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(aJSON), string(bJSON))
	assert.Equal(t, "fixed", first.RunID)
}

func TestRun_ExpectationFailures(t *testing.T) {
	scenario := inlineScenario(t, writeRules(t, counterRules), `
name: counter
description: wrong expectations
space:
  objects:
    - name: c
      root: true
      attrs: {n: 0}
inputs: ["@c", 2]
expect:
  state: budget_exhausted
  firings: 7
assertions:
  - type: final_state
    object: c
    expect: {n: 9}
`)

	result, err := Run(scenario)
	require.NoError(t, err, "failed expectations are results, not errors")
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected state budget_exhausted, got no_match")
	assert.Contains(t, result.Errors[1], "expected 7 firings, got 2")
	assert.Contains(t, result.Errors[2], "c.n = 2")
}

func TestRun_Budget(t *testing.T) {
	scenario := inlineScenario(t, writeRules(t, counterRules), `
name: counter
description: cycle budget halts the run
budget: {max_cycles: 2}
space:
  objects:
    - name: c
      root: true
      attrs: {n: 0}
inputs: ["@c", 100]
expect:
  state: budget_exhausted
  cycles: 2
  firings: 2
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_GCInterval(t *testing.T) {
	scenario := inlineScenario(t, writeRules(t, counterRules), `
name: counter
description: unrooted objects are collected between cycles
gc_interval: 1
space:
  objects:
    - name: c
      root: true
      attrs: {n: 0}
    - name: scratch
      attrs: {n: 99}
inputs: ["@c", 2]
expect:
  state: no_match
  firings: 2
  reclaimed: 1
assertions:
  - type: final_state
    object: scratch
    deleted: true
  - type: final_state
    object: c
    expect: {n: 2}
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 2, result.GCRuns)
	assert.Equal(t, 1, result.Reclaimed)
}

func TestRun_FirstMode(t *testing.T) {
	scenario := inlineScenario(t, writeRules(t, counterRules), `
name: counter
description: first mode fires once
mode: first
space:
  objects:
    - name: c
      root: true
      attrs: {n: 0}
inputs: ["@c", 100]
expect:
  state: fired
  firings: 1
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_AbortedIsAResult(t *testing.T) {
	scenario := inlineScenario(t, writeRules(t, `
rule: boom: {
	when: [{match: ["?o", "n", "_"]}]
	then: [{delete: "?o"}, {set: ["?o", "n", 1]}]
}
`), `
name: boom
description: a failing effect aborts
space:
  objects:
    - name: o
      root: true
      attrs: {n: 0}
expect:
  state: aborted
  firings: 0
assertions:
  - type: final_state
    object: o
    expect: {n: 0}
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.NotEmpty(t, result.RunError)
	assert.Empty(t, result.Trace)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		rules   string
		body    string
		wantErr string
	}{
		{
			name:    "bad rules",
			rules:   `rule: r: {when: [{join: []}], then: []}`,
			body:    "name: n\ndescription: d\nexpect: {state: no_match}\n",
			wantErr: "failed to compile rules",
		},
		{
			name:    "unknown system",
			rules:   counterRules,
			body:    "name: n\ndescription: d\nsystem: ghost\nexpect: {state: no_match}\n",
			wantErr: `system "ghost" not found`,
		},
		{
			name:    "bad seed",
			rules:   counterRules,
			body:    "name: n\ndescription: d\nspace: {objects: [{name: a, attrs: {k: {x: 1}}}]}\nexpect: {state: no_match}\n",
			wantErr: "failed to seed space",
		},
		{
			name:    "unknown input name",
			rules:   counterRules,
			body:    "name: n\ndescription: d\ninputs: [\"@ghost\", 1]\nexpect: {state: no_match}\n",
			wantErr: "failed to bind inputs",
		},
		{
			name:    "wrong input count",
			rules:   counterRules,
			body:    "name: n\ndescription: d\ninputs: [1]\nexpect: {state: no_match}\n",
			wantErr: "failed to run system main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := inlineScenario(t, writeRules(t, tt.rules), tt.body)
			_, err := Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_ExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestSelectSystem_DefaultsToMain(t *testing.T) {
	scenario := inlineScenario(t, writeRules(t, `rule: a: then: [{create: "?o"}, {root: "?o"}]`), `
name: implicit
description: files without systems get an implicit main
expect:
  state: fired
mode: first
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, []string{"create #1", "root #1"}, result.Trace[0].Mutations)
}

func TestScenarioSpaceNode(t *testing.T) {
	var s Scenario
	require.NoError(t, yaml.Unmarshal([]byte("space: {objects: []}"), &s))
	assert.Equal(t, yaml.MappingNode, s.Space.Kind)
}
