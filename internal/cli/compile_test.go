package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/symspace/internal/compiler"
)

func TestCompileRules(t *testing.T) {
	out, err := execute(t, NewCompileCommand, "text", testRulesDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Compiled 3 system(s), 3 rule plan(s)")
	assert.Contains(t, out, "System main (inputs: ?c, ?limit)")
	assert.Contains(t, out, "System reset\n")
	assert.Contains(t, out, "    1. ?c.n = ?v  (when[0])")
	assert.Contains(t, out, "    2. ?v < ?limit  (when[1])")
	assert.Contains(t, out, "    → ?next = ?v + 1")
	assert.Contains(t, out, "    → set ?c.n = ?next")
}

func TestCompileRulesJSON(t *testing.T) {
	out, err := execute(t, NewCompileCommand, "json", testRulesDir)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Systems, 3)
	assert.Equal(t, 3, resp.Data.Stats.Plans)
}

func TestCompileSelectSystem(t *testing.T) {
	out, err := execute(t, NewCompileCommand, "json", testRulesDir, "--system", "main")
	require.NoError(t, err)

	var resp struct {
		Data CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Systems, 1)

	sys := resp.Data.Systems[0]
	assert.Equal(t, "main", sys.Name)
	require.Len(t, sys.Rules, 1)
	rp := sys.Rules[0]
	assert.Equal(t, "inc", rp.Name)
	assert.Equal(t, []int{0, 1}, rp.Order)
	assert.Len(t, rp.Fingerprint, 64)

	_, err = execute(t, NewCompileCommand, "text", testRulesDir, "--system", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `system "ghost" not found`)
}

func TestCompileGreedyOrder(t *testing.T) {
	dir := writeRules(t, `
package rules

rule: pick: {
	when: [
		{compare: ["?v", ">", 0]},
		{match: ["?o", "n", "?v"]},
	]
	then: [{set: ["?o", "n", 0]}]
}
`)

	out, err := execute(t, NewCompileCommand, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "System main\n")
	assert.Contains(t, out, "    1. ?o.n = ?v  (when[1])")
	assert.Contains(t, out, "    2. ?v > 0  (when[0])")
}

func TestCompileSharedRulePlannedOnce(t *testing.T) {
	dir := writeRules(t, `
package rules

rule: inc: {
	when: [{match: ["?c", "n", "?v"]}]
	then: [{bind: ["?next", "?v", "+", 1]}, {set: ["?c", "n", "?next"]}]
}

system: a: {inputs: ["?c"], rules: ["inc"]}
system: b: {inputs: ["?c"], rules: ["inc"]}
system: c: rules: ["inc"]
`)

	out, err := execute(t, NewCompileCommand, "json", dir)
	require.NoError(t, err)

	var resp struct {
		Data CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, compiler.PlannerStats{Plans: 2, Hits: 1, Misses: 2}, resp.Data.Stats)

	// The fingerprint identifies the rule, not the seed it was planned for
	a, c := resp.Data.Systems[0].Rules[0], resp.Data.Systems[2].Rules[0]
	assert.Equal(t, a.Fingerprint, c.Fingerprint)
}

func TestCompileOutputToFile(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "plans.json")

	out, err := execute(t, NewCompileCommand, "text", testRulesDir, "--output", outputFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote plans to "+outputFile)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Systems, 3)
}

func TestCompileNonExistentDirectory(t *testing.T) {
	_, err := execute(t, NewCompileCommand, "text", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestCompileEmptyDirectory(t *testing.T) {
	_, err := execute(t, NewCompileCommand, "text", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files found")
}

func TestCompileInvalidRules(t *testing.T) {
	out, err := execute(t, NewCompileCommand, "text", writeRules(t, malformedRules))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "compilation failed with 2 error(s)")

	assert.Contains(t, out, "✗ Compilation failed")
	assert.Contains(t, out, compiler.ErrInvalidMode+": rule.second")
}

func TestCompileInvalidRulesJSON(t *testing.T) {
	out, err := execute(t, NewCompileCommand, "json", writeRules(t, malformedRules))
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Error  *CLIError  `json:"error"`
		Data   []CLIError `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, compiler.ErrInvalidMode, resp.Data[1].Code)
}

func TestCompileUnorderableRule(t *testing.T) {
	out, err := execute(t, NewCompileCommand, "text", writeRules(t, unorderableRules))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	assert.Contains(t, out, compiler.ErrUnorderable+": system.main:")
	assert.Contains(t, out, "cannot run")
}

func TestCompileVerboseOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{testRulesDir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Planning rule: main.inc")
}

func TestParseCompileError(t *testing.T) {
	code, msg := parseCompileError(&LoadError{Code: ErrCodeNoFiles, Message: "no CUE files found in x"})
	assert.Equal(t, ErrCodeNoFiles, code)
	assert.Equal(t, "no CUE files found in x", msg)

	code, msg = parseCompileError(&compiler.CompileError{Field: "then[0].op", Message: "unknown operator"})
	assert.Equal(t, compiler.ErrInvalidOperator, code)
	assert.Equal(t, "then[0].op: unknown operator", msg)

	code, _ = parseCompileError(os.ErrNotExist)
	assert.Equal(t, ErrCodeGeneric, code)
}

func TestFindCUEFiles(t *testing.T) {
	tmpDir := t.TempDir()

	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.cue"), []byte("package rules"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "notcue.txt"), []byte("not a cue file"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "nested.cue"), []byte("package rules"), 0644))

	files, err := FindCUEFiles(tmpDir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field    string
		expected string
	}{
		{"when[2]", compiler.ErrInvalidClause},
		{"then[0]", compiler.ErrInvalidAction},
		{"then[1].op", compiler.ErrInvalidOperator},
		{"when[0].op", compiler.ErrInvalidOperator},
		{"mode", compiler.ErrInvalidMode},
		{"inputs[1]", compiler.ErrInvalidVariable},
		{"cue", ErrCodeBuildFailed},
		{"rules[0]", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapFieldToErrorCode(tt.field))
		})
	}
}
