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

// writeRules writes a single rules file into a fresh directory.
func writeRules(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte(src), 0644))
	return dir
}

const unorderableRules = `
package rules

rule: orphan: {
	when: [{compare: ["?x", "<", 3]}]
	then: [{set: ["?x", "n", 1]}]
}
`

const malformedRules = `
package rules

rule: first: {
	when: [{frob: ["?x"]}]
	then: []
}

rule: second: {
	mode: "sometimes"
	then: []
}
`

func TestValidateValidRules(t *testing.T) {
	out, err := execute(t, NewValidateCommand, "text", testRulesDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ All rules valid")
	assert.Contains(t, out, "⚠ Potential cycle detected: inc → clear → inc")
}

func TestValidateValidRulesJSON(t *testing.T) {
	out, err := execute(t, NewValidateCommand, "json", testRulesDir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Empty(t, resp.Data.Errors)
	assert.NotEmpty(t, resp.Data.Warnings)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	_, err := execute(t, NewValidateCommand, "text", "/nonexistent/directory")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := execute(t, NewValidateCommand, "text", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no CUE files found")
}

func TestValidateUnorderableRule(t *testing.T) {
	dir := writeRules(t, unorderableRules)

	out, err := execute(t, NewValidateCommand, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, compiler.ErrUnorderable+": system.main.")
	assert.Contains(t, out, "cannot run")
}

func TestValidateUnorderableRuleJSON(t *testing.T) {
	dir := writeRules(t, unorderableRules)

	out, err := execute(t, NewValidateCommand, "json", dir)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotNil(t, resp.Error)

	codes := make([]string, len(resp.Data.Errors))
	for i, e := range resp.Data.Errors {
		codes[i] = e.Code
	}
	assert.Contains(t, codes, compiler.ErrUnorderable)
}

func TestValidateMultipleErrors(t *testing.T) {
	dir := writeRules(t, malformedRules)

	out, err := execute(t, NewValidateCommand, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "rule.first")
	assert.Contains(t, out, "rule.second")
	assert.Contains(t, out, compiler.ErrInvalidMode)
	assert.Contains(t, err.Error(), "2 error(s)")
}

func TestValidateVerboseOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{testRulesDir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Found 2 CUE file(s)")
	assert.Contains(t, buf.String(), "Validating system: main (1 rule(s))")
}

func TestValidateRulesDir(t *testing.T) {
	result, err := ValidateRulesDir(testRulesDir)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	// inc and clear both write n, which both of them match on
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, []string{"inc", "clear", "inc"}, result.Warnings[0].Path)
	assert.Equal(t, "warning", result.Warnings[0].Level)
}

func TestValidateRulesDirInvalid(t *testing.T) {
	result, err := ValidateRulesDir(writeRules(t, unorderableRules))
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
}

func TestValidateRulesDirNonExistent(t *testing.T) {
	_, err := ValidateRulesDir("/nonexistent/directory")
	require.Error(t, err)
}

func TestLoadRules(t *testing.T) {
	result, errs := LoadRules(testRulesDir, LoadModeFailFast)
	require.Empty(t, errs)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.FileCount)

	names := make([]string, len(result.Program.Rules))
	for i, r := range result.Program.Rules {
		names[i] = r.Name
	}
	assert.ElementsMatch(t, []string{"inc", "clear", "boom"}, names)

	sys, err := SelectSystem(result.Program, "")
	require.NoError(t, err)
	assert.Equal(t, "main", sys.Name)
	require.Len(t, sys.Inputs, 2)
	assert.Equal(t, "?limit", sys.Inputs[1].String())

	_, err = SelectSystem(result.Program, "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explode")
}

func TestLoadRulesCollectAll(t *testing.T) {
	dir := writeRules(t, malformedRules)

	_, errs := LoadRules(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)

	_, errs = LoadRules(dir, LoadModeCollectAll)
	require.Len(t, errs, 2)
	var loadErr *LoadError
	require.ErrorAs(t, errs[1], &loadErr)
	assert.Equal(t, compiler.ErrInvalidMode, loadErr.Code)
	assert.True(t, loadErr.Pos.IsValid())
}
