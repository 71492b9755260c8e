package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/symspace/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Validate rules and systems without running them",
		Long: `Validate CUE rules and systems without running them.

Checks syntax, clause and effect shapes, variable binding and clause
ordering for every system. Rules that can re-trigger each other are
reported as warnings; they do not fail validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadRules(rulesDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, rulesDir)

	result := validateProgram(loadResult.Program, loadErrors, formatter)
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// validateProgram turns load errors into validation errors, validates every
// system and collects cycle warnings.
func validateProgram(prog *compiler.Program, loadErrors []error, formatter *OutputFormatter) ValidationResult {
	var errs []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			errs = append(errs, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr),
			})
			continue
		}
		errs = append(errs, compiler.ValidationError{Field: "load", Message: err.Error(), Code: ErrCodeGeneric})
	}

	for _, sys := range prog.Systems {
		formatter.VerboseLog("Validating system: %s (%d rule(s))", sys.Name, len(sys.Rules))
		for _, e := range compiler.Validate(sys) {
			e.Field = "system." + sys.Name + "." + e.Field
			errs = append(errs, e)
		}
	}

	warnings := compiler.AnalyzeCycles(prog.Rules)
	return ValidationResult{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

func lineOf(e *LoadError) int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ All rules valid")
	writeWarnings(formatter.Writer, result.Warnings)
	return nil
}

func writeWarnings(w io.Writer, warnings []compiler.CycleWarning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, warn := range warnings {
		fmt.Fprintf(w, "⚠ %s\n", warn.Message)
	}
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every validation error. Invalid rules exit 1.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		if err := formatter.Failure(CLIError{Code: errs[0].Code, Message: errs[0].Message}, result); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	writeWarnings(formatter.Writer, result.Warnings)
	return failed
}

// ValidateRulesDir validates all rules in a directory without printing.
func ValidateRulesDir(rulesDir string) (ValidationResult, error) {
	loadResult, loadErrors := LoadRules(rulesDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		return ValidationResult{}, loadErrors[0]
	}
	silent := &OutputFormatter{Format: "text", Writer: io.Discard}
	return validateProgram(loadResult.Program, loadErrors, silent), nil
}

