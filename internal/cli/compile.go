package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/symspace/internal/compiler"
	"github.com/roach88/symspace/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
	System string // restrict output to one system
}

// CompilationResult holds the execution plans of every compiled system.
type CompilationResult struct {
	Systems []SystemPlan          `json:"systems"`
	Stats   compiler.PlannerStats `json:"stats"`
}

// SystemPlan is one system with the plans of its rules.
type SystemPlan struct {
	Name   string     `json:"name"`
	Inputs []ir.Var   `json:"inputs,omitempty"`
	Rules  []RulePlan `json:"rules"`
}

// RulePlan is a rule's clauses in execution order.
type RulePlan struct {
	Name        string   `json:"name"`
	Mode        string   `json:"mode,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	Order       []int    `json:"order"`
	Clauses     []string `json:"clauses"`
	Actions     []string `json:"actions"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <rules-dir>",
		Short: "Compile rules and print their execution plans",
		Long: `Compile CUE rules and print the clause order the matcher will use.

Clauses are ordered greedily: each step picks the legal clause that
introduces the fewest new variables, with ties kept in declaration order.
System inputs count as bound before the first clause.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().StringVar(&opts.System, "system", "", "compile only this system")

	return cmd
}

func runCompile(opts *CompileOptions, rulesDir string, cmd *cobra.Command) error {
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
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, rulesDir)
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	systems := loadResult.Program.Systems
	if opts.System != "" {
		sys, err := SelectSystem(loadResult.Program, opts.System)
		if err != nil {
			code, message := parseCompileError(err)
			return outputCompileError(formatter, code, message, nil)
		}
		systems = []ir.System{*sys}
	}

	result, planErrors := planSystems(systems, formatter)
	if len(planErrors) > 0 {
		return outputCompileErrors(formatter, planErrors)
	}

	if opts.Output != "" {
		if err := writePlansToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// planSystems plans every rule of every system with the system's inputs as
// seed. Rules shared between systems are planned once per distinct seed.
func planSystems(systems []ir.System, formatter *OutputFormatter) (*CompilationResult, []error) {
	planner := compiler.NewPlanner()
	result := &CompilationResult{}
	var errs []error

	for _, sys := range systems {
		sp := SystemPlan{Name: sys.Name, Inputs: sys.Inputs}
		for _, rule := range sys.Rules {
			formatter.VerboseLog("Planning rule: %s.%s", sys.Name, rule.Name)
			plan, err := planner.Plan(rule, sys.Inputs)
			if err != nil {
				errs = append(errs, &LoadError{
					Code:    compiler.ErrUnorderable,
					Message: fmt.Sprintf("system.%s: %v", sys.Name, err),
				})
				continue
			}
			sp.Rules = append(sp.Rules, rulePlan(rule, plan))
		}
		result.Systems = append(result.Systems, sp)
	}
	result.Stats = planner.Stats()
	return result, errs
}

func rulePlan(rule ir.Rule, plan *ir.Plan) RulePlan {
	rp := RulePlan{
		Name:        rule.Name,
		Mode:        string(rule.Mode),
		Fingerprint: plan.Fingerprint,
		Order:       plan.Order,
		Clauses:     make([]string, len(plan.Clauses)),
		Actions:     make([]string, len(rule.Actions)),
	}
	for i, c := range plan.Clauses {
		rp.Clauses[i] = c.String()
	}
	for i, a := range rule.Actions {
		rp.Actions[i] = a.String()
	}
	return rp
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	rules := 0
	for _, sys := range result.Systems {
		rules += len(sys.Rules)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d system(s), %d rule plan(s)\n\n", len(result.Systems), rules)

	for _, sys := range result.Systems {
		if len(sys.Inputs) > 0 {
			inputs := make([]string, len(sys.Inputs))
			for i, v := range sys.Inputs {
				inputs[i] = v.String()
			}
			fmt.Fprintf(w, "System %s (inputs: %s)\n", sys.Name, strings.Join(inputs, ", "))
		} else {
			fmt.Fprintf(w, "System %s\n", sys.Name)
		}
		for _, rp := range sys.Rules {
			fmt.Fprintf(w, "  %s [%s]\n", rp.Name, shortHash(rp.Fingerprint))
			for i, c := range rp.Clauses {
				fmt.Fprintf(w, "    %d. %s  (when[%d])\n", i+1, c, rp.Order[i])
			}
			for _, a := range rp.Actions {
				fmt.Fprintf(w, "    → %s\n", a)
			}
		}
		fmt.Fprintln(w)
	}

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote plans to %s\n", outputFile)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	failed := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}
		if err := formatter.Failure(cliErrors[0], cliErrors); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}
	return failed
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Field + ": " + compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writePlansToFile writes the compilation result to a file as indented JSON.
func writePlansToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plans: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
