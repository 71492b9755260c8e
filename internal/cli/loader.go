package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/symspace/internal/compiler"
	"github.com/roach88/symspace/internal/ir"
)

// LoadMode controls how errors are handled during rule loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading rules from a directory.
type LoadResult struct {
	Program   *compiler.Program
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during rule loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadRules loads and compiles the CUE package in dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
//
// With no systems declared, the program gets an implicit "main" system
// holding every rule in declaration order.
func LoadRules(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("rules directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing rules directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	prog := &compiler.Program{}
	result := &LoadResult{
		Program:   prog,
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	// Rules first: systems refer to them by name
	if rulesVal := value.LookupPath(cue.ParsePath("rule")); rulesVal.Exists() {
		iter, iterErr := rulesVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating rules: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				rule, compileErr := compiler.CompileRule(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "rule."+iter.Label()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				prog.Rules = append(prog.Rules, *rule)
			}
		}
	}

	if sysVal := value.LookupPath(cue.ParsePath("system")); sysVal.Exists() {
		iter, iterErr := sysVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating systems: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				sys, compileErr := compiler.CompileSystem(iter.Value(), prog.Rules)
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "system."+iter.Label()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				prog.Systems = append(prog.Systems, *sys)
			}
		}
	}

	if len(prog.Rules) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no rules found"})
	}
	if len(prog.Systems) == 0 && len(prog.Rules) > 0 {
		prog.Systems = append(prog.Systems, compiler.DefaultSystem(prog.Rules))
	}

	return result, errs
}

// SelectSystem returns the named system, or "main" when name is empty.
func SelectSystem(prog *compiler.Program, name string) (*ir.System, error) {
	if name == "" {
		name = compiler.DefaultSystemName
	}
	sys, ok := prog.System(name)
	if !ok {
		names := make([]string, len(prog.Systems))
		for i, s := range prog.Systems {
			names[i] = s.Name
		}
		return nil, &LoadError{
			Code:    ErrCodeNotFound,
			Message: fmt.Sprintf("system %q not found (have %s)", name, strings.Join(names, ", ")),
		}
	}
	return sys, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
// Rule and system errors reuse the compiler's E1xx validation codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeSpaceFailed = "E008" // Seed space could not be read or restored
	ErrCodeStoreFailed = "E009" // Trace database error
)

// MapFieldToErrorCode maps a compiler error field to an error code.
// Fields look like "mode", "when[2]", "then[0].op" or "inputs[1]".
func MapFieldToErrorCode(field string) string {
	switch {
	case strings.HasSuffix(field, ".op"):
		return compiler.ErrInvalidOperator
	case strings.HasPrefix(field, "when"):
		return compiler.ErrInvalidClause
	case strings.HasPrefix(field, "then"):
		return compiler.ErrInvalidAction
	case field == "mode":
		return compiler.ErrInvalidMode
	case strings.HasPrefix(field, "inputs"):
		return compiler.ErrInvalidVariable
	case field == "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}
