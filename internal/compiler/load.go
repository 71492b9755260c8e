package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// LoadFiles compiles the CUE files at paths as one source. The files are
// unified in order, so a rule may be declared in one file and referenced
// by a system in another.
func LoadFiles(paths ...string) (*Program, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no rule files given")
	}
	ctx := cuecontext.New()
	var v cue.Value
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		file := ctx.CompileBytes(data, cue.Filename(path))
		if err := file.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		if i == 0 {
			v = file
		} else {
			v = v.Unify(file)
		}
	}
	return CompileProgram(v)
}

// CompileSource compiles CUE source text. filename only labels positions
// in errors.
func CompileSource(filename, src string) (*Program, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return CompileProgram(v)
}
