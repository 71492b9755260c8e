package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/symspace/internal/ir"
)

// marshalBindings converts a binding environment to canonical JSON TEXT.
// The canonical form keeps stored traces byte-stable across runs.
func marshalBindings(b ir.Bindings) (string, error) {
	if b == nil {
		b = ir.Bindings{}
	}
	data, err := ir.MarshalCanonical(b)
	if err != nil {
		return "", fmt.Errorf("marshal bindings: %w", err)
	}
	return string(data), nil
}

// marshalMutations converts the rendered mutation log to a JSON array.
func marshalMutations(muts []string) (string, error) {
	if muts == nil {
		muts = []string{}
	}
	data, err := ir.MarshalCanonical(muts)
	if err != nil {
		return "", fmt.Errorf("marshal mutations: %w", err)
	}
	return string(data), nil
}

func unmarshalBindings(data string) (ir.Bindings, error) {
	b, err := ir.UnmarshalBindings([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal bindings: %w", err)
	}
	return b, nil
}

func unmarshalMutations(data string) ([]string, error) {
	muts := []string{}
	if err := json.Unmarshal([]byte(data), &muts); err != nil {
		return nil, fmt.Errorf("unmarshal mutations: %w", err)
	}
	return muts, nil
}
