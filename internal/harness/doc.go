// Package harness provides conformance testing for symspace rule systems.
//
// The harness compiles CUE rule files, seeds a fresh object space, runs one
// system through the real engine and validates the recorded firing trace and
// the final space.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: counter_to_three
//	description: "What this scenario validates"
//	rules:
//	  - rules/counter.cue
//	system: main
//	mode: saturate
//	budget: { max_cycles: 100 }
//	space:
//	  objects:
//	    - name: c
//	      root: true
//	      attrs: { n: 0 }
//	inputs: ["@c"]
//	expect:
//	  state: no_match
//	  firings: 3
//	assertions:
//	  - type: trace_contains
//	    rule: inc
//	    bindings: { v: 2 }
//	  - type: final_state
//	    object: c
//	    expect: { n: 3 }
//
// The space section uses the seed file syntax: "@name" refers to a seeded
// object, sequences are tuples and other strings are symbols. Inputs,
// binding expectations and final_state values use the same syntax.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: a firing of the rule with matching bindings (subset)
//   - trace_order: rules first fired in the specified order
//   - trace_count: a rule fired exactly N times
//   - final_state: attribute values, absent attributes or deletion of an object
//
// # Deterministic Testing
//
// All scenarios execute with a deterministic clock and a fixed run ID so
// traces are identical across runs and can be compared to golden files.
//
// The harness uses:
//   - Fixed run IDs (from scenario.run_id or testutil.DefaultRunID)
//   - Deterministic logical clock (testutil.DeterministicClock)
//   - In-memory SQLite trace store (isolated per scenario)
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/counter.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
