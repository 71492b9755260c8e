package testutil

// DefaultRunID is returned by a FixedRunIDGenerator built with an empty ID.
const DefaultRunID = "test-run-default"

// FixedRunIDGenerator returns the same run ID on every call.
//
// A scenario performs one run, so a fixed ID makes its recorded trace
// byte-identical across executions. Unlike engine.FixedGenerator, which
// hands out a list of IDs in order and panics when it runs dry, this
// generator never runs out.
//
// FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator that always returns id, or
// DefaultRunID if id is empty.
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = DefaultRunID
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run ID. Implements engine.RunIDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
