package ir

// Run describes one RunSystem invocation as persisted in a trace.
type Run struct {
	ID      string `json:"id"`
	System  string `json:"system"`
	Mode    string `json:"mode"`
	State   string `json:"state,omitempty"`
	Cycles  int    `json:"cycles"`
	Firings int    `json:"firings"`
	Steps   int64  `json:"steps"`
	Error   string `json:"error,omitempty"`

	// EngineVersion and FormatVersion identify the writer.
	EngineVersion string `json:"engine_version"`
	FormatVersion string `json:"format_version"`
}

// Firing records one rule application: the environment it ran with and the
// mutations its effects staged.
type Firing struct {
	RunID string `json:"run_id"`

	// Seq is the logical clock value when the firing committed.
	Seq   int64  `json:"seq"`
	Cycle int    `json:"cycle"`
	Rule  string `json:"rule"`

	Bindings    Bindings `json:"bindings"`
	BindingHash string   `json:"binding_hash"`

	// Mutations lists the staged mutations in log order, rendered as text.
	Mutations []string `json:"mutations"`
}
