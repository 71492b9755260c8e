package ir

// Version constants for persisted records.
const (
	// FormatVersion is the version of the canonical value encoding.
	FormatVersion = "1"

	// EngineVersion is the symspace engine version.
	EngineVersion = "0.1.0"
)
