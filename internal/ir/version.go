package ir

// Version constants stamped into reports and cache keys.
const (
	// FormatVersion is the report and cache-key format version.
	FormatVersion = "1"

	// ToolVersion is the moka release.
	ToolVersion = "0.1.0"
)
