package domain

// Run identifies one execution of the study pipeline.
// Corresponds to runs table in PostgreSQL.
type Run struct {
	RunID       string // UUID
	Symbol      string // studied symbol
	DataVersion string // SHA256 fingerprint over sorted input descriptors
	ConfigHash  string // SHA256 of the canonical config encoding
	PreregHash  string // SHA256 of the preregistration manifest, empty if none
	Seed        int64  // base permutation seed
	CreatedAtMs int64  // creation timestamp (ms)
}
