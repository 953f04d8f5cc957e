package reporting

import (
	"time"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/metrics"
)

// Report is the rendered study summary for one run.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Run         RunInfo

	// Data Summary
	DataSummary DataSummary

	// Data Quality. The generator leaves this empty; the pipeline fills it
	// in after running sufficiency checks.
	DataQuality DataQualitySection

	// Signature tests (sorted by feature, lag)
	Signatures []*domain.SignatureResult

	// FDRThreshold is the subset q-value gate the validated count used.
	FDRThreshold float64

	// Stream scores the stored out-of-fold probability series.
	// Nil when the run stored no series.
	Stream *metrics.RunAggregate

	// OperatingPoint is the persisted sweep winner. Nil when no grid cell
	// met the false-alarm budget.
	OperatingPoint *domain.OperatingPoint
}

// RunInfo carries run provenance.
type RunInfo struct {
	RunID       string
	Symbol      string
	DataVersion string
	ConfigHash  string
	PreregHash  string // empty when no manifest was registered
	Seed        int64
	CreatedAtMs int64 // Unix ms
}

// DataQualitySection carries sufficiency check results and integrity errors.
type DataQualitySection struct {
	SufficiencyChecks []SufficiencyCheckRow
	IntegrityErrors   []string
	AllChecksPassed   bool
}

// SufficiencyCheckRow is one rendered sufficiency check.
type SufficiencyCheckRow struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// DataSummary counts the stored study inputs and outputs.
type DataSummary struct {
	Flips           int
	FlipSpanStartMs int64 // Unix ms, zero when no flips
	FlipSpanEndMs   int64 // Unix ms, zero when no flips

	Hypotheses    int
	Preregistered int
	Inconclusive  int
	Validated     int // pre-registered, conclusive, subset q below threshold
}
