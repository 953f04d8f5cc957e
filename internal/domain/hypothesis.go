package domain

import "fmt"

// Hypothesis identifies one (feature, lag) pre-flip signature test.
// LagMin is negative: minutes before the flip.
type Hypothesis struct {
	Feature FeatureName
	LagMin  int
}

// Key returns the canonical hypothesis identifier, e.g. "ret_1m@-30m".
func (h Hypothesis) Key() string {
	return fmt.Sprintf("%s@%dm", h.Feature, h.LagMin)
}

// Inconclusive reasons reported on SignatureResult.
const (
	ReasonTooFewFlips   = "too_few_flips"
	ReasonTooFewSamples = "too_few_event_samples"
)

// SignatureResult is the outcome of one hypothesis test.
// Immutable once computed for a given run seed.
// Corresponds to signature_results table in PostgreSQL.
//
// Statistic, TStatNW, PValue and the q-values are nil when Inconclusive:
// an undefined metric is reported as undefined, never substituted.
type SignatureResult struct {
	RunID         string      // owning run
	Feature       FeatureName // tested feature
	LagMin        int         // negative lag in minutes
	SampleSize    int         // event samples used (one per usable flip)
	Statistic     *float64    // observed effect size (event mean - baseline mean)
	TStatNW       *float64    // Newey-West t statistic of the signature mean
	PValue        *float64    // permutation p-value, in (0, 1]
	QValueGlobal  *float64    // BH q-value over the full hypothesis set
	QValueSubset  *float64    // BH q-value over the pre-registered subset, nil if not pre-registered
	Preregistered bool        // member of the pre-registered subset
	Inconclusive  bool        // true when the test could not be run
	Reason        string      // inconclusive reason, empty otherwise
}

// Hypothesis returns the tested hypothesis.
func (r *SignatureResult) Hypothesis() Hypothesis {
	return Hypothesis{Feature: r.Feature, LagMin: r.LagMin}
}

// Validated reports whether this result passes the pre-registered gate at
// the given q-value threshold. Only the subset scope gates validation; the
// global q-value is informational.
func (r *SignatureResult) Validated(qThreshold float64) bool {
	if r.Inconclusive || !r.Preregistered || r.QValueSubset == nil {
		return false
	}
	return *r.QValueSubset < qThreshold
}
