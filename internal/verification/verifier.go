// Package verification implements the post-study replay checks: the batch
// and incremental gate passes must emit identical alert streams, and
// rerunning flip detection over the stored bars must reproduce the stored
// flips. Both checks compare field by field and report every divergence.
package verification

import (
	"fmt"
	"math"

	"regime-precursor-lab/internal/domain"
)

// FloatTolerance bounds float64 comparisons in replay checks.
const FloatTolerance = 1e-7

// FieldDivergence records one mismatch between a stored and a replayed value.
type FieldDivergence struct {
	Field    string      // field name, indexed for slice elements
	Expected interface{} // stored value
	Actual   interface{} // replayed value
}

// CompareAlerts compares two alert streams position by position. Timestamps
// must match exactly, probabilities within FloatTolerance. A length mismatch
// is itself a divergence; the common prefix is still compared.
func CompareAlerts(stored, replayed []*domain.Alert) []FieldDivergence {
	var divergences []FieldDivergence

	if len(stored) != len(replayed) {
		divergences = append(divergences, FieldDivergence{
			Field:    "len(alerts)",
			Expected: len(stored),
			Actual:   len(replayed),
		})
	}

	n := len(stored)
	if len(replayed) < n {
		n = len(replayed)
	}
	for i := 0; i < n; i++ {
		if stored[i].TimestampMs != replayed[i].TimestampMs {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("alerts[%d].TimestampMs", i),
				Expected: stored[i].TimestampMs,
				Actual:   replayed[i].TimestampMs,
			})
		}
		if !floatEquals(stored[i].Probability, replayed[i].Probability) {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("alerts[%d].Probability", i),
				Expected: stored[i].Probability,
				Actual:   replayed[i].Probability,
			})
		}
	}

	return divergences
}

// CompareFlips compares two flip lists position by position. Every field
// must match exactly; flips carry no tolerance-compared values.
func CompareFlips(stored, replayed []*domain.FlipEvent) []FieldDivergence {
	var divergences []FieldDivergence

	if len(stored) != len(replayed) {
		divergences = append(divergences, FieldDivergence{
			Field:    "len(flips)",
			Expected: len(stored),
			Actual:   len(replayed),
		})
	}

	n := len(stored)
	if len(replayed) < n {
		n = len(replayed)
	}
	for i := 0; i < n; i++ {
		if stored[i].Symbol != replayed[i].Symbol {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("flips[%d].Symbol", i),
				Expected: stored[i].Symbol,
				Actual:   replayed[i].Symbol,
			})
		}
		if stored[i].TimestampMs != replayed[i].TimestampMs {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("flips[%d].TimestampMs", i),
				Expected: stored[i].TimestampMs,
				Actual:   replayed[i].TimestampMs,
			})
		}
		if stored[i].FromState != replayed[i].FromState {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("flips[%d].FromState", i),
				Expected: stored[i].FromState,
				Actual:   replayed[i].FromState,
			})
		}
		if stored[i].ToState != replayed[i].ToState {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("flips[%d].ToState", i),
				Expected: stored[i].ToState,
				Actual:   replayed[i].ToState,
			})
		}
	}

	return divergences
}

// floatEquals compares two float64 values within FloatTolerance.
func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}
