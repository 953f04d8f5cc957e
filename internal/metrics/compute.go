package metrics

import (
	"errors"
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"
)

// Computation errors.
var (
	ErrNoSamples      = errors.New("metrics need at least one sample")
	ErrLengthMismatch = errors.New("probabilities and labels differ in length")
)

// Probabilities are clipped to [clipLo, clipHi] before scoring so a
// degenerate 0 or 1 prediction cannot dominate the score.
const (
	clipLo = 1e-6
	clipHi = 1 - 1e-6
)

// Brier returns the mean squared error between clipped probabilities and
// binary labels. Lower is better; a constant 0.5 scores 0.25.
func Brier(probs []float64, labels []int) (float64, error) {
	if len(probs) != len(labels) {
		return 0, fmt.Errorf("%w: %d probabilities, %d labels", ErrLengthMismatch, len(probs), len(labels))
	}
	if len(probs) == 0 {
		return 0, ErrNoSamples
	}

	sum := 0.0
	for i, p := range probs {
		d := clipProbability(p) - float64(labels[i])
		sum += d * d
	}
	return sum / float64(len(probs)), nil
}

// clipProbability bounds p away from 0 and 1.
func clipProbability(p float64) float64 {
	if p < clipLo {
		return clipLo
	}
	if p > clipHi {
		return clipHi
	}
	return p
}

// Summary describes a sample distribution. Std is the sample standard
// deviation (n-1 denominator), zero when fewer than two samples.
type Summary struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	P25   float64
	P50   float64
	P75   float64
	P90   float64
	P95   float64
	Max   float64
}

// Summarize computes the distribution summary of values.
// Returns ErrNoSamples on empty input; an undefined summary is reported as
// absent by callers, never as a zero struct.
func Summarize(values []float64) (*Summary, error) {
	if len(values) == 0 {
		return nil, ErrNoSamples
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return nil, err
	}
	lo, err := stats.Min(values)
	if err != nil {
		return nil, err
	}
	hi, err := stats.Max(values)
	if err != nil {
		return nil, err
	}
	std := 0.0
	if len(values) >= 2 {
		if std, err = stats.StandardDeviationSample(values); err != nil {
			return nil, err
		}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return &Summary{
		Count: len(values),
		Mean:  mean,
		Std:   std,
		Min:   lo,
		P25:   percentile(sorted, 0.25),
		P50:   percentile(sorted, 0.50),
		P75:   percentile(sorted, 0.75),
		P90:   percentile(sorted, 0.90),
		P95:   percentile(sorted, 0.95),
		Max:   hi,
	}, nil
}

// percentile interpolates linearly between closest ranks.
// sorted must be ascending and non-empty; p is a fraction in [0, 1].
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
