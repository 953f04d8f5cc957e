package eventstudy

import "gonum.org/v1/gonum/stat"

// Statistic turns event-aligned samples into a scalar effect size.
// The permutation null re-applies the statistic to sign-flipped copies of
// the samples, so an implementation must treat event and baseline labeling
// symmetrically: only the signs may carry information.
type Statistic interface {
	// Name identifies the statistic in reports.
	Name() string
	// Compute returns the effect size for one hypothesis' samples.
	Compute(values []float64) float64
}

// MeanShift is the default statistic: the mean of the event-aligned values.
// Features arrive as robust z-scores, so the non-event baseline centers at
// zero and the mean measures the shift away from it.
type MeanShift struct{}

// Name implements Statistic.
func (MeanShift) Name() string { return "mean_shift" }

// Compute implements Statistic.
func (MeanShift) Compute(values []float64) float64 {
	return stat.Mean(values, nil)
}
