package metrics

import (
	"context"
	"errors"
	"sort"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// ErrNoProbabilities is returned when a run has no stored probability points.
var ErrNoProbabilities = errors.New("no probability points stored for run")

// RunAggregate scores the stored out-of-fold probability stream of one run
// against the flips it was supposed to anticipate.
type RunAggregate struct {
	RunID     string
	Symbol    string
	Rows      int      // probability points in the stream
	Flips     int      // flips inside the covered span
	Positives int      // rows with a flip within the horizon
	BaseRate  float64  // positives / rows
	Brier     float64  // clipped Brier score over the stream
	Probs     *Summary // distribution of the stored probabilities
}

// Aggregator computes run-level aggregates from stored results.
type Aggregator struct {
	probStore storage.ProbabilityStore
	flipStore storage.FlipStore
}

// NewAggregator creates a metrics aggregator over the given stores.
func NewAggregator(probStore storage.ProbabilityStore, flipStore storage.FlipStore) *Aggregator {
	return &Aggregator{
		probStore: probStore,
		flipStore: flipStore,
	}
}

// ComputeRunAggregate loads the probability stream of a run and scores it:
//  1. Load probability points (run, symbol) and flips (symbol).
//  2. Label each minute 1 iff a flip occurs within (t, t+horizon].
//  3. Brier over the stream, base rate, probability distribution summary.
//
// Returns ErrNoProbabilities when the run stored nothing for the symbol.
func (a *Aggregator) ComputeRunAggregate(ctx context.Context, runID, symbol string, horizonMin int) (*RunAggregate, error) {
	points, err := a.probStore.GetByRunID(ctx, runID, symbol)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrNoProbabilities
	}

	flips, err := a.flipStore.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	h := int64(horizonMin) * domain.MinuteMs
	probs := make([]float64, len(points))
	labels := make([]int, len(points))
	positives := 0
	for i, pt := range points {
		probs[i] = pt.P
		labels[i] = labelWithin(flips, pt.TimestampMs, h)
		positives += labels[i]
	}

	brier, err := Brier(probs, labels)
	if err != nil {
		return nil, err
	}
	summary, err := Summarize(probs)
	if err != nil {
		return nil, err
	}

	first := points[0].TimestampMs
	last := points[len(points)-1].TimestampMs
	inSpan := 0
	for _, f := range flips {
		if f.TimestampMs >= first && f.TimestampMs <= last {
			inSpan++
		}
	}

	return &RunAggregate{
		RunID:     runID,
		Symbol:    symbol,
		Rows:      len(points),
		Flips:     inSpan,
		Positives: positives,
		BaseRate:  float64(positives) / float64(len(points)),
		Brier:     brier,
		Probs:     summary,
	}, nil
}

// labelWithin reports 1 iff some flip falls in (ts, ts+h].
// flips must be ordered by timestamp ASC.
func labelWithin(flips []*domain.FlipEvent, ts, h int64) int {
	i := sort.Search(len(flips), func(i int) bool { return flips[i].TimestampMs > ts })
	if i < len(flips) && flips[i].TimestampMs <= ts+h {
		return 1
	}
	return 0
}
