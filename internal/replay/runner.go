package replay

import (
	"context"

	"regime-precursor-lab/internal/storage"
)

// Runner loads stored probability series and replays them in deterministic order.
type Runner struct {
	probStore storage.ProbabilityStore
}

// NewRunner creates a new replay runner.
func NewRunner(probStore storage.ProbabilityStore) *Runner {
	return &Runner{probStore: probStore}
}

// Run replays the samples of a run within [from, to] (inclusive) through the
// engine. Ordering is validated before the first sample is delivered.
func (r *Runner) Run(ctx context.Context, runID, symbol string, from, to int64, engine SampleEngine) error {
	points, err := r.probStore.GetByRunID(ctx, runID, symbol)
	if err != nil {
		return err
	}

	if err := CheckOrdering(points); err != nil {
		return err
	}

	for _, point := range points {
		if point.TimestampMs < from || point.TimestampMs > to {
			continue
		}
		if err := engine.OnSample(ctx, point); err != nil {
			return err
		}
	}

	return nil
}

// RunAll replays every stored sample of a run through the engine.
func (r *Runner) RunAll(ctx context.Context, runID, symbol string, engine SampleEngine) error {
	points, err := r.probStore.GetByRunID(ctx, runID, symbol)
	if err != nil {
		return err
	}

	if err := CheckOrdering(points); err != nil {
		return err
	}

	for _, point := range points {
		if err := engine.OnSample(ctx, point); err != nil {
			return err
		}
	}

	return nil
}
