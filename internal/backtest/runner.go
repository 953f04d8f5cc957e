package backtest

import (
	"context"
	"errors"
	"fmt"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/replay"
	"regime-precursor-lab/internal/storage"
)

// ErrEmptySeries is returned when a run has no stored probability samples.
var ErrEmptySeries = errors.New("no stored probability samples for run")

// Report pairs one gate pass with its evaluation against realized flips.
type Report struct {
	Results    *Results
	Evaluation *Evaluation
}

// Runner replays a stored probability series through the gate and scores
// the resulting alerts against persisted flips.
type Runner struct {
	replayRunner *replay.Runner
	flipStore    storage.FlipStore
}

// NewRunner creates a new backtest runner.
func NewRunner(replayRunner *replay.Runner, flipStore storage.FlipStore) *Runner {
	return &Runner{
		replayRunner: replayRunner,
		flipStore:    flipStore,
	}
}

// Run gates the stored series of (runID, symbol) at the given parameters and
// evaluates the alerts against flips inside the replayed span.
func (r *Runner) Run(ctx context.Context, runID, symbol string, params domain.AlertParams, eval EvalParams) (*Report, error) {
	if err := eval.Validate(); err != nil {
		return nil, err
	}

	engine, err := NewEngine(runID, params)
	if err != nil {
		return nil, err
	}

	if err := r.replayRunner.RunAll(ctx, runID, symbol, engine); err != nil {
		return nil, err
	}

	results := engine.Results()
	if results.SampleCount == 0 {
		return nil, fmt.Errorf("%w: run_id=%s symbol=%s", ErrEmptySeries, runID, symbol)
	}

	flips, err := r.flipStore.GetByTimeRange(ctx, symbol, results.FirstTimestampMs, results.LastTimestampMs)
	if err != nil {
		return nil, err
	}

	evaluation, err := Evaluate(results.Alerts, flips, results.FirstTimestampMs, results.LastTimestampMs, eval)
	if err != nil {
		return nil, err
	}

	return &Report{Results: results, Evaluation: evaluation}, nil
}
