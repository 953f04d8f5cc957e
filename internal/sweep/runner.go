package sweep

import (
	"context"
	"errors"
	"fmt"

	"regime-precursor-lab/internal/backtest"
	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// Outcome bundles the full sweep table with the selected point.
type Outcome struct {
	Results  []*Result
	Selected *domain.OperatingPoint // nil when no cell meets the budget
}

// Runner sweeps the gate grid over a stored probability series and persists
// the winning operating point.
type Runner struct {
	probStore  storage.ProbabilityStore
	flipStore  storage.FlipStore
	paramStore storage.AlertParamStore
}

// NewRunner creates a new sweep runner.
func NewRunner(probStore storage.ProbabilityStore, flipStore storage.FlipStore, paramStore storage.AlertParamStore) *Runner {
	return &Runner{
		probStore:  probStore,
		flipStore:  flipStore,
		paramStore: paramStore,
	}
}

// Run evaluates the grid for (runID, symbol) and persists the winner.
// Steps:
//  1. Load the OOF series and the flips inside its span
//  2. Gate and score every grid cell
//  3. Select under the budget: coverage desc, false alarms asc, threshold asc
//  4. Persist the winner keyed by run id
//
// horizonMin bounds false-alarm forgiveness and normally equals the label
// horizon the series was fit against. An empty grid after constraints is
// not an error: the outcome carries no selection and nothing is persisted.
// The sweep is deterministic, so a rerun hitting an already-stored point
// is tolerated.
func (r *Runner) Run(ctx context.Context, runID, symbol string, cfg config.GateConfig, horizonMin int) (*Outcome, error) {
	// 1. Load series and flips
	points, err := r.probStore.GetByRunID(ctx, runID, symbol)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: run_id=%s symbol=%s", ErrNoSeries, runID, symbol)
	}

	flips, err := r.flipStore.GetByTimeRange(ctx, symbol, points[0].TimestampMs, points[len(points)-1].TimestampMs)
	if err != nil {
		return nil, err
	}

	// 2. Evaluate every cell
	eval := backtest.EvalParams{PreWindowMin: cfg.PreWindowMin, HorizonMin: horizonMin}
	results, err := Sweep(points, flips, cfg.Grid, eval)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Results: results}

	// 3. Select
	best := SelectOperatingPoint(results, cfg.FABudgetPerDay)
	if best == nil {
		return outcome, nil
	}

	op := &domain.OperatingPoint{
		RunID:         runID,
		Params:        best.Params,
		Alerts:        best.Evaluation.Alerts,
		TruePositives: best.Evaluation.TruePositives,
		Coverage:      *best.Evaluation.Coverage,
		FAPerDay:      *best.Evaluation.FAPerDay,
	}

	// 4. Persist
	if err := r.paramStore.Insert(ctx, op); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return nil, err
	}

	outcome.Selected = op
	return outcome, nil
}
