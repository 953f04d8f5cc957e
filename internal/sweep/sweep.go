package sweep

import (
	"errors"
	"fmt"

	"regime-precursor-lab/internal/backtest"
	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/gate"
)

// ErrNoSeries is returned when the sweep has no probability samples to gate.
var ErrNoSeries = errors.New("sweep requires a non-empty probability series")

// Result is one evaluated grid cell.
type Result struct {
	Params     domain.AlertParams
	Evaluation *backtest.Evaluation
}

// Sweep gates the series at every grid cell and scores it against flips.
// Cells evaluate sequentially in expansion order and the output preserves
// that order, so two sweeps over the same inputs are identical row for row.
func Sweep(points []*domain.ProbabilityPoint, flips []*domain.FlipEvent, grid config.GridConfig, eval backtest.EvalParams) ([]*Result, error) {
	if err := eval.Validate(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrNoSeries
	}

	samples := gate.SamplesFromPoints(points)
	spanStart := points[0].TimestampMs
	spanEnd := points[len(points)-1].TimestampMs

	cells := ExpandGrid(grid)
	results := make([]*Result, 0, len(cells))
	for _, params := range cells {
		alerts, err := gate.Run(params, samples)
		if err != nil {
			return nil, fmt.Errorf("cell thr=%.3f k=%d ema=%d sep=%d: %w",
				params.Threshold, params.ConsecutiveK, params.EMAWindow, params.MinSeparationMin, err)
		}

		evaluation, err := backtest.Evaluate(alerts, flips, spanStart, spanEnd, eval)
		if err != nil {
			return nil, err
		}

		results = append(results, &Result{Params: params, Evaluation: evaluation})
	}

	return results, nil
}

// SelectOperatingPoint picks the best cell under the false-alarm budget.
// A cell qualifies when both rates are defined, its false-alarm rate is at
// most the budget, and its coverage is positive. Ranking: coverage
// descending, false alarms ascending, threshold ascending; the earliest
// cell in grid order wins any remaining tie. Returns nil when no cell
// qualifies.
func SelectOperatingPoint(results []*Result, faBudgetPerDay float64) *Result {
	var best *Result
	for _, r := range results {
		e := r.Evaluation
		if e.Coverage == nil || e.FAPerDay == nil {
			continue
		}
		if *e.FAPerDay > faBudgetPerDay || *e.Coverage <= 0 {
			continue
		}
		if best == nil || betterCell(r, best) {
			best = r
		}
	}
	return best
}

// betterCell reports whether candidate strictly outranks incumbent.
func betterCell(candidate, incumbent *Result) bool {
	c, i := candidate.Evaluation, incumbent.Evaluation
	if *c.Coverage != *i.Coverage {
		return *c.Coverage > *i.Coverage
	}
	if *c.FAPerDay != *i.FAPerDay {
		return *c.FAPerDay < *i.FAPerDay
	}
	return candidate.Params.Threshold < incumbent.Params.Threshold
}
