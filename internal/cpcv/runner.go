package cpcv

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/estimator"
	"regime-precursor-lab/internal/metrics"
	"regime-precursor-lab/internal/timeline"
)

// Runner errors.
var (
	ErrNoFeatures    = errors.New("timeline has no feature columns")
	ErrEvalThreshold = errors.New("eval threshold must be in (0, 1)")
)

// Reasons a split is excluded from evaluation.
const (
	ReasonSingleClassTrain = "single_class_train"
	ReasonNoTrainRows      = "no_train_rows"
	ReasonNoTestRows       = "no_test_rows"
)

const minutesPerDay = 24 * 60

// RunParams configures one cross-validation run.
type RunParams struct {
	RunID         string
	Split         SplitParams
	EvalThreshold float64              // probability threshold for coverage and false alarms
	Features      []domain.FeatureName // design columns; nil = full timeline schema
}

// SplitResult is the evaluation of one split. An excluded split carries a
// reason and no metrics. Undefined metrics are nil, never zero.
type SplitResult struct {
	Split    *Split
	Excluded bool
	Reason   string

	TrainRows int // rows fitted after undefined-feature filtering
	TestRows  int // rows predicted

	Brier *float64

	TestFlips      int      // flips inside the test spans
	CoverableFlips int      // test flips with at least one predicted pre-flip minute
	CoveredFlips   int      // coverable flips with a prediction above the threshold
	Coverage       *float64 // nil when no flip is coverable

	FalseAlarms int
	FAPerDay    *float64

	testIndex []int     // predicted row indices, ascending
	probs     []float64 // predictions aligned with testIndex
}

// Aggregate summarizes metrics across splits in combination order.
type Aggregate struct {
	Splits    int // enumerated combinations
	Evaluated int // splits that produced metrics
	Excluded  int

	MeanBrier *float64
	StdBrier  *float64

	MeanCoverage   *float64 // over splits with at least one coverable flip
	StdCoverage    *float64
	CoverageSplits int

	MeanFAPerDay *float64
	StdFAPerDay  *float64
}

// Result is the full output of a cross-validation run.
type Result struct {
	RunID     string
	Splits    []*SplitResult
	Aggregate Aggregate
	OOF       []*domain.ProbabilityPoint // stitched out-of-fold series, time ascending
}

// Runner drives combinatorial purged cross-validation of an estimator.
type Runner struct {
	est     estimator.Estimator
	workers int
}

// NewRunner creates a runner for the given estimator.
func NewRunner(est estimator.Estimator) *Runner {
	return &Runner{
		est:     est,
		workers: runtime.NumCPU(),
	}
}

// WithWorkers bounds the number of splits evaluated concurrently.
func (r *Runner) WithWorkers(n int) *Runner {
	if n > 0 {
		r.workers = n
	}
	return r
}

// Run evaluates the estimator over every split:
//  1. Enumerate the splits (MakeSplits).
//  2. Per split: assemble train and test design matrices, fit, predict.
//  3. Score each split: clipped Brier, flip coverage, false alarms per day.
//  4. Aggregate across splits and stitch the out-of-fold series.
//
// Splits evaluate in parallel. Results, the aggregate, and the stitched
// series depend only on the inputs, never on goroutine scheduling.
func (r *Runner) Run(ctx context.Context, tl *timeline.Timeline, params RunParams) (*Result, error) {
	if params.EvalThreshold <= 0 || params.EvalThreshold >= 1 {
		return nil, ErrEvalThreshold
	}
	features := params.Features
	if len(features) == 0 {
		features = tl.Schema()
	}
	if len(features) == 0 {
		return nil, ErrNoFeatures
	}

	splits, err := MakeSplits(tl, params.Split)
	if err != nil {
		return nil, err
	}

	labels := tl.Labels(params.Split.HorizonMin)

	results := make([]*SplitResult, len(splits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, split := range splits {
		i, split := i, split
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.evaluateSplit(tl, split, labels, features, params)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{
		RunID:     params.RunID,
		Splits:    results,
		Aggregate: aggregate(results),
		OOF:       stitch(tl, results, params.RunID),
	}, nil
}

// evaluateSplit fits and scores one split. A training set the estimator
// cannot fit (one class, no rows) excludes the split rather than failing
// the run; anything else is an error.
func (r *Runner) evaluateSplit(tl *timeline.Timeline, split *Split, labels []int, features []domain.FeatureName, params RunParams) (*SplitResult, error) {
	res := &SplitResult{Split: split}

	xTrain, keepTrain, err := tl.DesignMatrix(split.Train, features)
	if err != nil {
		return nil, err
	}
	xTest, keepTest, err := tl.DesignMatrix(split.Test, features)
	if err != nil {
		return nil, err
	}
	res.TrainRows = len(keepTrain)
	res.TestRows = len(keepTest)

	if len(keepTrain) == 0 {
		res.Excluded = true
		res.Reason = ReasonNoTrainRows
		return res, nil
	}
	if len(keepTest) == 0 {
		res.Excluded = true
		res.Reason = ReasonNoTestRows
		return res, nil
	}

	yTrain := make([]int, len(keepTrain))
	for j, row := range keepTrain {
		yTrain[j] = labels[row]
	}

	model, err := r.est.Fit(xTrain, yTrain)
	if err != nil {
		if errors.Is(err, estimator.ErrSingleClass) {
			res.Excluded = true
			res.Reason = ReasonSingleClassTrain
			return res, nil
		}
		return nil, fmt.Errorf("split %d: fit: %w", split.Index, err)
	}

	res.testIndex = keepTest
	res.probs = model.Predict(xTest)

	scoreSplit(tl, res, labels, params)
	return res, nil
}

// scoreSplit fills the metric fields of an evaluated split.
func scoreSplit(tl *timeline.Timeline, res *SplitResult, labels []int, params RunParams) {
	yTest := make([]int, len(res.testIndex))
	for j, row := range res.testIndex {
		yTest[j] = labels[row]
	}
	if brier, err := metrics.Brier(res.probs, yTest); err == nil {
		res.Brier = &brier
	}

	predicted := make(map[int]float64, len(res.testIndex))
	for j, row := range res.testIndex {
		predicted[row] = res.probs[j]
	}

	// Coverage over flips inside the test spans. A flip is coverable when
	// at least one predicted minute lies in its pre-flip horizon; a flip
	// whose horizon was entirely purged, embargoed, or undefined stays out
	// of the denominator instead of counting as a miss.
	h := int64(params.Split.HorizonMin) * domain.MinuteMs
	for _, flip := range testFlips(tl, res.Split) {
		res.TestFlips++
		lo, hi := tl.IndexRange(flip.TimestampMs-h, flip.TimestampMs)
		coverable, covered := false, false
		for row := lo; row < hi; row++ {
			p, ok := predicted[row]
			if !ok {
				continue
			}
			coverable = true
			if p > params.EvalThreshold {
				covered = true
				break
			}
		}
		if !coverable {
			continue
		}
		res.CoverableFlips++
		if covered {
			res.CoveredFlips++
		}
	}
	if res.CoverableFlips > 0 {
		c := float64(res.CoveredFlips) / float64(res.CoverableFlips)
		res.Coverage = &c
	}

	// False alarms: predicted minutes above the threshold with no flip
	// inside their label horizon. Elapsed time is the predicted minutes.
	for j, row := range res.testIndex {
		if res.probs[j] > params.EvalThreshold && labels[row] == 0 {
			res.FalseAlarms++
		}
	}
	days := float64(len(res.testIndex)) / minutesPerDay
	fa := float64(res.FalseAlarms) / days
	res.FAPerDay = &fa
}

// testFlips returns the flips falling inside the split's test spans, in
// time order.
func testFlips(tl *timeline.Timeline, split *Split) []domain.FlipEvent {
	var out []domain.FlipEvent
	for _, sp := range split.TestSpans {
		out = append(out, tl.FlipsBetween(sp.StartMs, sp.EndMs+1)...)
	}
	return out
}

// aggregate folds split metrics in combination order.
func aggregate(results []*SplitResult) Aggregate {
	agg := Aggregate{Splits: len(results)}

	var briers, coverages, fas []float64
	for _, res := range results {
		if res.Excluded {
			agg.Excluded++
			continue
		}
		agg.Evaluated++
		if res.Brier != nil {
			briers = append(briers, *res.Brier)
		}
		if res.Coverage != nil {
			coverages = append(coverages, *res.Coverage)
		}
		if res.FAPerDay != nil {
			fas = append(fas, *res.FAPerDay)
		}
	}
	agg.CoverageSplits = len(coverages)
	agg.MeanBrier, agg.StdBrier = meanStd(briers)
	agg.MeanCoverage, agg.StdCoverage = meanStd(coverages)
	agg.MeanFAPerDay, agg.StdFAPerDay = meanStd(fas)
	return agg
}

// meanStd keeps empty inputs visibly undefined.
func meanStd(values []float64) (*float64, *float64) {
	s, err := metrics.Summarize(values)
	if err != nil {
		return nil, nil
	}
	return &s.Mean, &s.Std
}

// stitch merges per-split predictions into one out-of-fold series. A minute
// predicted by several splits gets their mean, accumulated in combination
// order; minutes no split predicted are absent, never zero-filled.
func stitch(tl *timeline.Timeline, results []*SplitResult, runID string) []*domain.ProbabilityPoint {
	n := tl.Len()
	sums := make([]float64, n)
	counts := make([]int, n)
	for _, res := range results {
		for j, row := range res.testIndex {
			sums[row] += res.probs[j]
			counts[row]++
		}
	}

	var out []*domain.ProbabilityPoint
	for i := 0; i < n; i++ {
		if counts[i] == 0 {
			continue
		}
		out = append(out, &domain.ProbabilityPoint{
			RunID:       runID,
			Symbol:      tl.Symbol(),
			TimestampMs: tl.MinuteAt(i),
			P:           sums[i] / float64(counts[i]),
		})
	}
	return out
}
