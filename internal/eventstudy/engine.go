package eventstudy

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/idhash"
	"regime-precursor-lab/internal/stats"
	"regime-precursor-lab/internal/timeline"
)

// Validation errors.
var (
	ErrNoLags       = errors.New("no lags to test")
	ErrBadLag       = errors.New("lag must be negative minutes")
	ErrPermutations = errors.New("permutation count must be positive")
)

// StudyParams configures one event study over a timeline.
type StudyParams struct {
	RunID           string
	Lags            []int // negative minutes before the flip
	Permutations    int
	Seed            int64               // base seed; each hypothesis derives its own
	MinFlips        int                 // below this, every hypothesis is inconclusive
	MinEventSamples int                 // below this, the hypothesis is inconclusive
	Prereg          []domain.Hypothesis // pre-registered subset, may be empty
}

// Engine runs the pre-flip signature study: one permutation test per
// (feature, lag) hypothesis, then BH-FDR in the global and pre-registered
// scopes. Pure computation; persistence belongs to the caller.
type Engine struct {
	statistic Statistic
	workers   int
}

// NewEngine creates an engine with the mean-shift statistic.
func NewEngine() *Engine {
	return &Engine{statistic: MeanShift{}, workers: runtime.NumCPU()}
}

// WithStatistic replaces the effect-size statistic.
func (e *Engine) WithStatistic(s Statistic) *Engine {
	e.statistic = s
	return e
}

// WithWorkers sets the number of concurrent hypothesis tests.
func (e *Engine) WithWorkers(n int) *Engine {
	if n > 0 {
		e.workers = n
	}
	return e
}

// Run tests every (schema feature, lag) hypothesis against the timeline's
// flips and returns one result per hypothesis in deterministic order
// (schema order, then lag ascending). Results are identical for a given
// seed regardless of worker count: each hypothesis draws from its own
// derived generator and lands at a fixed result index.
func (e *Engine) Run(ctx context.Context, tl *timeline.Timeline, params StudyParams) ([]*domain.SignatureResult, error) {
	if params.Permutations < 1 {
		return nil, ErrPermutations
	}
	lags, err := normalizeLags(params.Lags)
	if err != nil {
		return nil, err
	}

	prereg := make(map[string]bool, len(params.Prereg))
	for _, h := range params.Prereg {
		prereg[h.Key()] = true
	}

	var hyps []domain.Hypothesis
	for _, f := range tl.Schema() {
		for _, lag := range lags {
			hyps = append(hyps, domain.Hypothesis{Feature: f, LagMin: lag})
		}
	}

	flips := tl.Flips()
	results := make([]*domain.SignatureResult, len(hyps))

	if len(flips) < params.MinFlips {
		// Too few events for any test. Every hypothesis reports the same
		// reason with its honest sample count; none is silently dropped.
		for i, h := range hyps {
			results[i] = &domain.SignatureResult{
				RunID:         params.RunID,
				Feature:       h.Feature,
				LagMin:        h.LagMin,
				SampleSize:    len(extractSamples(tl, h, flips)),
				Preregistered: prereg[h.Key()],
				Inconclusive:  true,
				Reason:        domain.ReasonTooFewFlips,
			}
		}
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, h := range hyps {
		i, h := i, h
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = e.testOne(tl, h, flips, params, prereg[h.Key()])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	applyFDR(results)
	return results, nil
}

// testOne runs the permutation test for a single hypothesis.
func (e *Engine) testOne(tl *timeline.Timeline, h domain.Hypothesis, flips []domain.FlipEvent, params StudyParams, preregistered bool) *domain.SignatureResult {
	samples := extractSamples(tl, h, flips)
	r := &domain.SignatureResult{
		RunID:         params.RunID,
		Feature:       h.Feature,
		LagMin:        h.LagMin,
		SampleSize:    len(samples),
		Preregistered: preregistered,
	}
	if len(samples) < params.MinEventSamples {
		r.Inconclusive = true
		r.Reason = domain.ReasonTooFewSamples
		return r
	}

	seed := idhash.ComputeHypothesisSeed(params.Seed, string(h.Feature), h.LagMin)
	obs, p := permutationTest(samples, e.statistic, params.Permutations, seed)
	r.Statistic = &obs
	r.PValue = &p

	// Reporting column only. Constant samples have no long-run variance
	// and the t-stat stays undefined.
	if t, err := stats.NeweyWestTStat(samples, stats.NeweyWestLags(len(samples))); err == nil {
		r.TStatNW = &t
	}
	return r
}

// extractSamples aligns the feature at the hypothesis lag relative to each
// flip. A flip whose lagged minute is off the grid or undefined contributes
// no sample.
func extractSamples(tl *timeline.Timeline, h domain.Hypothesis, flips []domain.FlipEvent) []float64 {
	samples := make([]float64, 0, len(flips))
	for i := range flips {
		if v, ok := tl.ValueAtLag(h.Feature, flips[i].TimestampMs, h.LagMin); ok {
			samples = append(samples, v)
		}
	}
	return samples
}

// applyFDR fills both q-value scopes in place. Only conclusive results
// carry p-values and enter a scope; each scope ranks independently, so the
// pre-registered subset is corrected for its own size.
func applyFDR(results []*domain.SignatureResult) {
	var globalIdx, subsetIdx []int
	var globalP, subsetP []float64
	for i, r := range results {
		if r.Inconclusive || r.PValue == nil {
			continue
		}
		globalIdx = append(globalIdx, i)
		globalP = append(globalP, *r.PValue)
		if r.Preregistered {
			subsetIdx = append(subsetIdx, i)
			subsetP = append(subsetP, *r.PValue)
		}
	}
	for j, q := range stats.BenjaminiHochberg(globalP) {
		results[globalIdx[j]].QValueGlobal = &q
	}
	for j, q := range stats.BenjaminiHochberg(subsetP) {
		results[subsetIdx[j]].QValueSubset = &q
	}
}

// normalizeLags dedupes and sorts lags ascending (far to near). Any
// non-negative lag is rejected: the study only looks before the flip.
func normalizeLags(lags []int) ([]int, error) {
	if len(lags) == 0 {
		return nil, ErrNoLags
	}
	seen := make(map[int]bool, len(lags))
	out := make([]int, 0, len(lags))
	for _, l := range lags {
		if l >= 0 {
			return nil, fmt.Errorf("%w: got %d", ErrBadLag, l)
		}
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Ints(out)
	return out, nil
}
