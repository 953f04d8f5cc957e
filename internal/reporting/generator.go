package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"regime-precursor-lab/internal/metrics"
	"regime-precursor-lab/internal/storage"
)

// Generation errors.
var (
	ErrRunRequired  = errors.New("report requires run_id and symbol")
	ErrFDRThreshold = errors.New("report fdr threshold must be in (0, 1)")
	ErrHorizon      = errors.New("report label horizon must be positive")
)

// Params selects the run to report on.
type Params struct {
	RunID  string
	Symbol string

	// FDRThreshold is the subset q-value gate for the validated count.
	FDRThreshold float64

	// HorizonMin is the flip label horizon used to score the stored
	// probability series, minutes.
	HorizonMin int
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if p.RunID == "" || p.Symbol == "" {
		return ErrRunRequired
	}
	if p.FDRThreshold <= 0 || p.FDRThreshold >= 1 {
		return fmt.Errorf("%w: got %g", ErrFDRThreshold, p.FDRThreshold)
	}
	if p.HorizonMin <= 0 {
		return fmt.Errorf("%w: got %d", ErrHorizon, p.HorizonMin)
	}
	return nil
}

// Generator produces reports from stored results.
type Generator struct {
	runStore   storage.RunStore
	flipStore  storage.FlipStore
	sigStore   storage.SignatureStore
	paramStore storage.AlertParamStore
	aggregator *metrics.Aggregator
	now        func() time.Time // injectable clock for deterministic output
}

// NewGenerator creates a report generator over the given stores.
func NewGenerator(
	runStore storage.RunStore,
	flipStore storage.FlipStore,
	sigStore storage.SignatureStore,
	paramStore storage.AlertParamStore,
	probStore storage.ProbabilityStore,
) *Generator {
	return &Generator{
		runStore:   runStore,
		flipStore:  flipStore,
		sigStore:   sigStore,
		paramStore: paramStore,
		aggregator: metrics.NewAggregator(probStore, flipStore),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate assembles the report for one run from stored results. A run with
// no stored probability series or operating point still reports; those
// sections stay empty. A missing run is an error.
func (g *Generator) Generate(ctx context.Context, p Params) (*Report, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	run, err := g.runStore.GetByID(ctx, p.RunID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", p.RunID, err)
	}

	flips, err := g.flipStore.GetBySymbol(ctx, p.Symbol)
	if err != nil {
		return nil, fmt.Errorf("load flips: %w", err)
	}

	sigs, err := g.sigStore.GetByRunID(ctx, p.RunID)
	if err != nil {
		return nil, fmt.Errorf("load signatures: %w", err)
	}

	summary := DataSummary{
		Flips:      len(flips),
		Hypotheses: len(sigs),
	}
	if len(flips) > 0 {
		summary.FlipSpanStartMs = flips[0].TimestampMs
		summary.FlipSpanEndMs = flips[len(flips)-1].TimestampMs
	}
	for _, sig := range sigs {
		if sig.Preregistered {
			summary.Preregistered++
		}
		if sig.Inconclusive {
			summary.Inconclusive++
		}
		if sig.Validated(p.FDRThreshold) {
			summary.Validated++
		}
	}

	stream, err := g.aggregator.ComputeRunAggregate(ctx, p.RunID, p.Symbol, p.HorizonMin)
	if err != nil && !errors.Is(err, metrics.ErrNoProbabilities) {
		return nil, fmt.Errorf("score probability stream: %w", err)
	}

	op, err := g.paramStore.GetByRunID(ctx, p.RunID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load operating point: %w", err)
	}

	return &Report{
		GeneratedAt: g.now(),
		Run: RunInfo{
			RunID:       run.RunID,
			Symbol:      run.Symbol,
			DataVersion: run.DataVersion,
			ConfigHash:  run.ConfigHash,
			PreregHash:  run.PreregHash,
			Seed:        run.Seed,
			CreatedAtMs: run.CreatedAtMs,
		},
		DataSummary:    summary,
		Signatures:     sigs,
		FDRThreshold:   p.FDRThreshold,
		Stream:         stream,
		OperatingPoint: op,
	}, nil
}
