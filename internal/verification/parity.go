package verification

import (
	"context"
	"errors"
	"fmt"

	"regime-precursor-lab/internal/backtest"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/gate"
	"regime-precursor-lab/internal/replay"
	"regime-precursor-lab/internal/storage"
)

// ErrNoOperatingPoint is returned when the run has no stored operating point
// to verify against.
var ErrNoOperatingPoint = errors.New("no operating point stored for run")

// ParityResult is the outcome of one batch-versus-incremental gate check.
type ParityResult struct {
	RunID             string
	Params            domain.AlertParams
	Samples           int
	BatchAlerts       int
	IncrementalAlerts int
	Match             bool
	Divergences       []FieldDivergence
}

// ParityVerifier replays a run's stored probability series through the gate
// twice, once as a single batch pass and once sample by sample through the
// replay runner, and compares the alert streams. The two passes share the
// gate's transition logic, so any divergence points at state leaking between
// samples.
type ParityVerifier struct {
	probStore  storage.ProbabilityStore
	paramStore storage.AlertParamStore
}

// NewParityVerifier creates a parity verifier over the given stores.
func NewParityVerifier(probStore storage.ProbabilityStore, paramStore storage.AlertParamStore) *ParityVerifier {
	return &ParityVerifier{probStore: probStore, paramStore: paramStore}
}

// Verify checks gate parity for one run:
//  1. Load the stored operating point and probability series.
//  2. Batch pass: gate.Run over the full series.
//  3. Incremental pass: a fresh machine fed one sample at a time through
//     the replay runner.
//  4. Compare the two alert streams.
func (v *ParityVerifier) Verify(ctx context.Context, runID, symbol string) (*ParityResult, error) {
	op, err := v.paramStore.GetByRunID(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: run_id=%s", ErrNoOperatingPoint, runID)
		}
		return nil, fmt.Errorf("load operating point: %w", err)
	}

	points, err := v.probStore.GetByRunID(ctx, runID, symbol)
	if err != nil {
		return nil, fmt.Errorf("load probability series: %w", err)
	}
	if err := replay.CheckOrdering(points); err != nil {
		return nil, err
	}

	batch, err := gate.Run(op.Params, gate.SamplesFromPoints(points))
	if err != nil {
		return nil, fmt.Errorf("batch pass: %w", err)
	}

	engine, err := backtest.NewEngine(runID, op.Params)
	if err != nil {
		return nil, err
	}
	if err := replay.NewRunner(v.probStore).RunAll(ctx, runID, symbol, engine); err != nil {
		return nil, fmt.Errorf("incremental pass: %w", err)
	}
	incremental := engine.Results().Alerts

	divergences := CompareAlerts(batch, incremental)
	return &ParityResult{
		RunID:             runID,
		Params:            op.Params,
		Samples:           len(points),
		BatchAlerts:       len(batch),
		IncrementalAlerts: len(incremental),
		Match:             len(divergences) == 0,
		Divergences:       divergences,
	}, nil
}
