package verification

import (
	"context"
	"fmt"

	"regime-precursor-lab/internal/regimes"
	"regime-precursor-lab/internal/replay"
	"regime-precursor-lab/internal/storage"
)

// RerunResult is the outcome of one flip rerun-determinism check.
type RerunResult struct {
	Symbol        string
	FromMs        int64
	ToMs          int64
	StoredFlips   int
	ReplayedFlips int
	Match         bool
	Divergences   []FieldDivergence
}

// RerunVerifier recomputes flips from the stored bars and compares them
// with the flips persisted during detection. Nothing is written back.
type RerunVerifier struct {
	flipStore storage.FlipStore
	replay    *replay.FlipReplay
}

// NewRerunVerifier creates a rerun verifier detecting with the given config.
func NewRerunVerifier(flipStore storage.FlipStore, barStore storage.BarStore, cfg regimes.DetectorConfig) *RerunVerifier {
	return &RerunVerifier{
		flipStore: flipStore,
		replay:    replay.NewFlipReplay(barStore, cfg),
	}
}

// Verify reruns detection over [from, to] and compares against the stored
// flips in the same range. The range must cover the full detection span:
// the detector restarts its warmup at the range start, so a mid-series
// range diverges even on untouched data.
func (v *RerunVerifier) Verify(ctx context.Context, symbol string, from, to int64) (*RerunResult, error) {
	stored, err := v.flipStore.GetByTimeRange(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("load stored flips: %w", err)
	}

	replayed, err := v.replay.Run(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("rerun detection: %w", err)
	}

	divergences := CompareFlips(stored, replayed)
	return &RerunResult{
		Symbol:        symbol,
		FromMs:        from,
		ToMs:          to,
		StoredFlips:   len(stored),
		ReplayedFlips: len(replayed),
		Match:         len(divergences) == 0,
		Divergences:   divergences,
	}, nil
}
