package replay

import (
	"context"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/normalization"
	"regime-precursor-lab/internal/regimes"
	"regime-precursor-lab/internal/storage"
)

// FlipReplay replays regime detection from stored bars.
// Produces a deterministic flip stream without writing to any store, so the
// result can be compared against previously persisted flips.
type FlipReplay struct {
	barStore storage.BarStore
	config   regimes.DetectorConfig
}

// NewFlipReplay creates a new flip replay runner.
func NewFlipReplay(barStore storage.BarStore, config regimes.DetectorConfig) *FlipReplay {
	return &FlipReplay{
		barStore: barStore,
		config:   config,
	}
}

// Run replays regime detection for a symbol over bars in [from, to].
// Process:
//  1. Load 4h bars from storage; resample from 1m when absent
//  2. Run a fresh detector over the macro grid
//  3. Return flips in detection order
//
// Nothing is persisted: resampled bars and flips stay in memory. A partial
// range yields the flips derivable from that range alone, which can differ
// near the boundary from a full-history run because warmup restarts.
func (r *FlipReplay) Run(ctx context.Context, symbol string, from, to int64) ([]*domain.FlipEvent, error) {
	// 1. Load the macro grid
	macroBars, err := r.barStore.GetByTimeRange(ctx, symbol, domain.BarInterval4h, from, to)
	if err != nil {
		return nil, err
	}
	if len(macroBars) == 0 {
		bars1m, err := r.barStore.GetByTimeRange(ctx, symbol, domain.BarInterval1m, from, to)
		if err != nil {
			return nil, err
		}
		if len(bars1m) == 0 {
			return nil, nil
		}
		macroBars = normalization.ResampleBars(bars1m, domain.BarInterval4h)
	}

	// 2. Fresh detector per replay
	detector := regimes.NewDetector(r.config)
	_, flips, err := detector.Detect(symbol, macroBars)
	if err != nil {
		return nil, err
	}

	return flips, nil
}
