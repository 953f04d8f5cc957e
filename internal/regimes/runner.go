package regimes

import (
	"context"
	"errors"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/normalization"
	"regime-precursor-lab/internal/storage"
)

// Runner drives regime detection over stored bars and persists the flips.
type Runner struct {
	barStore  storage.BarStore
	flipStore storage.FlipStore
	detector  *Detector
}

// NewRunner creates a regime runner with default detection parameters.
func NewRunner(barStore storage.BarStore, flipStore storage.FlipStore) *Runner {
	return &Runner{
		barStore:  barStore,
		flipStore: flipStore,
		detector:  NewDetector(DefaultDetectorConfig()),
	}
}

// WithConfig replaces the detector configuration.
func (r *Runner) WithConfig(config DetectorConfig) *Runner {
	r.detector = NewDetector(config)
	return r
}

// DetectSymbol runs macro regime detection for a single symbol.
// Steps:
//  1. Load 4h bars; resample from 1m (and store) when absent
//  2. Classify each macro bar and extract flips
//  3. Persist flips
//
// Detection is deterministic, so a rerun regenerates identical output and
// an already-populated store is not an error.
func (r *Runner) DetectSymbol(ctx context.Context, symbol string) ([]*domain.RegimePoint, []*domain.FlipEvent, error) {
	// 1. Load or derive the macro grid
	macroBars, err := r.barStore.GetBySymbol(ctx, symbol, domain.BarInterval4h)
	if err != nil {
		return nil, nil, err
	}
	if len(macroBars) == 0 {
		bars1m, err := r.barStore.GetBySymbol(ctx, symbol, domain.BarInterval1m)
		if err != nil {
			return nil, nil, err
		}
		if len(bars1m) == 0 {
			return nil, nil, nil
		}
		macroBars = normalization.ResampleBars(bars1m, domain.BarInterval4h)
		if err := r.barStore.InsertBulk(ctx, macroBars); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, nil, err
		}
	}

	// 2. Classify
	points, flips, err := r.detector.Detect(symbol, macroBars)
	if err != nil {
		return nil, nil, err
	}

	// 3. Persist flips
	if len(flips) > 0 {
		if err := r.flipStore.InsertBulk(ctx, flips); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, nil, err
		}
	}

	return points, flips, nil
}
