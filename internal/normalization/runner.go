package normalization

import (
	"context"
	"errors"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// NormalizeSymbol derives feature rows for a single symbol.
// Steps:
//  1. Load 1s bars from the bar store
//  2. Load 1m bars; resample from 1s (and store) when absent
//  3. Compute the causal feature set
//  4. Apply the rolling robust z transform
//  5. Store feature rows
func (r *Runner) NormalizeSymbol(ctx context.Context, symbol string) error {
	// 1. Load the fine-grained stream
	bars1s, err := r.barStore.GetBySymbol(ctx, symbol, domain.BarInterval1s)
	if err != nil {
		return err
	}

	// 2. Load or derive the minute grid
	bars1m, err := r.barStore.GetBySymbol(ctx, symbol, domain.BarInterval1m)
	if err != nil {
		return err
	}
	if len(bars1m) == 0 && len(bars1s) > 0 {
		bars1m = ResampleBars(bars1s, domain.BarInterval1m)
		if err := r.barStore.InsertBulk(ctx, bars1m); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}
	}
	if len(bars1m) == 0 {
		return nil
	}

	// 3. Compute causal features
	raw := ComputeFeatures(bars1m, bars1s, r.windows)

	// 4. Robust z normalization
	rows := r.robustZ.Transform(raw)

	// 5. Store. Recomputation over the same bars yields identical rows,
	// so an already-populated store is not an error.
	if len(rows) > 0 {
		if err := r.featureStore.InsertBulk(ctx, rows); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}
	}

	return nil
}

// NormalizeBatch processes multiple symbols.
func (r *Runner) NormalizeBatch(ctx context.Context, symbols []string) error {
	for _, symbol := range symbols {
		if err := r.NormalizeSymbol(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}
