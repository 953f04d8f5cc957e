package ingestion

import (
	"context"
	"errors"
	"fmt"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/normalization"
	"regime-precursor-lab/internal/storage"
)

// ErrInvalidTick is returned when a fetched tick fails validation.
var ErrInvalidTick = errors.New("invalid tick")

// Manager orchestrates ingestion from sources to storage.
// It enforces deterministic ordering, aggregates ticks into 1s and 1m
// bars and uses the storage layer for duplicate rejection.
type Manager struct {
	source   TickSource
	barStore storage.BarStore
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	Source   TickSource
	BarStore storage.BarStore
}

// NewManager creates a new ingestion manager with the provided source and store.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		source:   opts.Source,
		barStore: opts.BarStore,
	}
}

// IngestResult contains counts from one ingestion pass.
type IngestResult struct {
	Ticks  int
	Bars1s int
	Bars1m int
}

// IngestTicks fetches ticks for a symbol within [from, to], validates
// them, aggregates 1s bars and resamples 1m bars, then stores both.
// Returns counts of ingested ticks and bars.
// Duplicates are rejected by the storage layer (ErrDuplicateKey).
func (m *Manager) IngestTicks(ctx context.Context, symbol string, from, to int64) (*IngestResult, error) {
	result := &IngestResult{}

	if m.source == nil || m.barStore == nil {
		return result, nil
	}

	ticks, err := m.source.Fetch(ctx, symbol, from, to)
	if err != nil {
		return result, err
	}

	if len(ticks) == 0 {
		return result, nil
	}

	for _, t := range ticks {
		if t.Price <= 0 {
			return result, fmt.Errorf("%w: price %v at %d", ErrInvalidTick, t.Price, t.TimestampMs)
		}
		if t.Quantity <= 0 {
			return result, fmt.Errorf("%w: quantity %v at %d", ErrInvalidTick, t.Quantity, t.TimestampMs)
		}
	}

	// Enforce deterministic ordering
	normalization.SortTicks(ticks)
	result.Ticks = len(ticks)

	bars1s := normalization.AggregateTicks(ticks, domain.BarInterval1s)
	bars1m := normalization.ResampleBars(bars1s, domain.BarInterval1m)

	// Store via bulk insert - storage layer handles duplicates
	if len(bars1s) > 0 {
		if err := m.barStore.InsertBulk(ctx, bars1s); err != nil {
			return result, err
		}
		result.Bars1s = len(bars1s)
	}

	if len(bars1m) > 0 {
		if err := m.barStore.InsertBulk(ctx, bars1m); err != nil {
			return result, err
		}
		result.Bars1m = len(bars1m)
	}

	return result, nil
}
