package storage

import (
	"context"

	"regime-precursor-lab/internal/domain"
)

// BarStore provides access to OHLCV bars storage.
type BarStore interface {
	// InsertBulk adds multiple bars. Fails entire batch on duplicate
	// (symbol, interval_sec, timestamp_ms).
	InsertBulk(ctx context.Context, bars []*domain.Bar) error

	// GetBySymbol retrieves all bars for a symbol at one interval, ordered by timestamp ASC.
	GetBySymbol(ctx context.Context, symbol string, intervalSec int) ([]*domain.Bar, error)

	// GetByTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, symbol string, intervalSec int, start, end int64) ([]*domain.Bar, error)
}

// FeatureStore provides access to feature row storage.
type FeatureStore interface {
	// InsertBulk adds multiple rows. Fails entire batch on duplicate (symbol, timestamp_ms).
	InsertBulk(ctx context.Context, rows []*domain.FeatureRow) error

	// GetBySymbol retrieves all rows for a symbol, ordered by timestamp ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.FeatureRow, error)

	// GetByTimeRange retrieves rows within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.FeatureRow, error)
}

// FlipStore provides access to regime flip event storage.
type FlipStore interface {
	// Insert adds a new flip. Returns ErrDuplicateKey if (symbol, timestamp_ms) exists.
	Insert(ctx context.Context, f *domain.FlipEvent) error

	// InsertBulk adds multiple flips atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, flips []*domain.FlipEvent) error

	// GetBySymbol retrieves all flips for a symbol, ordered by timestamp ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.FlipEvent, error)

	// GetByTimeRange retrieves flips within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.FlipEvent, error)
}

// SignatureStore provides access to signature result storage.
type SignatureStore interface {
	// InsertBulk adds multiple results. Fails entire batch on duplicate
	// (run_id, feature, lag_min).
	InsertBulk(ctx context.Context, results []*domain.SignatureResult) error

	// GetByRunID retrieves all results for a run, ordered by (feature, lag_min).
	GetByRunID(ctx context.Context, runID string) ([]*domain.SignatureResult, error)
}

// ProbabilityStore provides access to out-of-fold probability storage.
type ProbabilityStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate
	// (run_id, symbol, timestamp_ms).
	InsertBulk(ctx context.Context, points []*domain.ProbabilityPoint) error

	// GetByRunID retrieves all points for a run and symbol, ordered by timestamp ASC.
	GetByRunID(ctx context.Context, runID, symbol string) ([]*domain.ProbabilityPoint, error)
}

// AlertParamStore provides access to selected operating point storage.
type AlertParamStore interface {
	// Insert adds a new operating point. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, op *domain.OperatingPoint) error

	// GetByRunID retrieves the operating point for a run. Returns ErrNotFound if not exists.
	GetByRunID(ctx context.Context, runID string) (*domain.OperatingPoint, error)
}

// RunStore provides access to run record storage.
type RunStore interface {
	// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.Run) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.Run, error)

	// GetBySymbol retrieves all runs for a symbol, ordered by created_at ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.Run, error)
}
