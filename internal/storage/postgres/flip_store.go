package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// FlipStore implements storage.FlipStore using PostgreSQL.
type FlipStore struct {
	pool *Pool
}

// NewFlipStore creates a new FlipStore.
func NewFlipStore(pool *Pool) *FlipStore {
	return &FlipStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FlipStore = (*FlipStore)(nil)

// Insert adds a new flip. Returns ErrDuplicateKey if (symbol, timestamp_ms) exists.
func (s *FlipStore) Insert(ctx context.Context, f *domain.FlipEvent) error {
	if f == nil || f.Symbol == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO flip_events (
			symbol, timestamp_ms, from_state, to_state
		) VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query,
		f.Symbol,
		f.TimestampMs,
		string(f.FromState),
		string(f.ToState),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert flip: %w", err)
	}
	return nil
}

// InsertBulk adds multiple flips atomically. Fails entire batch on any duplicate.
func (s *FlipStore) InsertBulk(ctx context.Context, flips []*domain.FlipEvent) error {
	if len(flips) == 0 {
		return nil
	}

	for _, f := range flips {
		if f == nil || f.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO flip_events (
			symbol, timestamp_ms, from_state, to_state
		) VALUES ($1, $2, $3, $4)
	`

	for _, f := range flips {
		_, err := tx.Exec(ctx, query,
			f.Symbol,
			f.TimestampMs,
			string(f.FromState),
			string(f.ToState),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert flip in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetBySymbol retrieves all flips for a symbol, ordered by timestamp ASC.
func (s *FlipStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.FlipEvent, error) {
	query := `
		SELECT symbol, timestamp_ms, from_state, to_state
		FROM flip_events
		WHERE symbol = $1
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("get flips by symbol: %w", err)
	}
	defer rows.Close()

	return scanFlips(rows)
}

// GetByTimeRange retrieves flips within [start, end] (inclusive), ordered by timestamp ASC.
func (s *FlipStore) GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.FlipEvent, error) {
	query := `
		SELECT symbol, timestamp_ms, from_state, to_state
		FROM flip_events
		WHERE symbol = $1 AND timestamp_ms >= $2 AND timestamp_ms <= $3
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("get flips by time range: %w", err)
	}
	defer rows.Close()

	return scanFlips(rows)
}

// scanFlips scans multiple rows into a slice of FlipEvent.
func scanFlips(rows pgx.Rows) ([]*domain.FlipEvent, error) {
	var flips []*domain.FlipEvent

	for rows.Next() {
		var f domain.FlipEvent
		var fromState, toState string

		err := rows.Scan(
			&f.Symbol,
			&f.TimestampMs,
			&fromState,
			&toState,
		)
		if err != nil {
			return nil, fmt.Errorf("scan flip row: %w", err)
		}

		f.FromState = domain.RegimeState(fromState)
		f.ToState = domain.RegimeState(toState)
		flips = append(flips, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flip rows: %w", err)
	}

	return flips, nil
}
