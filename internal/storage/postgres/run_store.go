package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.Run) error {
	if r == nil || r.RunID == "" || r.Symbol == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO runs (
			run_id, symbol, data_version, config_hash, prereg_hash, seed, created_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		r.RunID,
		r.Symbol,
		r.DataVersion,
		r.ConfigHash,
		r.PreregHash,
		r.Seed,
		r.CreatedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	query := `
		SELECT run_id, symbol, data_version, config_hash, prereg_hash, seed, created_at_ms
		FROM runs
		WHERE run_id = $1
	`

	var r domain.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&r.RunID,
		&r.Symbol,
		&r.DataVersion,
		&r.ConfigHash,
		&r.PreregHash,
		&r.Seed,
		&r.CreatedAtMs,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return &r, nil
}

// GetBySymbol retrieves all runs for a symbol, ordered by created_at ASC.
func (s *RunStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.Run, error) {
	query := `
		SELECT run_id, symbol, data_version, config_hash, prereg_hash, seed, created_at_ms
		FROM runs
		WHERE symbol = $1
		ORDER BY created_at_ms ASC, run_id ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("get runs by symbol: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// scanRuns scans multiple rows into a slice of Run.
func scanRuns(rows pgx.Rows) ([]*domain.Run, error) {
	var runs []*domain.Run

	for rows.Next() {
		var r domain.Run

		err := rows.Scan(
			&r.RunID,
			&r.Symbol,
			&r.DataVersion,
			&r.ConfigHash,
			&r.PreregHash,
			&r.Seed,
			&r.CreatedAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}

		runs = append(runs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}

	return runs, nil
}
