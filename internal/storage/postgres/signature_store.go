package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// SignatureStore implements storage.SignatureStore using PostgreSQL.
// The nullable statistic columns map directly to the *float64 fields:
// an inconclusive test stores NULL, never a substituted zero.
type SignatureStore struct {
	pool *Pool
}

// NewSignatureStore creates a new SignatureStore.
func NewSignatureStore(pool *Pool) *SignatureStore {
	return &SignatureStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignatureStore = (*SignatureStore)(nil)

// InsertBulk adds multiple results atomically. Fails entire batch on
// duplicate (run_id, feature, lag_min).
func (s *SignatureStore) InsertBulk(ctx context.Context, results []*domain.SignatureResult) error {
	if len(results) == 0 {
		return nil
	}

	for _, r := range results {
		if r == nil || r.RunID == "" || r.Feature == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO signature_results (
			run_id, feature, lag_min, sample_size,
			statistic, t_stat_nw, p_value, q_value_global, q_value_subset,
			preregistered, inconclusive, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	for _, r := range results {
		_, err := tx.Exec(ctx, query,
			r.RunID,
			string(r.Feature),
			r.LagMin,
			r.SampleSize,
			r.Statistic,
			r.TStatNW,
			r.PValue,
			r.QValueGlobal,
			r.QValueSubset,
			r.Preregistered,
			r.Inconclusive,
			r.Reason,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert signature result in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByRunID retrieves all results for a run, ordered by (feature, lag_min).
func (s *SignatureStore) GetByRunID(ctx context.Context, runID string) ([]*domain.SignatureResult, error) {
	query := `
		SELECT run_id, feature, lag_min, sample_size,
		       statistic, t_stat_nw, p_value, q_value_global, q_value_subset,
		       preregistered, inconclusive, reason
		FROM signature_results
		WHERE run_id = $1
		ORDER BY feature ASC, lag_min ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get signature results by run id: %w", err)
	}
	defer rows.Close()

	return scanSignatureResults(rows)
}

// scanSignatureResults scans multiple rows into a slice of SignatureResult.
func scanSignatureResults(rows pgx.Rows) ([]*domain.SignatureResult, error) {
	var results []*domain.SignatureResult

	for rows.Next() {
		var r domain.SignatureResult
		var feature string

		err := rows.Scan(
			&r.RunID,
			&feature,
			&r.LagMin,
			&r.SampleSize,
			&r.Statistic,
			&r.TStatNW,
			&r.PValue,
			&r.QValueGlobal,
			&r.QValueSubset,
			&r.Preregistered,
			&r.Inconclusive,
			&r.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signature result row: %w", err)
		}

		r.Feature = domain.FeatureName(feature)
		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signature result rows: %w", err)
	}

	return results, nil
}
