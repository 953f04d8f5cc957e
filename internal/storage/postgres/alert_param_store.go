package postgres

import (
	"context"
	"fmt"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// AlertParamStore implements storage.AlertParamStore using PostgreSQL.
type AlertParamStore struct {
	pool *Pool
}

// NewAlertParamStore creates a new AlertParamStore.
func NewAlertParamStore(pool *Pool) *AlertParamStore {
	return &AlertParamStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AlertParamStore = (*AlertParamStore)(nil)

// Insert adds a new operating point. Returns ErrDuplicateKey if run_id exists.
func (s *AlertParamStore) Insert(ctx context.Context, op *domain.OperatingPoint) error {
	if op == nil || op.RunID == "" {
		return storage.ErrInvalidInput
	}
	if err := op.Params.Validate(); err != nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO alert_params (
			run_id, ema_window, threshold, consecutive_k, min_separation_min,
			alerts, true_positives, coverage, fa_per_day
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		op.RunID,
		op.Params.EMAWindow,
		op.Params.Threshold,
		op.Params.ConsecutiveK,
		op.Params.MinSeparationMin,
		op.Alerts,
		op.TruePositives,
		op.Coverage,
		op.FAPerDay,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert alert params: %w", err)
	}
	return nil
}

// GetByRunID retrieves the operating point for a run. Returns ErrNotFound if not exists.
func (s *AlertParamStore) GetByRunID(ctx context.Context, runID string) (*domain.OperatingPoint, error) {
	query := `
		SELECT run_id, ema_window, threshold, consecutive_k, min_separation_min,
		       alerts, true_positives, coverage, fa_per_day
		FROM alert_params
		WHERE run_id = $1
	`

	var op domain.OperatingPoint
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&op.RunID,
		&op.Params.EMAWindow,
		&op.Params.Threshold,
		&op.Params.ConsecutiveK,
		&op.Params.MinSeparationMin,
		&op.Alerts,
		&op.TruePositives,
		&op.Coverage,
		&op.FAPerDay,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get alert params by run id: %w", err)
	}
	return &op, nil
}
