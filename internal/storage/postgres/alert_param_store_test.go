package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

func validOperatingPoint(runID string) *domain.OperatingPoint {
	return &domain.OperatingPoint{
		RunID: runID,
		Params: domain.AlertParams{
			EMAWindow:        3,
			Threshold:        0.554,
			ConsecutiveK:     2,
			MinSeparationMin: 60,
		},
		Alerts:        17,
		TruePositives: 9,
		Coverage:      0.75,
		FAPerDay:      1.2,
	}
}

func TestAlertParamStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	runID := createTestRun(t, ctx, pool, "alert-run-1")

	store := NewAlertParamStore(pool)

	op := validOperatingPoint(runID)
	err := store.Insert(ctx, op)
	require.NoError(t, err)

	got, err := store.GetByRunID(ctx, runID)
	require.NoError(t, err)

	assert.Equal(t, runID, got.RunID)
	assert.Equal(t, 3, got.Params.EMAWindow)
	assert.InDelta(t, 0.554, got.Params.Threshold, 1e-12)
	assert.Equal(t, 2, got.Params.ConsecutiveK)
	assert.Equal(t, 60, got.Params.MinSeparationMin)
	assert.Equal(t, 17, got.Alerts)
	assert.Equal(t, 9, got.TruePositives)
	assert.InDelta(t, 0.75, got.Coverage, 1e-12)
	assert.InDelta(t, 1.2, got.FAPerDay, 1e-12)
}

func TestAlertParamStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	runID := createTestRun(t, ctx, pool, "alert-run-dup")

	store := NewAlertParamStore(pool)

	err := store.Insert(ctx, validOperatingPoint(runID))
	require.NoError(t, err)

	// One operating point per run
	err = store.Insert(ctx, validOperatingPoint(runID))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestAlertParamStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAlertParamStore(pool)

	_, err := store.GetByRunID(ctx, "nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAlertParamStore_RejectsInvalidParams(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	runID := createTestRun(t, ctx, pool, "alert-run-invalid")

	store := NewAlertParamStore(pool)

	op := validOperatingPoint(runID)
	op.Params.Threshold = 1.5

	err := store.Insert(ctx, op)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
