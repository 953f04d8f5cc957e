package memory

import (
	"context"
	"errors"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

func validOperatingPoint(runID string) *domain.OperatingPoint {
	return &domain.OperatingPoint{
		RunID: runID,
		Params: domain.AlertParams{
			EMAWindow:        3,
			Threshold:        0.558,
			ConsecutiveK:     2,
			MinSeparationMin: 60,
		},
		Alerts:        14,
		TruePositives: 9,
		Coverage:      0.75,
		FAPerDay:      1.2,
	}
}

func TestAlertParamStore_InsertAndGet(t *testing.T) {
	store := NewAlertParamStore()
	ctx := context.Background()

	if err := store.Insert(ctx, validOperatingPoint("run-1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByRunID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if got.Params.Threshold != 0.558 || got.Params.ConsecutiveK != 2 {
		t.Errorf("Unexpected params: %+v", got.Params)
	}
	if got.Coverage != 0.75 {
		t.Errorf("Coverage = %v, want 0.75", got.Coverage)
	}
}

func TestAlertParamStore_DuplicateKey(t *testing.T) {
	store := NewAlertParamStore()
	ctx := context.Background()

	if err := store.Insert(ctx, validOperatingPoint("run-1")); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, validOperatingPoint("run-1"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestAlertParamStore_NotFound(t *testing.T) {
	store := NewAlertParamStore()
	ctx := context.Background()

	_, err := store.GetByRunID(ctx, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAlertParamStore_RejectsInvalidParams(t *testing.T) {
	store := NewAlertParamStore()
	ctx := context.Background()

	op := validOperatingPoint("run-1")
	op.Params.Threshold = 1.5

	err := store.Insert(ctx, op)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for out-of-range threshold, got %v", err)
	}
}
