package memory

import (
	"context"
	"errors"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

func floatPtr(v float64) *float64 { return &v }

func TestSignatureStore_InsertBulkAndGet(t *testing.T) {
	store := NewSignatureStore()
	ctx := context.Background()

	results := []*domain.SignatureResult{
		{RunID: "run-1", Feature: domain.FeatureRV1m, LagMin: -60, SampleSize: 32, Statistic: floatPtr(0.4), PValue: floatPtr(0.01)},
		{RunID: "run-1", Feature: domain.FeatureRet1m, LagMin: -30, SampleSize: 32, Statistic: floatPtr(-0.1), PValue: floatPtr(0.2)},
	}

	if err := store.InsertBulk(ctx, results); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByRunID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(got))
	}

	// Ordered by (feature, lag): ret_1m sorts before rv_1m.
	if got[0].Feature != domain.FeatureRet1m {
		t.Errorf("Expected ret_1m first, got %s", got[0].Feature)
	}
}

func TestSignatureStore_DuplicateKey(t *testing.T) {
	store := NewSignatureStore()
	ctx := context.Background()

	results := []*domain.SignatureResult{
		{RunID: "run-1", Feature: domain.FeatureRV1m, LagMin: -60, SampleSize: 32},
	}

	if err := store.InsertBulk(ctx, results); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.InsertBulk(ctx, results)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestSignatureStore_SameHypothesisDifferentRun(t *testing.T) {
	store := NewSignatureStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.SignatureResult{
		{RunID: "run-1", Feature: domain.FeatureRV1m, LagMin: -60, SampleSize: 32},
	}); err != nil {
		t.Fatalf("Insert run-1 failed: %v", err)
	}
	if err := store.InsertBulk(ctx, []*domain.SignatureResult{
		{RunID: "run-2", Feature: domain.FeatureRV1m, LagMin: -60, SampleSize: 40},
	}); err != nil {
		t.Fatalf("Insert run-2 failed: %v", err)
	}

	got, _ := store.GetByRunID(ctx, "run-2")
	if len(got) != 1 || got[0].SampleSize != 40 {
		t.Errorf("Expected run-2 result with sample size 40, got %+v", got)
	}
}

func TestSignatureStore_NullableFieldsNotShared(t *testing.T) {
	store := NewSignatureStore()
	ctx := context.Background()

	original := &domain.SignatureResult{
		RunID: "run-1", Feature: domain.FeatureRV1m, LagMin: -60,
		SampleSize: 32, PValue: floatPtr(0.01),
	}
	if err := store.InsertBulk(ctx, []*domain.SignatureResult{original}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	*original.PValue = 0.99

	got, _ := store.GetByRunID(ctx, "run-1")
	if *got[0].PValue != 0.01 {
		t.Errorf("Stored p-value mutated through shared pointer: got %v, want 0.01", *got[0].PValue)
	}
}

func TestSignatureStore_InconclusivePreservesNils(t *testing.T) {
	store := NewSignatureStore()
	ctx := context.Background()

	inconclusive := &domain.SignatureResult{
		RunID: "run-1", Feature: domain.FeatureRV1m, LagMin: -60,
		SampleSize: 3, Inconclusive: true, Reason: domain.ReasonTooFewSamples,
	}
	if err := store.InsertBulk(ctx, []*domain.SignatureResult{inconclusive}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, _ := store.GetByRunID(ctx, "run-1")
	if !got[0].Inconclusive || got[0].Reason != domain.ReasonTooFewSamples {
		t.Errorf("Inconclusive marker lost: %+v", got[0])
	}
	if got[0].PValue != nil || got[0].QValueSubset != nil {
		t.Error("Inconclusive result should keep nil statistics, not fabricate values")
	}
}
