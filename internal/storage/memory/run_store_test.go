package memory

import (
	"context"
	"errors"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

func TestRunStore_InsertAndGet(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	run := &domain.Run{
		RunID:       "2f9c4a",
		Symbol:      "BTCUSDT",
		DataVersion: "abc123",
		ConfigHash:  "def456",
		Seed:        123,
		CreatedAtMs: 1_700_000_000_000,
	}

	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "2f9c4a")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.DataVersion != "abc123" || got.Seed != 123 {
		t.Errorf("Unexpected run: %+v", got)
	}
}

func TestRunStore_NotFound(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	_, err := store.GetByID(ctx, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRunStore_DuplicateKey(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	run := &domain.Run{RunID: "2f9c4a", Symbol: "BTCUSDT"}
	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, run)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestRunStore_GetBySymbolOrdering(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	runs := []*domain.Run{
		{RunID: "b", Symbol: "BTCUSDT", CreatedAtMs: 2000},
		{RunID: "a", Symbol: "BTCUSDT", CreatedAtMs: 1000},
		{RunID: "c", Symbol: "ETHUSDT", CreatedAtMs: 1500},
	}
	for _, r := range runs {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetBySymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetBySymbol failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(got))
	}
	if got[0].RunID != "a" || got[1].RunID != "b" {
		t.Errorf("Expected created_at ascending, got %s then %s", got[0].RunID, got[1].RunID)
	}
}
