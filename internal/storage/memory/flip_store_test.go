package memory

import (
	"context"
	"errors"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

func TestFlipStore_InsertAndGet(t *testing.T) {
	store := NewFlipStore()
	ctx := context.Background()

	flip := &domain.FlipEvent{
		Symbol:      "BTCUSDT",
		TimestampMs: 14_400_000,
		FromState:   domain.RegimeRange,
		ToState:     domain.RegimeBull,
	}

	if err := store.Insert(ctx, flip); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	result, err := store.GetBySymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetBySymbol failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("Expected 1 flip, got %d", len(result))
	}
	if result[0].Direction() != "range->bull" {
		t.Errorf("Expected direction range->bull, got %s", result[0].Direction())
	}
}

func TestFlipStore_DuplicateKey(t *testing.T) {
	store := NewFlipStore()
	ctx := context.Background()

	flip := &domain.FlipEvent{Symbol: "BTCUSDT", TimestampMs: 14_400_000, FromState: domain.RegimeBull, ToState: domain.RegimeBear}

	if err := store.Insert(ctx, flip); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, flip)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestFlipStore_InsertBulkOrdering(t *testing.T) {
	store := NewFlipStore()
	ctx := context.Background()

	flips := []*domain.FlipEvent{
		{Symbol: "BTCUSDT", TimestampMs: 28_800_000, FromState: domain.RegimeBull, ToState: domain.RegimeRange},
		{Symbol: "BTCUSDT", TimestampMs: 14_400_000, FromState: domain.RegimeRange, ToState: domain.RegimeBull},
	}

	if err := store.InsertBulk(ctx, flips); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, _ := store.GetBySymbol(ctx, "BTCUSDT")
	if len(result) != 2 {
		t.Fatalf("Expected 2 flips, got %d", len(result))
	}
	if result[0].TimestampMs != 14_400_000 {
		t.Errorf("Expected ascending timestamp order, first = %d", result[0].TimestampMs)
	}
}

func TestFlipStore_GetByTimeRange(t *testing.T) {
	store := NewFlipStore()
	ctx := context.Background()

	flips := []*domain.FlipEvent{
		{Symbol: "BTCUSDT", TimestampMs: 14_400_000, FromState: domain.RegimeRange, ToState: domain.RegimeBull},
		{Symbol: "BTCUSDT", TimestampMs: 28_800_000, FromState: domain.RegimeBull, ToState: domain.RegimeBear},
		{Symbol: "BTCUSDT", TimestampMs: 43_200_000, FromState: domain.RegimeBear, ToState: domain.RegimeRange},
	}
	if err := store.InsertBulk(ctx, flips); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetByTimeRange(ctx, "BTCUSDT", 14_400_000, 28_800_000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("Expected 2 flips in inclusive range, got %d", len(result))
	}
}
