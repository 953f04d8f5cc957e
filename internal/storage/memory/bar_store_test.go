package memory

import (
	"context"
	"errors"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

func TestBarStore_InsertBulkAndGet(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	bars := []*domain.Bar{
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 60_000, Open: 100, High: 110, Low: 95, Close: 105, Volume: 12.5, TradeCount: 40},
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 120_000, Open: 105, High: 108, Low: 101, Close: 102, Volume: 8.0, TradeCount: 22},
	}

	if err := store.InsertBulk(ctx, bars); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetBySymbol(ctx, "BTCUSDT", domain.BarInterval1m)
	if err != nil {
		t.Fatalf("GetBySymbol failed: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("Expected 2 bars, got %d", len(result))
	}
}

func TestBarStore_SameTimestampDifferentInterval(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	// Same symbol and timestamp at different intervals - should be allowed
	bars := []*domain.Bar{
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1s, TimestampMs: 60_000, Close: 100},
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 60_000, Close: 100},
	}

	if err := store.InsertBulk(ctx, bars); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	oneSec, _ := store.GetBySymbol(ctx, "BTCUSDT", domain.BarInterval1s)
	oneMin, _ := store.GetBySymbol(ctx, "BTCUSDT", domain.BarInterval1m)
	if len(oneSec) != 1 || len(oneMin) != 1 {
		t.Errorf("Expected 1 bar per interval, got %d and %d", len(oneSec), len(oneMin))
	}
}

func TestBarStore_DuplicateKey(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	bars := []*domain.Bar{
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 60_000, Close: 100},
	}

	if err := store.InsertBulk(ctx, bars); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.InsertBulk(ctx, bars)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestBarStore_IntraBatchDuplicate(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	bars := []*domain.Bar{
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 60_000, Close: 100},
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 60_000, Close: 101}, // duplicate key
	}

	err := store.InsertBulk(ctx, bars)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	result, _ := store.GetBySymbol(ctx, "BTCUSDT", domain.BarInterval1m)
	if len(result) != 0 {
		t.Errorf("Expected 0 bars (rollback), got %d", len(result))
	}
}

func TestBarStore_GetByTimeRange(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	bars := []*domain.Bar{
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 60_000, Close: 100},
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 120_000, Close: 101},
		{Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 180_000, Close: 102},
		{Symbol: "ETHUSDT", IntervalSec: domain.BarInterval1m, TimestampMs: 120_000, Close: 50}, // different symbol
	}

	if err := store.InsertBulk(ctx, bars); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetByTimeRange(ctx, "BTCUSDT", domain.BarInterval1m, 90_000, 180_000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("Expected 2 bars in range, got %d", len(result))
	}
	if result[0].TimestampMs != 120_000 || result[1].TimestampMs != 180_000 {
		t.Errorf("Unexpected order: %d, %d", result[0].TimestampMs, result[1].TimestampMs)
	}
}

func TestBarStore_InvalidInput(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.Bar{nil})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil bar, got %v", err)
	}

	err = store.InsertBulk(ctx, []*domain.Bar{{Symbol: "", IntervalSec: 60}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty symbol, got %v", err)
	}

	err = store.InsertBulk(ctx, []*domain.Bar{{Symbol: "BTCUSDT", IntervalSec: 0}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for zero interval, got %v", err)
	}
}
