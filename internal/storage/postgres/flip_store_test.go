package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

func TestFlipStore_InsertAndGetBySymbol(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFlipStore(pool)

	flip := &domain.FlipEvent{
		Symbol:      "SOLUSDT",
		TimestampMs: 1700000000000,
		FromState:   domain.RegimeRange,
		ToState:     domain.RegimeBull,
	}

	err := store.Insert(ctx, flip)
	require.NoError(t, err)

	flips, err := store.GetBySymbol(ctx, "SOLUSDT")
	require.NoError(t, err)

	assert.Len(t, flips, 1)
	assert.Equal(t, flip.Symbol, flips[0].Symbol)
	assert.Equal(t, flip.TimestampMs, flips[0].TimestampMs)
	assert.Equal(t, domain.RegimeRange, flips[0].FromState)
	assert.Equal(t, domain.RegimeBull, flips[0].ToState)
}

func TestFlipStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFlipStore(pool)

	flip := &domain.FlipEvent{
		Symbol:      "SOLUSDT",
		TimestampMs: 1700000000000,
		FromState:   domain.RegimeBull,
		ToState:     domain.RegimeBear,
	}

	err := store.Insert(ctx, flip)
	require.NoError(t, err)

	// Second insert with same (symbol, timestamp_ms) should fail
	err = store.Insert(ctx, flip)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestFlipStore_InsertBulkAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFlipStore(pool)

	first := []*domain.FlipEvent{
		{Symbol: "SOLUSDT", TimestampMs: 1000, FromState: domain.RegimeRange, ToState: domain.RegimeBull},
	}
	err := store.InsertBulk(ctx, first)
	require.NoError(t, err)

	// Second batch has a duplicate - should fail entirely
	second := []*domain.FlipEvent{
		{Symbol: "SOLUSDT", TimestampMs: 2000, FromState: domain.RegimeBull, ToState: domain.RegimeBear},
		{Symbol: "SOLUSDT", TimestampMs: 1000, FromState: domain.RegimeRange, ToState: domain.RegimeBull},
	}
	err = store.InsertBulk(ctx, second)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Atomic rollback: the non-duplicate flip from the second batch must not persist
	flips, err := store.GetBySymbol(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Len(t, flips, 1)
}

func TestFlipStore_Ordering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFlipStore(pool)

	// Insert out of order
	flips := []*domain.FlipEvent{
		{Symbol: "SOLUSDT", TimestampMs: 3000, FromState: domain.RegimeBear, ToState: domain.RegimeRange},
		{Symbol: "SOLUSDT", TimestampMs: 1000, FromState: domain.RegimeRange, ToState: domain.RegimeBull},
		{Symbol: "SOLUSDT", TimestampMs: 2000, FromState: domain.RegimeBull, ToState: domain.RegimeBear},
	}
	err := store.InsertBulk(ctx, flips)
	require.NoError(t, err)

	result, err := store.GetBySymbol(ctx, "SOLUSDT")
	require.NoError(t, err)

	require.Len(t, result, 3)
	assert.Equal(t, int64(1000), result[0].TimestampMs)
	assert.Equal(t, int64(2000), result[1].TimestampMs)
	assert.Equal(t, int64(3000), result[2].TimestampMs)
}

func TestFlipStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFlipStore(pool)

	flips := []*domain.FlipEvent{
		{Symbol: "SOLUSDT", TimestampMs: 1000, FromState: domain.RegimeRange, ToState: domain.RegimeBull},
		{Symbol: "SOLUSDT", TimestampMs: 2000, FromState: domain.RegimeBull, ToState: domain.RegimeBear},
		{Symbol: "SOLUSDT", TimestampMs: 3000, FromState: domain.RegimeBear, ToState: domain.RegimeRange},
		{Symbol: "SOLUSDT", TimestampMs: 4000, FromState: domain.RegimeRange, ToState: domain.RegimeBear},
	}
	err := store.InsertBulk(ctx, flips)
	require.NoError(t, err)

	// [2000, 3000] inclusive on both ends
	result, err := store.GetByTimeRange(ctx, "SOLUSDT", 2000, 3000)
	require.NoError(t, err)

	require.Len(t, result, 2)
	assert.Equal(t, int64(2000), result[0].TimestampMs)
	assert.Equal(t, int64(3000), result[1].TimestampMs)
}

func TestFlipStore_SymbolIsolation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFlipStore(pool)

	err := store.InsertBulk(ctx, []*domain.FlipEvent{
		{Symbol: "SOLUSDT", TimestampMs: 1000, FromState: domain.RegimeRange, ToState: domain.RegimeBull},
		{Symbol: "ETHUSDT", TimestampMs: 1000, FromState: domain.RegimeRange, ToState: domain.RegimeBear},
	})
	require.NoError(t, err)

	result, err := store.GetBySymbol(ctx, "SOLUSDT")
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, domain.RegimeBull, result[0].ToState)
}

func TestFlipStore_EmptyResult(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFlipStore(pool)

	result, err := store.GetBySymbol(ctx, "NOSUCH")
	require.NoError(t, err)
	assert.Empty(t, result)
}
