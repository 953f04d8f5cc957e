package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

func TestBarStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()

	// Empty insert is a no-op
	err := store.InsertBulk(ctx, nil)
	assert.NoError(t, err)

	bars := []*domain.Bar{
		{
			Symbol: "SOLUSDT", IntervalSec: 60, TimestampMs: 60000,
			Open: 100.0, High: 102.0, Low: 99.5, Close: 101.0,
			Volume: 12.5, TradeCount: 42, BuyVolume: 7.5, BuyerMakerCount: 18,
		},
	}

	err = store.InsertBulk(ctx, bars)
	require.NoError(t, err)

	got, err := store.GetBySymbol(ctx, "SOLUSDT", 60)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SOLUSDT", got[0].Symbol)
	assert.Equal(t, 60, got[0].IntervalSec)
	assert.Equal(t, int64(60000), got[0].TimestampMs)
	assert.Equal(t, 100.0, got[0].Open)
	assert.Equal(t, 102.0, got[0].High)
	assert.Equal(t, 99.5, got[0].Low)
	assert.Equal(t, 101.0, got[0].Close)
	assert.Equal(t, 12.5, got[0].Volume)
	assert.Equal(t, 42, got[0].TradeCount)
	assert.Equal(t, 7.5, got[0].BuyVolume)
	assert.Equal(t, 18, got[0].BuyerMakerCount)
}

func TestBarStore_InsertBulk_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()

	bars := []*domain.Bar{
		{Symbol: "SOLUSDT", IntervalSec: 1, TimestampMs: 1000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, TradeCount: 1},
	}

	err := store.InsertBulk(ctx, bars)
	require.NoError(t, err)

	// Try to insert duplicate
	err = store.InsertBulk(ctx, bars)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestBarStore_InsertBulk_IntraBatchDuplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()

	// Same key twice in one batch
	bars := []*domain.Bar{
		{Symbol: "SOLUSDT", IntervalSec: 1, TimestampMs: 1000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, TradeCount: 1},
		{Symbol: "SOLUSDT", IntervalSec: 1, TimestampMs: 1000, Open: 2, High: 2, Low: 2, Close: 2, Volume: 2, TradeCount: 2},
	}

	err := store.InsertBulk(ctx, bars)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestBarStore_IntervalIsolation(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()

	// Same timestamp at two intervals is two distinct bars
	bars := []*domain.Bar{
		{Symbol: "SOLUSDT", IntervalSec: 1, TimestampMs: 60000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, TradeCount: 1},
		{Symbol: "SOLUSDT", IntervalSec: 60, TimestampMs: 60000, Open: 2, High: 2, Low: 2, Close: 2, Volume: 2, TradeCount: 2},
	}

	err := store.InsertBulk(ctx, bars)
	require.NoError(t, err)

	got1s, err := store.GetBySymbol(ctx, "SOLUSDT", 1)
	require.NoError(t, err)
	require.Len(t, got1s, 1)
	assert.Equal(t, 1.0, got1s[0].Open)

	got1m, err := store.GetBySymbol(ctx, "SOLUSDT", 60)
	require.NoError(t, err)
	require.Len(t, got1m, 1)
	assert.Equal(t, 2.0, got1m[0].Open)
}

func TestBarStore_GetBySymbolOrdering(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()

	// Insert out of order
	bars := []*domain.Bar{
		{Symbol: "SOLUSDT", IntervalSec: 60, TimestampMs: 180000, Open: 3, High: 3, Low: 3, Close: 3, Volume: 1, TradeCount: 1},
		{Symbol: "SOLUSDT", IntervalSec: 60, TimestampMs: 60000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, TradeCount: 1},
		{Symbol: "SOLUSDT", IntervalSec: 60, TimestampMs: 120000, Open: 2, High: 2, Low: 2, Close: 2, Volume: 1, TradeCount: 1},
	}

	err := store.InsertBulk(ctx, bars)
	require.NoError(t, err)

	got, err := store.GetBySymbol(ctx, "SOLUSDT", 60)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(60000), got[0].TimestampMs)
	assert.Equal(t, int64(120000), got[1].TimestampMs)
	assert.Equal(t, int64(180000), got[2].TimestampMs)
}

func TestBarStore_GetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()

	bars := []*domain.Bar{
		{Symbol: "SOLUSDT", IntervalSec: 60, TimestampMs: 60000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, TradeCount: 1},
		{Symbol: "SOLUSDT", IntervalSec: 60, TimestampMs: 120000, Open: 2, High: 2, Low: 2, Close: 2, Volume: 1, TradeCount: 1},
		{Symbol: "SOLUSDT", IntervalSec: 60, TimestampMs: 180000, Open: 3, High: 3, Low: 3, Close: 3, Volume: 1, TradeCount: 1},
		{Symbol: "SOLUSDT", IntervalSec: 60, TimestampMs: 240000, Open: 4, High: 4, Low: 4, Close: 4, Volume: 1, TradeCount: 1},
	}

	err := store.InsertBulk(ctx, bars)
	require.NoError(t, err)

	// [120000, 180000] inclusive
	got, err := store.GetByTimeRange(ctx, "SOLUSDT", 60, 120000, 180000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(120000), got[0].TimestampMs)
	assert.Equal(t, int64(180000), got[1].TimestampMs)

	// Empty range
	got, err = store.GetByTimeRange(ctx, "SOLUSDT", 60, 300000, 400000)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBarStore_InvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.Bar{
		{Symbol: "", IntervalSec: 60, TimestampMs: 1000},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.InsertBulk(ctx, []*domain.Bar{
		{Symbol: "SOLUSDT", IntervalSec: 0, TimestampMs: 1000},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
