package ingestion

import (
	"context"
	"errors"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/ingestion/stub"
	"regime-precursor-lab/internal/storage"
	"regime-precursor-lab/internal/storage/memory"
)

func boolPtr(v bool) *bool { return &v }

// orderValidatingBarStore wraps a BarStore and validates ordering in InsertBulk.
// Returns ErrInvalidOrdering if bars are not sorted by timestamp.
type orderValidatingBarStore struct {
	storage.BarStore
}

func (s *orderValidatingBarStore) InsertBulk(ctx context.Context, bars []*domain.Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].TimestampMs <= bars[i-1].TimestampMs {
			return ErrInvalidOrdering
		}
	}
	return s.BarStore.InsertBulk(ctx, bars)
}

func TestManagerIngestTicksAggregates(t *testing.T) {
	// Unordered ticks across two minutes
	ticks := []*domain.Tick{
		{Symbol: "SOLUSDT", TimestampMs: 61500, Price: 102, Quantity: 1, IsBuyerMaker: boolPtr(false)},
		{Symbol: "SOLUSDT", TimestampMs: 500, Price: 100, Quantity: 2, IsBuyerMaker: boolPtr(true)},
		{Symbol: "SOLUSDT", TimestampMs: 1500, Price: 101, Quantity: 1, IsBuyerMaker: boolPtr(false)},
		{Symbol: "SOLUSDT", TimestampMs: 200, Price: 99, Quantity: 1, IsBuyerMaker: boolPtr(false)},
	}

	source := stub.NewStubTickSource(ticks)
	store := memory.NewBarStore()

	mgr := NewManager(ManagerOptions{
		Source:   source,
		BarStore: store,
	})

	ctx := context.Background()
	result, err := mgr.IngestTicks(ctx, "SOLUSDT", 0, 100000)
	if err != nil {
		t.Fatalf("IngestTicks failed: %v", err)
	}

	if result.Ticks != 4 {
		t.Errorf("Expected 4 ticks ingested, got %d", result.Ticks)
	}
	// 1s buckets: 0 (ts 200, 500), 1000 (ts 1500), 61000 (ts 61500)
	if result.Bars1s != 3 {
		t.Errorf("Expected 3 1s bars, got %d", result.Bars1s)
	}
	// 1m buckets: 0 and 60000
	if result.Bars1m != 2 {
		t.Errorf("Expected 2 1m bars, got %d", result.Bars1m)
	}

	bars1s, err := store.GetBySymbol(ctx, "SOLUSDT", domain.BarInterval1s)
	if err != nil {
		t.Fatalf("GetBySymbol 1s failed: %v", err)
	}
	if len(bars1s) != 3 {
		t.Fatalf("Expected 3 stored 1s bars, got %d", len(bars1s))
	}

	// First second: ts 200 (price 99) then ts 500 (price 100)
	first := bars1s[0]
	if first.TimestampMs != 0 || first.Open != 99 || first.Close != 100 || first.High != 100 || first.Low != 99 {
		t.Errorf("Unexpected first 1s bar: %+v", first)
	}
	if first.Volume != 3 || first.TradeCount != 2 {
		t.Errorf("Unexpected first 1s bar volume/count: %+v", first)
	}

	bars1m, err := store.GetBySymbol(ctx, "SOLUSDT", domain.BarInterval1m)
	if err != nil {
		t.Fatalf("GetBySymbol 1m failed: %v", err)
	}
	if len(bars1m) != 2 {
		t.Fatalf("Expected 2 stored 1m bars, got %d", len(bars1m))
	}
	if bars1m[0].Open != 99 || bars1m[0].Close != 101 || bars1m[0].Volume != 4 {
		t.Errorf("Unexpected first 1m bar: %+v", bars1m[0])
	}
}

func TestManagerIngestTicksOrdering(t *testing.T) {
	// Unordered ticks: Manager must sort before aggregating, otherwise
	// the validating store receives out-of-order bars and fails
	ticks := []*domain.Tick{
		{Symbol: "SOLUSDT", TimestampMs: 3000, Price: 100, Quantity: 1},
		{Symbol: "SOLUSDT", TimestampMs: 1000, Price: 100, Quantity: 1},
		{Symbol: "SOLUSDT", TimestampMs: 2000, Price: 100, Quantity: 1},
	}

	source := stub.NewStubTickSource(ticks)
	store := &orderValidatingBarStore{BarStore: memory.NewBarStore()}

	mgr := NewManager(ManagerOptions{
		Source:   source,
		BarStore: store,
	})

	ctx := context.Background()
	result, err := mgr.IngestTicks(ctx, "SOLUSDT", 0, 10000)
	if err != nil {
		t.Fatalf("IngestTicks failed: %v (Manager must sort before aggregation)", err)
	}

	if result.Bars1s != 3 {
		t.Errorf("Expected 3 1s bars, got %d", result.Bars1s)
	}
}

func TestManagerIngestTicksDuplicateRejection(t *testing.T) {
	ticks := []*domain.Tick{
		{Symbol: "SOLUSDT", TimestampMs: 1000, Price: 100, Quantity: 1},
	}

	source := stub.NewStubTickSource(ticks)
	store := memory.NewBarStore()

	mgr := NewManager(ManagerOptions{
		Source:   source,
		BarStore: store,
	})

	ctx := context.Background()

	// First ingest succeeds
	result, err := mgr.IngestTicks(ctx, "SOLUSDT", 0, 10000)
	if err != nil {
		t.Fatalf("First ingest failed: %v", err)
	}
	if result.Bars1s != 1 || result.Bars1m != 1 {
		t.Errorf("Expected 1 bar per interval, got %+v", result)
	}

	// Second ingest with same data fails (duplicate)
	_, err = mgr.IngestTicks(ctx, "SOLUSDT", 0, 10000)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey on duplicate, got %v", err)
	}
}

func TestManagerIngestTicksInvalid(t *testing.T) {
	tests := []struct {
		name string
		tick *domain.Tick
	}{
		{"zero_price", &domain.Tick{Symbol: "SOLUSDT", TimestampMs: 1000, Price: 0, Quantity: 1}},
		{"negative_price", &domain.Tick{Symbol: "SOLUSDT", TimestampMs: 1000, Price: -5, Quantity: 1}},
		{"zero_qty", &domain.Tick{Symbol: "SOLUSDT", TimestampMs: 1000, Price: 100, Quantity: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := stub.NewStubTickSource([]*domain.Tick{tt.tick})
			store := memory.NewBarStore()

			mgr := NewManager(ManagerOptions{
				Source:   source,
				BarStore: store,
			})

			ctx := context.Background()
			_, err := mgr.IngestTicks(ctx, "SOLUSDT", 0, 10000)
			if !errors.Is(err, ErrInvalidTick) {
				t.Fatalf("Expected ErrInvalidTick, got %v", err)
			}

			// Validation happens before aggregation, nothing stored
			bars, err := store.GetBySymbol(ctx, "SOLUSDT", domain.BarInterval1s)
			if err != nil {
				t.Fatalf("GetBySymbol failed: %v", err)
			}
			if len(bars) != 0 {
				t.Errorf("Expected no bars stored, got %d", len(bars))
			}
		})
	}
}

func TestManagerIngestTicksEmpty(t *testing.T) {
	source := stub.NewStubTickSource(nil)
	store := memory.NewBarStore()

	mgr := NewManager(ManagerOptions{
		Source:   source,
		BarStore: store,
	})

	ctx := context.Background()
	result, err := mgr.IngestTicks(ctx, "SOLUSDT", 0, 10000)
	if err != nil {
		t.Errorf("Empty source should not error: %v", err)
	}
	if result.Ticks != 0 || result.Bars1s != 0 || result.Bars1m != 0 {
		t.Errorf("Expected zero result, got %+v", result)
	}
}

func TestManagerIngestTicksFilterByTimeRange(t *testing.T) {
	ticks := []*domain.Tick{
		{Symbol: "SOLUSDT", TimestampMs: 1000, Price: 100, Quantity: 1},
		{Symbol: "SOLUSDT", TimestampMs: 2000, Price: 101, Quantity: 1},
		{Symbol: "SOLUSDT", TimestampMs: 3000, Price: 102, Quantity: 1},
	}

	source := stub.NewStubTickSource(ticks)
	store := memory.NewBarStore()

	mgr := NewManager(ManagerOptions{
		Source:   source,
		BarStore: store,
	})

	ctx := context.Background()
	result, err := mgr.IngestTicks(ctx, "SOLUSDT", 1500, 2500)
	if err != nil {
		t.Fatalf("IngestTicks failed: %v", err)
	}

	if result.Ticks != 1 {
		t.Errorf("Expected 1 tick in time range, got %d", result.Ticks)
	}
}

func TestManagerNilSources(t *testing.T) {
	mgr := NewManager(ManagerOptions{})

	ctx := context.Background()
	result, err := mgr.IngestTicks(ctx, "SOLUSDT", 0, 1000)
	if err != nil {
		t.Error("Nil source should return nil error")
	}
	if result.Ticks != 0 {
		t.Error("Nil source should return zero result")
	}
}
