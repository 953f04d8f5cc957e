package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Bar // keyed by (symbol, interval_sec, timestamp_ms)
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{
		data: make(map[string]*domain.Bar),
	}
}

// barKey generates a unique key for a bar.
func barKey(symbol string, intervalSec int, timestampMs int64) string {
	return fmt.Sprintf("%s|%d|%d", symbol, intervalSec, timestampMs)
}

// InsertBulk adds multiple bars. Fails entire batch on duplicate.
func (s *BarStore) InsertBulk(_ context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(bars))

	for _, b := range bars {
		if b == nil || b.Symbol == "" || b.IntervalSec <= 0 {
			return storage.ErrInvalidInput
		}
		key := barKey(b.Symbol, b.IntervalSec, b.TimestampMs)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, b := range bars {
		key := barKey(b.Symbol, b.IntervalSec, b.TimestampMs)
		cp := *b
		s.data[key] = &cp
	}

	return nil
}

// GetBySymbol retrieves all bars for a symbol at one interval, ordered by timestamp ASC.
func (s *BarStore) GetBySymbol(_ context.Context, symbol string, intervalSec int) ([]*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Bar
	for _, b := range s.data {
		if b.Symbol == symbol && b.IntervalSec == intervalSec {
			cp := *b
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// GetByTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
func (s *BarStore) GetByTimeRange(_ context.Context, symbol string, intervalSec int, start, end int64) ([]*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Bar
	for _, b := range s.data {
		if b.Symbol == symbol && b.IntervalSec == intervalSec && b.TimestampMs >= start && b.TimestampMs <= end {
			cp := *b
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

var _ storage.BarStore = (*BarStore)(nil)
