package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// FeatureStore is an in-memory implementation of storage.FeatureStore.
type FeatureStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FeatureRow // keyed by (symbol, timestamp_ms)
}

// NewFeatureStore creates a new in-memory feature store.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{
		data: make(map[string]*domain.FeatureRow),
	}
}

// featureKey generates a unique key for a feature row.
func featureKey(symbol string, timestampMs int64) string {
	return fmt.Sprintf("%s|%d", symbol, timestampMs)
}

// cloneFeatureRow deep-copies a row; the Values map must not be shared
// between the store and callers.
func cloneFeatureRow(r *domain.FeatureRow) *domain.FeatureRow {
	cp := *r
	if r.Values != nil {
		cp.Values = make(map[domain.FeatureName]float64, len(r.Values))
		for k, v := range r.Values {
			cp.Values[k] = v
		}
	}
	return &cp
}

// InsertBulk adds multiple rows. Fails entire batch on duplicate.
func (s *FeatureStore) InsertBulk(_ context.Context, rows []*domain.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(rows))

	for _, r := range rows {
		if r == nil || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := featureKey(r.Symbol, r.TimestampMs)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range rows {
		key := featureKey(r.Symbol, r.TimestampMs)
		s.data[key] = cloneFeatureRow(r)
	}

	return nil
}

// GetBySymbol retrieves all rows for a symbol, ordered by timestamp ASC.
func (s *FeatureStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRow
	for _, r := range s.data {
		if r.Symbol == symbol {
			result = append(result, cloneFeatureRow(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// GetByTimeRange retrieves rows within [start, end] (inclusive), ordered by timestamp ASC.
func (s *FeatureStore) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRow
	for _, r := range s.data {
		if r.Symbol == symbol && r.TimestampMs >= start && r.TimestampMs <= end {
			result = append(result, cloneFeatureRow(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

var _ storage.FeatureStore = (*FeatureStore)(nil)
