package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// FlipStore is an in-memory implementation of storage.FlipStore.
type FlipStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FlipEvent // keyed by (symbol, timestamp_ms)
}

// NewFlipStore creates a new in-memory flip store.
func NewFlipStore() *FlipStore {
	return &FlipStore{
		data: make(map[string]*domain.FlipEvent),
	}
}

// flipKey generates a unique key for a flip event.
func flipKey(symbol string, timestampMs int64) string {
	return fmt.Sprintf("%s|%d", symbol, timestampMs)
}

// Insert adds a new flip. Returns ErrDuplicateKey if (symbol, timestamp_ms) exists.
func (s *FlipStore) Insert(_ context.Context, f *domain.FlipEvent) error {
	if f == nil || f.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := flipKey(f.Symbol, f.TimestampMs)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *f
	s.data[key] = &cp
	return nil
}

// InsertBulk adds multiple flips atomically. Fails entire batch on any duplicate.
func (s *FlipStore) InsertBulk(_ context.Context, flips []*domain.FlipEvent) error {
	if len(flips) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(flips))

	for _, f := range flips {
		if f == nil || f.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := flipKey(f.Symbol, f.TimestampMs)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, f := range flips {
		key := flipKey(f.Symbol, f.TimestampMs)
		cp := *f
		s.data[key] = &cp
	}

	return nil
}

// GetBySymbol retrieves all flips for a symbol, ordered by timestamp ASC.
func (s *FlipStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.FlipEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FlipEvent
	for _, f := range s.data {
		if f.Symbol == symbol {
			cp := *f
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// GetByTimeRange retrieves flips within [start, end] (inclusive), ordered by timestamp ASC.
func (s *FlipStore) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]*domain.FlipEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FlipEvent
	for _, f := range s.data {
		if f.Symbol == symbol && f.TimestampMs >= start && f.TimestampMs <= end {
			cp := *f
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

var _ storage.FlipStore = (*FlipStore)(nil)
