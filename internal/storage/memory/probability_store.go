package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// ProbabilityStore is an in-memory implementation of storage.ProbabilityStore.
type ProbabilityStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ProbabilityPoint // keyed by (run_id, symbol, timestamp_ms)
}

// NewProbabilityStore creates a new in-memory probability store.
func NewProbabilityStore() *ProbabilityStore {
	return &ProbabilityStore{
		data: make(map[string]*domain.ProbabilityPoint),
	}
}

// probabilityKey generates a unique key for a probability point.
func probabilityKey(runID, symbol string, timestampMs int64) string {
	return fmt.Sprintf("%s|%s|%d", runID, symbol, timestampMs)
}

// InsertBulk adds multiple points. Fails entire batch on duplicate.
func (s *ProbabilityStore) InsertBulk(_ context.Context, points []*domain.ProbabilityPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(points))

	for _, p := range points {
		if p == nil || p.RunID == "" || p.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := probabilityKey(p.RunID, p.Symbol, p.TimestampMs)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range points {
		key := probabilityKey(p.RunID, p.Symbol, p.TimestampMs)
		cp := *p
		s.data[key] = &cp
	}

	return nil
}

// GetByRunID retrieves all points for a run and symbol, ordered by timestamp ASC.
func (s *ProbabilityStore) GetByRunID(_ context.Context, runID, symbol string) ([]*domain.ProbabilityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ProbabilityPoint
	for _, p := range s.data {
		if p.RunID == runID && p.Symbol == symbol {
			cp := *p
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

var _ storage.ProbabilityStore = (*ProbabilityStore)(nil)
