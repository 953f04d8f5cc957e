package memory

import (
	"context"
	"sync"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// AlertParamStore is an in-memory implementation of storage.AlertParamStore.
type AlertParamStore struct {
	mu   sync.RWMutex
	data map[string]*domain.OperatingPoint // keyed by run_id
}

// NewAlertParamStore creates a new in-memory alert param store.
func NewAlertParamStore() *AlertParamStore {
	return &AlertParamStore{
		data: make(map[string]*domain.OperatingPoint),
	}
}

// Insert adds a new operating point. Returns ErrDuplicateKey if run_id exists.
func (s *AlertParamStore) Insert(_ context.Context, op *domain.OperatingPoint) error {
	if op == nil || op.RunID == "" {
		return storage.ErrInvalidInput
	}
	if err := op.Params.Validate(); err != nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[op.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *op
	s.data[op.RunID] = &cp
	return nil
}

// GetByRunID retrieves the operating point for a run. Returns ErrNotFound if not exists.
func (s *AlertParamStore) GetByRunID(_ context.Context, runID string) (*domain.OperatingPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *op
	return &cp, nil
}

var _ storage.AlertParamStore = (*AlertParamStore)(nil)
