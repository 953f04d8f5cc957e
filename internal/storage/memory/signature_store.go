package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// SignatureStore is an in-memory implementation of storage.SignatureStore.
type SignatureStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SignatureResult // keyed by (run_id, feature, lag_min)
}

// NewSignatureStore creates a new in-memory signature store.
func NewSignatureStore() *SignatureStore {
	return &SignatureStore{
		data: make(map[string]*domain.SignatureResult),
	}
}

// signatureKey generates a unique key for a signature result.
func signatureKey(runID string, feature domain.FeatureName, lagMin int) string {
	return fmt.Sprintf("%s|%s|%d", runID, feature, lagMin)
}

// cloneSignature deep-copies a result; the nullable statistic fields must not
// be shared between the store and callers.
func cloneSignature(r *domain.SignatureResult) *domain.SignatureResult {
	cp := *r
	cp.Statistic = copyFloatPtr(r.Statistic)
	cp.TStatNW = copyFloatPtr(r.TStatNW)
	cp.PValue = copyFloatPtr(r.PValue)
	cp.QValueGlobal = copyFloatPtr(r.QValueGlobal)
	cp.QValueSubset = copyFloatPtr(r.QValueSubset)
	return &cp
}

func copyFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// InsertBulk adds multiple results. Fails entire batch on duplicate.
func (s *SignatureStore) InsertBulk(_ context.Context, results []*domain.SignatureResult) error {
	if len(results) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(results))

	for _, r := range results {
		if r == nil || r.RunID == "" || r.Feature == "" {
			return storage.ErrInvalidInput
		}
		key := signatureKey(r.RunID, r.Feature, r.LagMin)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range results {
		key := signatureKey(r.RunID, r.Feature, r.LagMin)
		s.data[key] = cloneSignature(r)
	}

	return nil
}

// GetByRunID retrieves all results for a run, ordered by (feature, lag_min).
func (s *SignatureStore) GetByRunID(_ context.Context, runID string) ([]*domain.SignatureResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SignatureResult
	for _, r := range s.data {
		if r.RunID == runID {
			result = append(result, cloneSignature(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Feature != result[j].Feature {
			return result[i].Feature < result[j].Feature
		}
		return result[i].LagMin < result[j].LagMin
	})

	return result, nil
}

var _ storage.SignatureStore = (*SignatureStore)(nil)
