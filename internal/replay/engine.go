package replay

import (
	"context"

	"regime-precursor-lab/internal/domain"
)

// SampleEngine processes probability samples in deterministic order.
type SampleEngine interface {
	// OnSample is called for each probability point in order.
	// Points are guaranteed to be strictly increasing in timestamp.
	OnSample(ctx context.Context, point *domain.ProbabilityPoint) error
}
