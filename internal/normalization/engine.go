package normalization

import (
	"context"

	"regime-precursor-lab/internal/storage"
)

// NormalizationEngine defines the main normalization interface.
type NormalizationEngine interface {
	// NormalizeSymbol derives feature rows for a single symbol from its bars.
	NormalizeSymbol(ctx context.Context, symbol string) error
}

// Runner implements NormalizationEngine.
type Runner struct {
	barStore     storage.BarStore
	featureStore storage.FeatureStore
	windows      FeatureWindows
	robustZ      RobustZ
}

// NewRunner creates a normalization runner with the reference windows and
// robust z transform.
func NewRunner(barStore storage.BarStore, featureStore storage.FeatureStore) *Runner {
	return &Runner{
		barStore:     barStore,
		featureStore: featureStore,
		windows:      DefaultFeatureWindows(),
		robustZ:      DefaultRobustZ(),
	}
}

// WithWindows overrides the feature windows.
func (r *Runner) WithWindows(w FeatureWindows) *Runner {
	r.windows = w
	return r
}

// WithRobustZ overrides the robust z transform.
func (r *Runner) WithRobustZ(z RobustZ) *Runner {
	r.robustZ = z
	return r
}
