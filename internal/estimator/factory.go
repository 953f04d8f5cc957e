package estimator

import (
	"errors"
	"fmt"
)

// Estimator names understood by the factory.
const (
	NameHazardLogit = "hazard_logit"
	NameBaseRate    = "base_rate"
)

// ErrUnknownEstimator is returned for names outside the factory catalog.
var ErrUnknownEstimator = errors.New("unknown estimator name")

// Config selects and parameterizes an estimator.
type Config struct {
	Name      string
	Calibrate bool    // isotonic calibration, hazard_logit only
	Ridge     float64 // L2 strength for hazard_logit; 0 uses the default
	MaxIter   int     // IRLS iteration cap; 0 uses the default
}

// FromConfig creates an Estimator by name.
func FromConfig(cfg Config) (Estimator, error) {
	switch cfg.Name {
	case NameHazardLogit:
		return NewHazardLogit(cfg.Ridge, cfg.MaxIter, cfg.Calibrate), nil
	case NameBaseRate:
		return NewBaseRate(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEstimator, cfg.Name)
	}
}
