package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/idhash"
)

var (
	ErrNoHypotheses = errors.New("preregistration manifest lists no hypotheses")
)

// Manifest is the preregistration file: the hypotheses chosen before looking
// at results. Its raw bytes are hashed on load so any later edit shows up as
// a different fingerprint on the run record.
type Manifest struct {
	CreatedUTC string               `json:"created_utc"`
	Hypotheses []ManifestHypothesis `json:"hypotheses"`
}

// ManifestHypothesis names one (feature, lag) pair.
type ManifestHypothesis struct {
	Feature string `json:"feature"`
	LagMin  int    `json:"lag_min"`
}

// LoadManifest reads and parses a preregistration manifest. The returned hash
// covers the file bytes as stored, not a re-encoding.
func LoadManifest(path string) (*Manifest, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, "", fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Hypotheses) == 0 {
		return nil, "", ErrNoHypotheses
	}

	return &m, idhash.ComputeManifestHash(raw), nil
}

// Resolve maps the manifest entries onto domain hypotheses. Unknown feature
// names and non-negative lags are rejected: a manifest that does not match
// the feature schema exactly must fail loudly, not silently validate nothing.
func (m *Manifest) Resolve() ([]domain.Hypothesis, error) {
	out := make([]domain.Hypothesis, 0, len(m.Hypotheses))
	seen := make(map[string]bool, len(m.Hypotheses))
	for _, h := range m.Hypotheses {
		feature, err := domain.ParseFeatureName(h.Feature)
		if err != nil {
			return nil, fmt.Errorf("manifest hypothesis %q@%dm: %w", h.Feature, h.LagMin, err)
		}
		if h.LagMin >= 0 {
			return nil, fmt.Errorf("manifest hypothesis %q@%dm: %w", h.Feature, h.LagMin, ErrLagNotNegative)
		}
		hyp := domain.Hypothesis{Feature: feature, LagMin: h.LagMin}
		if seen[hyp.Key()] {
			return nil, fmt.Errorf("manifest hypothesis %s listed twice", hyp.Key())
		}
		seen[hyp.Key()] = true
		out = append(out, hyp)
	}
	return out, nil
}
