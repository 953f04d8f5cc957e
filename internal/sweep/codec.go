package sweep

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"regime-precursor-lab/internal/domain"
)

// ErrMissingField is returned when an operating point file lacks a
// required parameter in both its compact and verbose spelling.
var ErrMissingField = errors.New("operating point missing required field")

// opRecord is the wire form written by the sweep: one flat object with
// compact keys.
type opRecord struct {
	RunID    string  `json:"run_id"`
	Thr      float64 `json:"thr"`
	K        int     `json:"k"`
	EMA      int     `json:"ema"`
	Sep      int     `json:"sep"`
	Alerts   int     `json:"alerts"`
	FAPerDay float64 `json:"fa_per_day"`
	TP       int     `json:"tp"`
	Coverage float64 `json:"coverage"`
}

// opLoose is the read form. Older artifacts spell the parameters out, so
// each one is accepted under both keys; pointers distinguish absent from
// zero.
type opLoose struct {
	RunID string `json:"run_id"`

	Thr            *float64 `json:"thr"`
	AlertThreshold *float64 `json:"alert_threshold"`

	K        *int `json:"k"`
	ConfirmK *int `json:"confirm_k"`

	EMA     *int `json:"ema"`
	EMASpan *int `json:"ema_span"`

	Sep              *int `json:"sep"`
	MinSeparationMin *int `json:"min_separation_min"`

	Alerts   int     `json:"alerts"`
	FAPerDay float64 `json:"fa_per_day"`
	TP       int     `json:"tp"`
	Coverage float64 `json:"coverage"`
}

// MarshalOperatingPoint renders the point as an indented flat JSON object.
func MarshalOperatingPoint(op *domain.OperatingPoint) ([]byte, error) {
	rec := opRecord{
		RunID:    op.RunID,
		Thr:      op.Params.Threshold,
		K:        op.Params.ConsecutiveK,
		EMA:      op.Params.EMAWindow,
		Sep:      op.Params.MinSeparationMin,
		Alerts:   op.Alerts,
		FAPerDay: op.FAPerDay,
		TP:       op.TruePositives,
		Coverage: op.Coverage,
	}
	return json.MarshalIndent(rec, "", "  ")
}

// UnmarshalOperatingPoint parses an operating point in either key spelling
// and validates the parameters.
func UnmarshalOperatingPoint(data []byte) (*domain.OperatingPoint, error) {
	var raw opLoose
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var params domain.AlertParams
	switch {
	case raw.Thr != nil:
		params.Threshold = *raw.Thr
	case raw.AlertThreshold != nil:
		params.Threshold = *raw.AlertThreshold
	default:
		return nil, fmt.Errorf("%w: thr or alert_threshold", ErrMissingField)
	}
	switch {
	case raw.K != nil:
		params.ConsecutiveK = *raw.K
	case raw.ConfirmK != nil:
		params.ConsecutiveK = *raw.ConfirmK
	default:
		return nil, fmt.Errorf("%w: k or confirm_k", ErrMissingField)
	}
	switch {
	case raw.EMA != nil:
		params.EMAWindow = *raw.EMA
	case raw.EMASpan != nil:
		params.EMAWindow = *raw.EMASpan
	default:
		return nil, fmt.Errorf("%w: ema or ema_span", ErrMissingField)
	}
	switch {
	case raw.Sep != nil:
		params.MinSeparationMin = *raw.Sep
	case raw.MinSeparationMin != nil:
		params.MinSeparationMin = *raw.MinSeparationMin
	default:
		return nil, fmt.Errorf("%w: sep or min_separation_min", ErrMissingField)
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &domain.OperatingPoint{
		RunID:         raw.RunID,
		Params:        params,
		Alerts:        raw.Alerts,
		TruePositives: raw.TP,
		Coverage:      raw.Coverage,
		FAPerDay:      raw.FAPerDay,
	}, nil
}

// SaveOperatingPoint writes the selected point to path.
func SaveOperatingPoint(path string, op *domain.OperatingPoint) error {
	data, err := MarshalOperatingPoint(op)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadOperatingPoint reads an operating point file in either key spelling.
func LoadOperatingPoint(path string) (*domain.OperatingPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operating point %s: %w", path, err)
	}
	return UnmarshalOperatingPoint(data)
}
