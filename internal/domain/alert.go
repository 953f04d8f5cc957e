package domain

import "errors"

// AlertParams is one gating operating point.
// Persisted as a flat key-value record (see sweep.OperatingPoint) and as
// alert_params rows in PostgreSQL.
type AlertParams struct {
	EMAWindow        int     // exponential smoothing window, >= 1 (1 = no smoothing)
	Threshold        float64 // smoothed probability must exceed this, in (0, 1)
	ConsecutiveK     int     // consecutive above-threshold minutes required, >= 1
	MinSeparationMin int     // minimum minutes between alerts, >= 0
}

// AlertParams validation errors.
var (
	ErrEMAWindow      = errors.New("ema_window must be >= 1")
	ErrThresholdRange = errors.New("threshold must be in (0, 1)")
	ErrConsecutiveK   = errors.New("consecutive_k must be >= 1")
	ErrMinSeparation  = errors.New("min_separation_min must be >= 0")
)

// Validate checks parameter ranges.
func (p AlertParams) Validate() error {
	if p.EMAWindow < 1 {
		return ErrEMAWindow
	}
	if p.Threshold <= 0 || p.Threshold >= 1 {
		return ErrThresholdRange
	}
	if p.ConsecutiveK < 1 {
		return ErrConsecutiveK
	}
	if p.MinSeparationMin < 0 {
		return ErrMinSeparation
	}
	return nil
}

// Alert is a discrete gating decision. Derived, not persisted input: the
// gate recomputes alerts deterministically from the probability stream.
type Alert struct {
	TimestampMs int64   // fire time (ms)
	Probability float64 // smoothed probability at fire time
}

// OperatingPoint is the selected gating configuration for a run, together
// with the sweep metrics that justified the selection.
type OperatingPoint struct {
	RunID         string
	Params        AlertParams
	Alerts        int     // total alerts fired during the sweep evaluation
	TruePositives int     // alerts landing inside a pre-flip window
	Coverage      float64 // fraction of flips covered
	FAPerDay      float64 // false alarms per elapsed day
}
