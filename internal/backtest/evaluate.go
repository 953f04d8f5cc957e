package backtest

import (
	"errors"
	"fmt"
	"sort"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/metrics"
)

// Validation errors.
var (
	ErrPreWindow = errors.New("pre_window_min must be positive")
	ErrHorizon   = errors.New("horizon_min must be positive")
)

// EvalParams sets the attribution windows for scoring alerts against flips.
type EvalParams struct {
	// PreWindowMin bounds the precursor window: a flip counts as covered
	// when at least one alert lands in [flip - pre_window, flip).
	PreWindowMin int

	// HorizonMin bounds forgiveness: an alert with no flip in
	// [alert, alert + horizon) is a false alarm.
	HorizonMin int
}

// Validate checks window bounds.
func (p EvalParams) Validate() error {
	if p.PreWindowMin <= 0 {
		return fmt.Errorf("%w: got %d", ErrPreWindow, p.PreWindowMin)
	}
	if p.HorizonMin <= 0 {
		return fmt.Errorf("%w: got %d", ErrHorizon, p.HorizonMin)
	}
	return nil
}

// Evaluation scores one alert stream against realized flips.
// Every ratio carries its sample count; a ratio whose denominator is empty
// stays nil rather than defaulting to zero.
type Evaluation struct {
	Flips    int
	Covered  int
	Coverage *float64 // nil when Flips == 0

	Alerts        int
	TruePositives int
	FalseAlarms   int

	ElapsedDays float64
	FAPerDay    *float64 // nil when the span has zero length

	// LeadMin summarizes flip minus earliest covering alert, in minutes.
	// nil when no flip was covered.
	LeadMin *metrics.Summary
}

// Evaluate scores alerts against flips over the span [spanStart, spanEnd].
// Both slices must be ordered by timestamp ascending; the gate and the
// stores guarantee that. Callers scope flips to the evaluated span.
//
// Per flip: covered iff at least one alert lands in [flip - pre_window, flip);
// lead time is flip minus the earliest such alert. Per alert: true positive
// iff a flip lands in [alert, alert + horizon), false alarm otherwise. The
// false alarm rate divides by the span length in days. The two windows are
// deliberately asymmetric: an alert at the flip minute is not a precursor,
// but it is not wrong either.
func Evaluate(alerts []*domain.Alert, flips []*domain.FlipEvent, spanStartMs, spanEndMs int64, params EvalParams) (*Evaluation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	pre := int64(params.PreWindowMin) * domain.MinuteMs
	horizon := int64(params.HorizonMin) * domain.MinuteMs

	eval := &Evaluation{
		Flips:  len(flips),
		Alerts: len(alerts),
	}

	// Coverage and lead time per flip.
	var leads []float64
	for _, flip := range flips {
		first := earliestAlertAt(alerts, flip.TimestampMs-pre)
		if first < len(alerts) && alerts[first].TimestampMs < flip.TimestampMs {
			eval.Covered++
			leads = append(leads, float64(flip.TimestampMs-alerts[first].TimestampMs)/float64(domain.MinuteMs))
		}
	}
	if eval.Flips > 0 {
		coverage := float64(eval.Covered) / float64(eval.Flips)
		eval.Coverage = &coverage
	}

	// True positive / false alarm per alert.
	for _, alert := range alerts {
		if flipWithin(flips, alert.TimestampMs, horizon) {
			eval.TruePositives++
		} else {
			eval.FalseAlarms++
		}
	}

	eval.ElapsedDays = float64(spanEndMs-spanStartMs) / float64(domain.DayMs)
	if eval.ElapsedDays > 0 {
		rate := float64(eval.FalseAlarms) / eval.ElapsedDays
		eval.FAPerDay = &rate
	}

	if len(leads) > 0 {
		summary, err := metrics.Summarize(leads)
		if err != nil {
			return nil, err
		}
		eval.LeadMin = summary
	}

	return eval, nil
}

// earliestAlertAt returns the index of the first alert at or after ts.
func earliestAlertAt(alerts []*domain.Alert, ts int64) int {
	return sort.Search(len(alerts), func(i int) bool {
		return alerts[i].TimestampMs >= ts
	})
}

// flipWithin reports whether any flip lands in [ts, ts+horizon).
func flipWithin(flips []*domain.FlipEvent, ts, horizon int64) bool {
	i := sort.Search(len(flips), func(i int) bool {
		return flips[i].TimestampMs >= ts
	})
	return i < len(flips) && flips[i].TimestampMs < ts+horizon
}
