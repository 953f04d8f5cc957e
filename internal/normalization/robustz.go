package normalization

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"regime-precursor-lab/internal/domain"
)

// RobustZ is a rolling median/MAD z-score transform over feature rows.
// Windows are time-based and closed on the left: the current row never sees
// itself. With PerHourOfDay set, each hour-of-day forms its own history, so
// 14:00 rows are scored against prior 14:00 rows; this strips intraday
// seasonality without losing causality. Tails are winsorized at the
// WinsorPct quantiles per column.
type RobustZ struct {
	WindowDays   int
	PerHourOfDay bool
	WinsorPct    float64
}

// DefaultRobustZ returns the reference study transform.
func DefaultRobustZ() RobustZ {
	return RobustZ{WindowDays: 5, PerHourOfDay: true, WinsorPct: 0.01}
}

const madFloor = 1e-9

// Transform scores every feature value against its rolling window. Rows must
// be sorted by timestamp. Values whose window is still empty are omitted
// from the output row; the seasonality columns pass through untouched since
// they are already bounded clock functions.
func (z RobustZ) Transform(rows []*domain.FeatureRow) []*domain.FeatureRow {
	if len(rows) == 0 {
		return nil
	}

	windowMs := int64(z.WindowDays) * domain.DayMs

	out := make([]*domain.FeatureRow, len(rows))
	for i, r := range rows {
		out[i] = &domain.FeatureRow{
			Symbol:      r.Symbol,
			TimestampMs: r.TimestampMs,
			Values:      make(map[domain.FeatureName]float64, len(r.Values)),
		}
	}

	type sample struct {
		ts int64
		v  float64
	}

	for _, feature := range domain.AllFeatures {
		if feature == domain.FeatureSeasonSin || feature == domain.FeatureSeasonCos {
			for i, r := range rows {
				if v, ok := r.Value(feature); ok {
					out[i].Values[feature] = v
				}
			}
			continue
		}

		// history per hour-of-day bucket (single bucket when disabled)
		history := make(map[int][]sample)
		zvals := make([]float64, len(rows))
		defined := make([]bool, len(rows))

		for i, r := range rows {
			v, ok := r.Value(feature)
			if !ok {
				continue
			}

			bucket := 0
			if z.PerHourOfDay {
				bucket = time.UnixMilli(r.TimestampMs).UTC().Hour()
			}
			h := history[bucket]

			// Evict samples older than the window.
			cutoff := r.TimestampMs - windowMs
			start := 0
			for start < len(h) && h[start].ts < cutoff {
				start++
			}
			h = h[start:]

			if len(h) > 0 {
				window := make([]float64, len(h))
				for j, s := range h {
					window[j] = s.v
				}
				med, _ := stats.Median(window)
				dev := make([]float64, len(window))
				for j, wv := range window {
					dev[j] = math.Abs(wv - med)
				}
				mad, _ := stats.Median(dev)
				zvals[i] = (v - med) / (mad + madFloor)
				defined[i] = true
			}

			history[bucket] = append(h, sample{ts: r.TimestampMs, v: v})
		}

		// Winsorize the column at the tail quantiles.
		var observed []float64
		for i := range zvals {
			if defined[i] {
				observed = append(observed, zvals[i])
			}
		}
		if len(observed) == 0 {
			continue
		}
		lo, hi := winsorBounds(observed, z.WinsorPct)
		for i := range zvals {
			if !defined[i] {
				continue
			}
			out[i].Values[feature] = clamp(zvals[i], lo, hi)
		}
	}

	return out
}

func winsorBounds(vals []float64, pct float64) (float64, float64) {
	if pct <= 0 {
		return math.Inf(-1), math.Inf(1)
	}
	lo, err := stats.Percentile(vals, pct*100)
	if err != nil {
		return math.Inf(-1), math.Inf(1)
	}
	hi, err := stats.Percentile(vals, (1-pct)*100)
	if err != nil {
		return math.Inf(-1), math.Inf(1)
	}
	return lo, hi
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
