package regimes

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"regime-precursor-lab/internal/domain"
)

// ErrNonMonotonic reports macro bars whose timestamps do not strictly increase.
var ErrNonMonotonic = errors.New("macro bars not strictly increasing")

// DetectorConfig holds macro regime detection parameters.
type DetectorConfig struct {
	SlopeWindow int     // macro bars in the OLS trend window
	R2Min       float64 // minimum R² for a directional state
	Hysteresis  int     // consecutive differing bars required to switch state
	VolWindow   int     // macro bars in the realized volatility window
	VolLowPct   float64 // percentile rank boundary between low and mid vol
	VolHighPct  float64 // percentile rank boundary between mid and high vol
}

// DefaultDetectorConfig returns the reference detection parameters.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SlopeWindow: 30,
		R2Min:       0.20,
		Hysteresis:  2,
		VolWindow:   30,
		VolLowPct:   0.33,
		VolHighPct:  0.66,
	}
}

// Detector assigns a trend state to each macro bar and extracts flips.
type Detector struct {
	config DetectorConfig
}

// NewDetector creates a macro regime detector.
func NewDetector(config DetectorConfig) *Detector {
	return &Detector{config: config}
}

// Detect classifies each macro bar as bull, bear, or range and returns the
// state transitions. The trend test fits an OLS line to log close over the
// window ending just before the bar, so a bar never sees its own close.
// Bars must be strictly increasing in time.
func (d *Detector) Detect(symbol string, macroBars []*domain.Bar) ([]*domain.RegimePoint, []*domain.FlipEvent, error) {
	n := len(macroBars)
	if n == 0 {
		return nil, nil, nil
	}
	for i := 1; i < n; i++ {
		if macroBars[i].TimestampMs <= macroBars[i-1].TimestampMs {
			return nil, nil, fmt.Errorf("%w: bar %d at %d follows %d",
				ErrNonMonotonic, i, macroBars[i].TimestampMs, macroBars[i-1].TimestampMs)
		}
	}

	logClose := make([]float64, n)
	for i, b := range macroBars {
		logClose[i] = math.Log(b.Close)
	}

	rv := rollingRV(macroBars, d.config.VolWindow)

	slopes := make([]float64, n)
	r2s := make([]float64, n)
	raw := make([]domain.RegimeState, n)
	for i := 0; i < n; i++ {
		slopes[i], r2s[i] = math.NaN(), math.NaN()
		if i >= d.config.SlopeWindow {
			slopes[i], r2s[i] = olsSlopeR2(logClose[i-d.config.SlopeWindow : i])
		}
		// NaN comparisons are false, so warmup bars stay range.
		raw[i] = domain.RegimeRange
		switch {
		case slopes[i] > 0 && r2s[i] >= d.config.R2Min:
			raw[i] = domain.RegimeBull
		case slopes[i] < 0 && r2s[i] >= d.config.R2Min:
			raw[i] = domain.RegimeBear
		}
	}

	held := applyHysteresis(raw, d.config.Hysteresis)
	buckets := volBuckets(rv, d.config.VolLowPct, d.config.VolHighPct)

	points := make([]*domain.RegimePoint, n)
	for i, b := range macroBars {
		points[i] = &domain.RegimePoint{
			Symbol:      symbol,
			TimestampMs: b.TimestampMs,
			State:       held[i],
			Slope:       slopes[i],
			R2:          r2s[i],
			Vol:         rv[i],
			VolBucket:   buckets[i],
		}
	}

	var flips []*domain.FlipEvent
	for i := 1; i < n; i++ {
		if held[i] != held[i-1] {
			flips = append(flips, &domain.FlipEvent{
				Symbol:      symbol,
				TimestampMs: macroBars[i].TimestampMs,
				FromState:   held[i-1],
				ToState:     held[i],
			})
		}
	}

	return points, flips, nil
}

// olsSlopeR2 fits y against its index and returns the slope and R².
// Non-finite values are dropped before fitting; fewer than two finite
// points leaves both undefined.
func olsSlopeR2(y []float64) (float64, float64) {
	xs := make([]float64, 0, len(y))
	ys := make([]float64, 0, len(y))
	for _, v := range y {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			xs = append(xs, float64(len(xs)))
			ys = append(ys, v)
		}
	}
	if len(ys) < 2 {
		return math.NaN(), math.NaN()
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	return beta, stat.RSquared(xs, ys, nil, alpha, beta)
}

// rollingRV computes sqrt of the sum of squared close-to-close returns over
// the trailing window, current bar included. Undefined until the window is
// full of defined returns (the first bar has no return).
func rollingRV(bars []*domain.Bar, window int) []float64 {
	n := len(bars)
	rets := make([]float64, n)
	out := make([]float64, n)
	for i := range rets {
		rets[i] = math.NaN()
		out[i] = math.NaN()
	}
	for i := 1; i < n; i++ {
		if prev := bars[i-1].Close; prev != 0 {
			rets[i] = bars[i].Close/prev - 1
		}
	}
	for i := window; i < n; i++ {
		sum := 0.0
		full := true
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(rets[j]) {
				full = false
				break
			}
			sum += rets[j] * rets[j]
		}
		if full {
			out[i] = math.Sqrt(sum)
		}
	}
	return out
}

// applyHysteresis holds the prior state until h consecutive bars disagree
// with it; the h-th differing bar's own raw state is then adopted. A bar
// matching the held state resets the count.
func applyHysteresis(raw []domain.RegimeState, h int) []domain.RegimeState {
	out := make([]domain.RegimeState, len(raw))
	copy(out, raw)
	if len(raw) == 0 {
		return out
	}
	last := raw[0]
	cnt := 0
	for i := 1; i < len(raw); i++ {
		if raw[i] != last {
			cnt++
			if cnt >= h {
				last = raw[i]
				cnt = 0
			} else {
				out[i] = last
			}
		} else {
			cnt = 0
			out[i] = last
		}
	}
	return out
}

// volBuckets assigns low/mid/high by percentile rank of realized volatility
// over the whole series, ties averaged. Classification only; no trading
// decision reads the bucket, so the full-series rank costs no causality.
// Bars with undefined vol keep an empty bucket.
func volBuckets(rv []float64, lowPct, highPct float64) []domain.VolBucket {
	type sample struct {
		idx int
		v   float64
	}
	defined := make([]sample, 0, len(rv))
	for i, v := range rv {
		if !math.IsNaN(v) {
			defined = append(defined, sample{i, v})
		}
	}
	out := make([]domain.VolBucket, len(rv))
	if len(defined) == 0 {
		return out
	}
	sort.Slice(defined, func(a, b int) bool { return defined[a].v < defined[b].v })
	total := float64(len(defined))
	for lo := 0; lo < len(defined); {
		hi := lo
		for hi+1 < len(defined) && defined[hi+1].v == defined[lo].v {
			hi++
		}
		// Average 1-based rank across the tie run.
		pct := (float64(lo+1) + float64(hi+1)) / 2 / total
		bucket := domain.VolHigh
		switch {
		case pct <= lowPct:
			bucket = domain.VolLow
		case pct <= highPct:
			bucket = domain.VolMid
		}
		for j := lo; j <= hi; j++ {
			out[defined[j].idx] = bucket
		}
		lo = hi + 1
	}
	return out
}
