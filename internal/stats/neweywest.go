package stats

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrTooFewSamples is returned when a statistic needs more observations.
var ErrTooFewSamples = errors.New("too few samples")

// NeweyWestLags returns the standard automatic truncation lag
// floor(4 * (n/100)^(2/9)) for n observations.
func NeweyWestLags(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Floor(4 * math.Pow(float64(n)/100, 2.0/9.0)))
}

// NeweyWestVariance estimates the long-run variance of the sample mean with
// a Bartlett kernel:
//
//	sigma^2 = gamma_0 + 2 * sum_{l=1}^{L} (1 - l/(L+1)) * gamma_l
//
// where gamma_l is the lag-l autocovariance. Returns sigma^2 / n, the
// autocorrelation-robust variance of the mean. Lags > n-1 are truncated.
func NeweyWestVariance(x []float64, lags int) (float64, error) {
	n := len(x)
	if n < 2 {
		return 0, ErrTooFewSamples
	}
	if lags > n-1 {
		lags = n - 1
	}
	if lags < 0 {
		lags = 0
	}

	mean := stat.Mean(x, nil)

	centered := make([]float64, n)
	for i, v := range x {
		centered[i] = v - mean
	}

	gamma := func(l int) float64 {
		var s float64
		for i := l; i < n; i++ {
			s += centered[i] * centered[i-l]
		}
		return s / float64(n)
	}

	sigma2 := gamma(0)
	for l := 1; l <= lags; l++ {
		w := 1 - float64(l)/float64(lags+1)
		sigma2 += 2 * w * gamma(l)
	}

	// Negative estimates can occur with strong negative autocorrelation;
	// clamp to the iid variance floor of zero.
	if sigma2 < 0 {
		sigma2 = 0
	}
	return sigma2 / float64(n), nil
}

// NeweyWestTStat returns mean(x) / sqrt(NeweyWestVariance(x, lags)).
// Returns ErrTooFewSamples for n < 2 and an error when the variance
// estimate is zero (t undefined).
func NeweyWestTStat(x []float64, lags int) (float64, error) {
	v, err := NeweyWestVariance(x, lags)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, errors.New("zero long-run variance, t-stat undefined")
	}
	return stat.Mean(x, nil) / math.Sqrt(v), nil
}
