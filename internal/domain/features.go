package domain

import (
	"errors"
	"fmt"
)

// FeatureName identifies one column of the causal feature matrix.
// The set of feature names is closed: unknown names fail at parse time,
// never at lookup time.
type FeatureName string

// Closed feature schema. Every feature value at minute t is computed from
// data through minute t-1 (one-minute shift applied after the raw rolling
// statistic), so no feature can see its own minute.
const (
	FeatureRet1m      FeatureName = "ret_1m"       // 1-minute log return
	FeatureRV1m       FeatureName = "rv_1m"        // realized variance of 1s returns within the minute
	FeatureZVol1m     FeatureName = "z_vol_1m"     // robust z-score of minute volume
	FeatureTradeRate  FeatureName = "trade_rate_1s" // mean ticks per second within the minute
	FeatureImbalance  FeatureName = "imbalance_1s" // (buy - sell) / total volume within the minute
	FeatureBBWidth    FeatureName = "bb_width_pct" // Bollinger band width over close, pct of mid
	FeatureDonWidth   FeatureName = "don_width_pct" // Donchian channel width, pct of mid
	FeatureVoV1m      FeatureName = "vov_1m"       // volatility of rolling volatility
	FeatureACF1Ret    FeatureName = "acf1_ret"     // lag-1 autocorrelation of returns, rolling
	FeatureSeasonSin  FeatureName = "season_sin"   // sin of intraday phase
	FeatureSeasonCos  FeatureName = "season_cos"   // cos of intraday phase
	FeatureBMShareEWM FeatureName = "bm_share_ewm" // EWM share of buyer-maker volume
)

// AllFeatures lists the closed schema in canonical column order.
// Iteration over features must always use this order for determinism.
var AllFeatures = []FeatureName{
	FeatureRet1m,
	FeatureRV1m,
	FeatureZVol1m,
	FeatureTradeRate,
	FeatureImbalance,
	FeatureBBWidth,
	FeatureDonWidth,
	FeatureVoV1m,
	FeatureACF1Ret,
	FeatureSeasonSin,
	FeatureSeasonCos,
	FeatureBMShareEWM,
}

// ErrUnknownFeature is returned for names outside the closed schema.
var ErrUnknownFeature = errors.New("unknown feature name")

var featureSet = func() map[FeatureName]struct{} {
	m := make(map[FeatureName]struct{}, len(AllFeatures))
	for _, f := range AllFeatures {
		m[f] = struct{}{}
	}
	return m
}()

// ParseFeatureName resolves a string against the closed schema.
// Matching is exact: no case folding, no aliases.
func ParseFeatureName(s string) (FeatureName, error) {
	f := FeatureName(s)
	if _, ok := featureSet[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
	}
	return f, nil
}

// FeatureRow is one minute of the causal feature matrix for a symbol.
// A feature absent from Values is undefined at that minute (warmup window
// not yet filled); consumers must treat absence as "no sample", never as 0.
type FeatureRow struct {
	Symbol      string
	TimestampMs int64 // minute-aligned (ms)
	Values      map[FeatureName]float64
}

// Value returns the feature value and whether it is defined at this minute.
func (r *FeatureRow) Value(f FeatureName) (float64, bool) {
	v, ok := r.Values[f]
	return v, ok
}
