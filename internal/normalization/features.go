package normalization

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"regime-precursor-lab/internal/domain"
)

// FeatureWindows holds the rolling windows behind the feature set.
type FeatureWindows struct {
	VolZ      int // volume z-score window (1m rows)
	VolZMin   int // minimum observations before z_vol_1m is defined
	Bollinger int // close mean/std window for bb_width_pct
	Donchian  int // high/low extreme window for don_width_pct
	ACF       int // lag-1 autocorrelation window over returns
	RVStd     int // inner return-std window for vov_1m
	VoV       int // outer std window for vov_1m
	FlowEMA   int // EMA span for bm_share_ewm
}

// DefaultFeatureWindows returns the reference study windows.
func DefaultFeatureWindows() FeatureWindows {
	return FeatureWindows{
		VolZ:      256,
		VolZMin:   64,
		Bollinger: 64,
		Donchian:  96,
		ACF:       128,
		RVStd:     32,
		VoV:       16,
		FlowEMA:   64,
	}
}

// MaxLookbackMin returns the deepest raw-bar lookback any feature takes, in
// minutes relative to the row it lands on. The one-minute shift is already
// inside the window arithmetic: a window of W rows ending at the shifted bar
// reaches exactly W minutes back. Purged cross-validation uses this as the
// feature lookback when dropping training rows near a test block.
func (w FeatureWindows) MaxLookbackMin() int {
	// ACF runs over returns, which reach one extra close back; the nested
	// vol-of-vol windows chain.
	return max(w.VolZ, w.Bollinger, w.Donchian, w.ACF+1, w.RVStd+w.VoV, w.FlowEMA)
}

const tinyDenominator = 1e-12

// ComputeFeatures derives the per-minute feature rows for one symbol from its
// 1m and 1s bars. Both inputs must be sorted by timestamp and belong to the
// same symbol.
//
// Every market-derived feature is computed on closed bars and then shifted
// forward one minute, so the row at minute t only sees data strictly before
// t. The two seasonality columns are functions of the clock and are not
// shifted. Undefined values (warmup, gaps) are omitted from the row rather
// than emitted as zero.
func ComputeFeatures(bars1m, bars1s []*domain.Bar, w FeatureWindows) []*domain.FeatureRow {
	n := len(bars1m)
	if n == 0 {
		return nil
	}
	symbol := bars1m[0].Symbol

	close1m := make([]float64, n)
	volume1m := make([]float64, n)
	high1m := make([]float64, n)
	low1m := make([]float64, n)
	minuteIdx := make(map[int64]int, n)
	for i, b := range bars1m {
		close1m[i] = b.Close
		volume1m[i] = b.Volume
		high1m[i] = b.High
		low1m[i] = b.Low
		minuteIdx[b.TimestampMs] = i
	}

	ret := logReturns(close1m)

	// Per-minute aggregates from the 1s stream.
	rv := nanSlice(n)
	tradeRate := nanSlice(n)
	imbalance := nanSlice(n)
	bmShare := perMinuteFlow(bars1s, minuteIdx, rv, tradeRate, imbalance, n)

	// z_vol_1m: rolling z-score of 1m volume.
	zVol := nanSlice(n)
	for i := range volume1m {
		mu, sd, count := rollingMeanStd(volume1m, i, w.VolZ)
		if count >= w.VolZMin {
			zVol[i] = (volume1m[i] - mu) / (sd + tinyDenominator)
		}
	}

	// bb_width_pct: Bollinger band width over close, as a fraction of price.
	bbWidth := nanSlice(n)
	for i := range close1m {
		_, sd, count := rollingMeanStd(close1m, i, w.Bollinger)
		if count >= w.Bollinger {
			bbWidth[i] = (4 * sd) / close1m[i]
		}
	}

	// don_width_pct: Donchian channel width, as a fraction of price.
	donWidth := nanSlice(n)
	for i := range close1m {
		if i+1 >= w.Donchian {
			hi := rollingMax(high1m, i, w.Donchian)
			lo := rollingMin(low1m, i, w.Donchian)
			donWidth[i] = (hi - lo) / close1m[i]
		}
	}

	// vov_1m: std of the rolling return std.
	rvStd := rollingStdSeries(ret, w.RVStd)
	vov := rollingStdSeries(rvStd, w.VoV)

	// acf1_ret: lag-1 autocorrelation of returns over the ACF window.
	acf1 := nanSlice(n)
	for i := range ret {
		acf1[i] = windowACF1(ret, i, w.ACF)
	}

	// bm_share_ewm: EMA-smoothed buyer-maker share.
	bmShareEWM := emaSeries(bmShare, w.FlowEMA)

	rows := make([]*domain.FeatureRow, n)
	for i, b := range bars1m {
		values := make(map[domain.FeatureName]float64)

		putShifted(values, domain.FeatureRet1m, ret, i)
		putShifted(values, domain.FeatureRV1m, rv, i)
		putShifted(values, domain.FeatureZVol1m, zVol, i)
		putShifted(values, domain.FeatureTradeRate, tradeRate, i)
		putShifted(values, domain.FeatureImbalance, imbalance, i)
		putShifted(values, domain.FeatureBBWidth, bbWidth, i)
		putShifted(values, domain.FeatureDonWidth, donWidth, i)
		putShifted(values, domain.FeatureVoV1m, vov, i)
		putShifted(values, domain.FeatureACF1Ret, acf1, i)
		putShifted(values, domain.FeatureBMShareEWM, bmShareEWM, i)

		// Seasonality is a clock function; no shift.
		ts := time.UnixMilli(b.TimestampMs).UTC()
		hod := float64(ts.Hour()) + float64(ts.Minute())/60.0
		values[domain.FeatureSeasonSin] = math.Sin(2 * math.Pi * hod / 24.0)
		values[domain.FeatureSeasonCos] = math.Cos(2 * math.Pi * hod / 24.0)

		rows[i] = &domain.FeatureRow{
			Symbol:      symbol,
			TimestampMs: b.TimestampMs,
			Values:      values,
		}
	}
	return rows
}

// perMinuteFlow fills rv, tradeRate and imbalance in place from the 1s bars
// and returns the buyer-maker share series (0.5 where the minute is empty).
func perMinuteFlow(bars1s []*domain.Bar, minuteIdx map[int64]int, rv, tradeRate, imbalance []float64, n int) []float64 {
	trades := make([]float64, n)
	imbSum := make([]float64, n)
	bmCount := make([]float64, n)
	tickCount := make([]float64, n)
	rvSum := make([]float64, n)
	hasSecond := make([]bool, n)

	var prevClose float64
	havePrev := false
	for _, s := range bars1s {
		minute := (s.TimestampMs / domain.MinuteMs) * domain.MinuteMs
		i, ok := minuteIdx[minute]
		if !ok {
			// 1s bar outside the 1m grid; still advances the return chain.
			if s.Close > 0 {
				prevClose = s.Close
				havePrev = true
			}
			continue
		}
		hasSecond[i] = true

		// Squared 1s log-return, chained across gaps like the tick stream.
		if havePrev && s.Close > 0 && prevClose > 0 {
			r := math.Log(s.Close) - math.Log(prevClose)
			rvSum[i] += r * r
		}
		if s.Close > 0 {
			prevClose = s.Close
			havePrev = true
		}

		trades[i] += float64(s.TradeCount)
		tickCount[i] += float64(s.TradeCount)
		bmCount[i] += float64(s.BuyerMakerCount)

		// Signed quantity with buyer-maker flow positive.
		buyerMakerVol := s.Volume - s.BuyVolume
		signed := buyerMakerVol - s.BuyVolume
		imb := signed / (s.Volume + tinyDenominator)
		if imb > 1 {
			imb = 1
		} else if imb < -1 {
			imb = -1
		}
		imbSum[i] += imb
	}

	share := make([]float64, n)
	const secondsPerMinute = 60.0
	for i := 0; i < n; i++ {
		if hasSecond[i] {
			rv[i] = rvSum[i]
			tradeRate[i] = trades[i] / secondsPerMinute
			imbalance[i] = imbSum[i] / secondsPerMinute
		}
		if tickCount[i] > 0 {
			share[i] = bmCount[i] / tickCount[i]
		} else {
			share[i] = 0.5
		}
	}
	return share
}

// putShifted writes series[i-1] into the row when defined: the one-minute
// causal shift.
func putShifted(values map[domain.FeatureName]float64, f domain.FeatureName, series []float64, i int) {
	if i == 0 {
		return
	}
	v := series[i-1]
	if math.IsNaN(v) {
		return
	}
	values[f] = v
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func logReturns(close []float64) []float64 {
	out := nanSlice(len(close))
	for i := 1; i < len(close); i++ {
		if close[i] > 0 && close[i-1] > 0 {
			out[i] = math.Log(close[i]) - math.Log(close[i-1])
		}
	}
	return out
}

// rollingMeanStd computes sample mean and std over the non-NaN values in the
// window ending at i (inclusive), returning how many values it saw.
func rollingMeanStd(x []float64, i, window int) (mean, std float64, count int) {
	lo := i - window + 1
	if lo < 0 {
		lo = 0
	}
	vals := make([]float64, 0, i-lo+1)
	for j := lo; j <= i; j++ {
		if !math.IsNaN(x[j]) {
			vals = append(vals, x[j])
		}
	}
	if len(vals) < 2 {
		return math.NaN(), math.NaN(), len(vals)
	}
	return stat.Mean(vals, nil), stat.StdDev(vals, nil), len(vals)
}

func rollingMax(x []float64, i, window int) float64 {
	lo := i - window + 1
	out := x[lo]
	for j := lo + 1; j <= i; j++ {
		if x[j] > out {
			out = x[j]
		}
	}
	return out
}

func rollingMin(x []float64, i, window int) float64 {
	lo := i - window + 1
	out := x[lo]
	for j := lo + 1; j <= i; j++ {
		if x[j] < out {
			out = x[j]
		}
	}
	return out
}

// rollingStdSeries returns the rolling sample std requiring a full window of
// defined values.
func rollingStdSeries(x []float64, window int) []float64 {
	out := nanSlice(len(x))
	for i := window - 1; i < len(x); i++ {
		vals := make([]float64, 0, window)
		ok := true
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(x[j]) {
				ok = false
				break
			}
			vals = append(vals, x[j])
		}
		if ok {
			out[i] = stat.StdDev(vals, nil)
		}
	}
	return out
}

// windowACF1 returns the lag-1 autocorrelation of the window ending at i,
// NaN unless the window is fully defined.
func windowACF1(x []float64, i, window int) float64 {
	if i+1 < window {
		return math.NaN()
	}
	lo := i - window + 1
	for j := lo; j <= i; j++ {
		if math.IsNaN(x[j]) {
			return math.NaN()
		}
	}
	// Pairs (x[t], x[t-1]) within the window.
	cur := x[lo+1 : i+1]
	lagged := x[lo:i]
	return stat.Correlation(cur, lagged, nil)
}

// emaSeries applies an exponential moving average with alpha = 2/(span+1),
// seeded with the first value.
func emaSeries(x []float64, span int) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	if span <= 1 {
		copy(out, x)
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = out[i-1] + alpha*(x[i]-out[i-1])
	}
	return out
}
