package domain

import "fmt"

// RegimeState is the macro market state assigned to a 4h bar.
type RegimeState string

// Regime state constants.
const (
	RegimeBull  RegimeState = "bull"
	RegimeBear  RegimeState = "bear"
	RegimeRange RegimeState = "range"
)

// VolBucket classifies realized volatility by rolling rank.
type VolBucket string

// Volatility bucket constants.
const (
	VolLow  VolBucket = "low"
	VolMid  VolBucket = "mid"
	VolHigh VolBucket = "high"
)

// RegimePoint is the detector output for one macro bar.
// Corresponds to regime_points rows.
type RegimePoint struct {
	Symbol      string      // trading symbol
	TimestampMs int64       // macro bar open time (ms)
	State       RegimeState // bull | bear | range
	Slope       float64     // OLS slope of log close over the slope window
	R2          float64     // R-squared of the slope fit
	Vol         float64     // rolling realized volatility
	VolBucket   VolBucket   // low | mid | high by rolling rank
}

// FlipEvent represents a macro regime transition. Ground truth for the
// study: the statistical engines treat flips as given.
// Corresponds to flip_events table in PostgreSQL.
type FlipEvent struct {
	Symbol      string      // trading symbol
	TimestampMs int64       // transition time (ms), the first bar in the new state
	FromState   RegimeState // state before the flip
	ToState     RegimeState // state after the flip
}

// Direction renders the transition as "from->to".
func (f *FlipEvent) Direction() string {
	return fmt.Sprintf("%s->%s", f.FromState, f.ToState)
}
