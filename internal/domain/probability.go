package domain

// ProbabilityPoint is one minute of the flip-probability stream.
// Series must be strictly time-ordered with no duplicate timestamps;
// a regression is a fatal validation error, never silently resorted.
// Corresponds to probability_points table in ClickHouse.
type ProbabilityPoint struct {
	RunID       string  // producing run (empty for live streams)
	Symbol      string  // trading symbol
	TimestampMs int64   // minute-aligned (ms)
	P           float64 // probability of flip within the horizon, in [0, 1]
}
