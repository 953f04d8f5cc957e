package domain

// Bar represents an OHLCV bar aggregated from ticks.
// Corresponds to bars table in ClickHouse.
type Bar struct {
	Symbol          string  // trading symbol
	TimestampMs     int64   // bar open time, aligned to IntervalSec (ms)
	IntervalSec     int     // bar interval: 1, 60, 14400
	Open            float64 // first trade price in interval
	High            float64 // highest trade price in interval
	Low             float64 // lowest trade price in interval
	Close           float64 // last trade price in interval
	Volume          float64 // total traded quantity
	TradeCount      int     // number of ticks aggregated
	BuyVolume       float64 // taker-buy quantity (is_buyer_maker = false)
	BuyerMakerCount int     // ticks with is_buyer_maker = true
}

// Supported bar intervals (in seconds)
const (
	BarInterval1s = 1
	BarInterval1m = 60
	BarInterval4h = 14400
)

// MinuteMs is one minute in milliseconds, the canonical grid step.
const MinuteMs int64 = 60_000

// DayMs is one day in milliseconds.
const DayMs int64 = 86_400_000
