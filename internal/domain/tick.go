package domain

// Tick represents a single trade from the exchange feed.
// Immutable once ingested. Corresponds to raw tick input (CSV or stream).
type Tick struct {
	Symbol       string  // trading symbol, e.g. "BTCUSDT"
	TimestampMs  int64   // Unix timestamp in milliseconds, non-decreasing within a symbol
	Price        float64 // trade price, > 0
	Quantity     float64 // trade quantity, > 0
	IsBuyerMaker *bool   // true if the buyer was the maker (nullable)
}
