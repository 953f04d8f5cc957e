package marketdata

import (
	"context"

	"regime-precursor-lab/internal/domain"
)

// Trade is one aggregate trade from the exchange feed.
type Trade struct {
	Symbol       string
	AggID        int64 // exchange aggregate trade id, unique per symbol
	Price        float64
	Quantity     float64
	TimestampMs  int64 // trade time (ms)
	IsBuyerMaker bool
}

// Tick converts the trade into the canonical ingestion record.
// Exchange feeds always carry the buyer-maker flag, so it is never nil here.
func (t *Trade) Tick() *domain.Tick {
	m := t.IsBuyerMaker
	return &domain.Tick{
		Symbol:       t.Symbol,
		TimestampMs:  t.TimestampMs,
		Price:        t.Price,
		Quantity:     t.Quantity,
		IsBuyerMaker: &m,
	}
}

// AggTradesQuery defines optional parameters for AggTrades.
// FromID takes precedence over the time window when set.
type AggTradesQuery struct {
	FromID  int64 // resume from this aggregate trade id (exclusive of earlier ids)
	StartMs int64 // window start (ms), used when FromID is zero
	EndMs   int64 // window end (ms), used when FromID is zero
	Limit   int   // maximum trades per page
}

// TradeFetcher defines the historical trade interface.
type TradeFetcher interface {
	// AggTrades returns one page of aggregate trades for a symbol,
	// ordered by aggregate trade id ASC.
	AggTrades(ctx context.Context, symbol string, q AggTradesQuery) ([]Trade, error)
}

// TradeStream defines the live trade subscription interface.
type TradeStream interface {
	// SubscribeTrades subscribes to the aggregate trade stream for a symbol.
	SubscribeTrades(ctx context.Context, symbol string) (<-chan Trade, error)

	// Close closes the stream connection.
	Close() error
}
