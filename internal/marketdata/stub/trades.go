package stub

import (
	"context"
	"errors"
	"sync"

	"regime-precursor-lab/internal/marketdata"
)

// TradeFetcher implements marketdata.TradeFetcher for testing.
type TradeFetcher struct {
	Trades map[string][]marketdata.Trade
	Err    error
	Calls  int
}

// NewTradeFetcher creates a new stub trade fetcher.
func NewTradeFetcher() *TradeFetcher {
	return &TradeFetcher{
		Trades: make(map[string][]marketdata.Trade),
	}
}

// AggTrades retrieves trades for a symbol from the stub store, applying the
// same query semantics as the live client: FromID wins over the time range.
func (f *TradeFetcher) AggTrades(_ context.Context, symbol string, q marketdata.AggTradesQuery) ([]marketdata.Trade, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}

	var out []marketdata.Trade
	for _, t := range f.Trades[symbol] {
		if q.FromID > 0 {
			if t.AggID < q.FromID {
				continue
			}
		} else {
			if q.StartMs > 0 && t.TimestampMs < q.StartMs {
				continue
			}
			if q.EndMs > 0 && t.TimestampMs > q.EndMs {
				continue
			}
		}
		out = append(out, t)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// AddTrades adds trades for a symbol to the stub store.
func (f *TradeFetcher) AddTrades(symbol string, trades []marketdata.Trade) {
	f.Trades[symbol] = append(f.Trades[symbol], trades...)
}

// TradeStream implements marketdata.TradeStream for testing.
type TradeStream struct {
	mu     sync.Mutex
	subs   map[string]chan marketdata.Trade
	closed bool
}

// NewTradeStream creates a new stub trade stream.
func NewTradeStream() *TradeStream {
	return &TradeStream{
		subs: make(map[string]chan marketdata.Trade),
	}
}

// SubscribeTrades returns a channel the test can feed through Push.
func (s *TradeStream) SubscribeTrades(_ context.Context, symbol string) (<-chan marketdata.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("client closed")
	}
	ch := make(chan marketdata.Trade, 100)
	s.subs[symbol] = ch
	return ch, nil
}

// Push delivers a trade to the subscriber for its symbol.
func (s *TradeStream) Push(symbol string, t marketdata.Trade) {
	s.mu.Lock()
	ch, ok := s.subs[symbol]
	s.mu.Unlock()
	if ok {
		ch <- t
	}
}

// Close closes all subscriber channels.
func (s *TradeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sym, ch := range s.subs {
		close(ch)
		delete(s.subs, sym)
	}
	return nil
}

var (
	_ marketdata.TradeFetcher = (*TradeFetcher)(nil)
	_ marketdata.TradeStream  = (*TradeStream)(nil)
)
