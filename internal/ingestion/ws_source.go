package ingestion

import (
	"context"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/marketdata"
)

// WSTickSource adapts a live exchange trade stream into a tick stream.
type WSTickSource struct {
	stream marketdata.TradeStream
}

// NewWSTickSource creates a source over a trade stream.
func NewWSTickSource(stream marketdata.TradeStream) *WSTickSource {
	return &WSTickSource{stream: stream}
}

// Subscribe converts the trade channel for a symbol into a tick channel.
// The returned channel closes when the underlying stream closes or the
// context is cancelled.
func (s *WSTickSource) Subscribe(ctx context.Context, symbol string) (<-chan *domain.Tick, error) {
	trades, err := s.stream.SubscribeTrades(ctx, symbol)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.Tick, 100)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case trade, ok := <-trades:
				if !ok {
					return
				}
				select {
				case out <- trade.Tick():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

var _ TickStreamSource = (*WSTickSource)(nil)
