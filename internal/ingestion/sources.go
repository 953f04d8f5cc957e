package ingestion

import (
	"context"

	"regime-precursor-lab/internal/domain"
)

// TickSource provides raw trade ticks from external sources.
type TickSource interface {
	// Fetch returns ticks for a symbol within time range [from, to] (inclusive).
	// Ticks may be unordered; Manager enforces deterministic ordering.
	Fetch(ctx context.Context, symbol string, from, to int64) ([]*domain.Tick, error)
}

// TickStreamSource provides a live stream of trade ticks.
type TickStreamSource interface {
	// Subscribe returns a channel of ticks for a symbol. The channel is
	// closed when the underlying connection closes.
	Subscribe(ctx context.Context, symbol string) (<-chan *domain.Tick, error)
}
