package stub

import (
	"context"
	"sync"

	"regime-precursor-lab/internal/domain"
)

// StubTickSource returns fixed in-memory ticks for testing.
// Ticks can be intentionally unordered to test sorting.
// Implements ingestion.TickSource interface.
type StubTickSource struct {
	ticks []*domain.Tick

	// Calls counts Fetch invocations, useful for chunking assertions.
	Calls int

	// Err, when set, is returned by Fetch instead of ticks.
	Err error
}

// NewStubTickSource creates a new stub tick source with the given ticks.
func NewStubTickSource(ticks []*domain.Tick) *StubTickSource {
	return &StubTickSource{ticks: ticks}
}

// Fetch returns ticks matching the symbol and time range.
// Returns copies to prevent mutation.
func (s *StubTickSource) Fetch(_ context.Context, symbol string, from, to int64) ([]*domain.Tick, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}

	var result []*domain.Tick
	for _, tick := range s.ticks {
		if tick.Symbol == symbol && tick.TimestampMs >= from && tick.TimestampMs <= to {
			copy := *tick
			result = append(result, &copy)
		}
	}
	return result, nil
}

// StubTickStream returns controllable per-symbol tick channels for testing.
// Implements ingestion.TickStreamSource interface.
type StubTickStream struct {
	mu   sync.Mutex
	subs map[string]chan *domain.Tick
}

// NewStubTickStream creates a new stub tick stream.
func NewStubTickStream() *StubTickStream {
	return &StubTickStream{
		subs: make(map[string]chan *domain.Tick),
	}
}

// channel returns the symbol's channel, creating it on first use so
// Send works regardless of whether Subscribe ran first.
func (s *StubTickStream) channel(symbol string) chan *domain.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.subs[symbol]
	if !ok {
		ch = make(chan *domain.Tick, 100)
		s.subs[symbol] = ch
	}
	return ch
}

// Subscribe returns a channel the test can feed through Send.
func (s *StubTickStream) Subscribe(_ context.Context, symbol string) (<-chan *domain.Tick, error) {
	return s.channel(symbol), nil
}

// Send delivers a tick to the subscriber for its symbol.
func (s *StubTickStream) Send(tick *domain.Tick) {
	s.channel(tick.Symbol) <- tick
}

// Close closes all subscriber channels.
func (s *StubTickStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, ch := range s.subs {
		close(ch)
		delete(s.subs, symbol)
	}
}
