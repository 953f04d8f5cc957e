package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/normalization"
	"regime-precursor-lab/internal/storage"
)

// Runner orchestrates continuous live ingestion.
// Ticks are buffered per minute bucket for deterministic ordering and a
// bucket is aggregated and persisted once the event clock moves past its
// end plus a lag window. Bars are immutable once written, so ticks that
// arrive after their minute was finalized are dropped and counted.
type Runner struct {
	streamSource  TickStreamSource
	barStore      storage.BarStore
	symbols       []string
	lagMs         int64         // Event-clock lag before a minute is considered complete
	flushInterval time.Duration // Interval for periodic buffer flush
	logger        *log.Logger

	// Minute-bucket buffers keyed by symbol, then bucket start (ms)
	buffers   map[string]map[int64][]*domain.Tick
	finalized map[string]int64 // Highest finalized bucket start per symbol
	clockMs   int64            // Event clock: highest tick timestamp seen

	statsMu sync.Mutex
	stats   RunnerStats
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	StreamSource  TickStreamSource
	BarStore      storage.BarStore
	Symbols       []string
	LagMs         int64         // Default: 5000 - wait this long past a minute end before finalizing
	FlushInterval time.Duration // Default: 5s - re-check finalizable minutes periodically
	Logger        *log.Logger
}

// RunnerStats contains current runner counters.
type RunnerStats struct {
	TicksBuffered int64
	BarsWritten   int64
	LateTicks     int64
	DuplicateBars int64
}

// NewRunner creates a new live ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	lagMs := opts.LagMs
	if lagMs == 0 {
		lagMs = 5000 // Wait 5 seconds past a minute end for stragglers
	}

	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		streamSource:  opts.StreamSource,
		barStore:      opts.BarStore,
		symbols:       opts.Symbols,
		lagMs:         lagMs,
		flushInterval: flushInterval,
		logger:        logger,
		buffers:       make(map[string]map[int64][]*domain.Tick),
		finalized:     make(map[string]int64),
	}
}

// Run starts continuous ingestion for all configured symbols.
// It blocks until context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Println("Starting ingestion runner...")

	if r.streamSource == nil || r.barStore == nil {
		return errors.New("runner requires a stream source and a bar store")
	}
	if len(r.symbols) == 0 {
		return errors.New("runner requires at least one symbol")
	}

	// Merge per-symbol subscriptions into one channel so the loop below
	// stays single-threaded over the buffers.
	merged := make(chan *domain.Tick, 1000)
	var wg sync.WaitGroup
	for _, symbol := range r.symbols {
		ch, err := r.streamSource.Subscribe(ctx, symbol)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
		r.logger.Printf("Subscribed to %s trades", symbol)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for tick := range ch {
				select {
				case merged <- tick:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	// Periodic flush ticker so buffered minutes are finalized even when
	// no new ticks arrive to advance the event clock
	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	r.logger.Printf("Runner started, symbols: %v, lag: %dms, flush interval: %v", r.symbols, r.lagMs, r.flushInterval)

	for {
		select {
		case <-ctx.Done():
			// Flush all remaining buckets before shutdown
			r.flushAll(ctx)
			r.logger.Println("Runner stopping...")
			return ctx.Err()

		case tick, ok := <-merged:
			if !ok {
				// Cancellation also closes the merged channel, so the
				// two shutdown paths race; report cancellation first
				r.flushAll(ctx)
				if ctx.Err() != nil {
					r.logger.Println("Runner stopping...")
					return ctx.Err()
				}
				r.logger.Println("Tick stream closed")
				return errors.New("tick stream closed")
			}
			r.bufferTick(ctx, tick)

		case <-flushTicker.C:
			r.processFinalized(ctx)
		}
	}
}

// bufferTick adds a tick to its minute bucket and finalizes aged buckets.
func (r *Runner) bufferTick(ctx context.Context, tick *domain.Tick) {
	bucket := tick.TimestampMs - tick.TimestampMs%domain.MinuteMs

	if last, ok := r.finalized[tick.Symbol]; ok && bucket <= last {
		// Bars for this minute are already written and cannot be amended
		r.statsMu.Lock()
		r.stats.LateTicks++
		r.statsMu.Unlock()
		r.logger.Printf("Dropping late tick for %s at %d (minute %d already finalized)",
			tick.Symbol, tick.TimestampMs, bucket)
		return
	}

	if r.buffers[tick.Symbol] == nil {
		r.buffers[tick.Symbol] = make(map[int64][]*domain.Tick)
	}
	r.buffers[tick.Symbol][bucket] = append(r.buffers[tick.Symbol][bucket], tick)

	r.statsMu.Lock()
	r.stats.TicksBuffered++
	r.statsMu.Unlock()

	if tick.TimestampMs > r.clockMs {
		r.clockMs = tick.TimestampMs
		r.processFinalized(ctx)
	}
}

// processFinalized persists every buffered minute whose end has aged
// past the lag window on the event clock.
func (r *Runner) processFinalized(ctx context.Context) {
	cutoff := r.clockMs - r.lagMs

	for symbol, buckets := range r.buffers {
		var ready []int64
		for bucket := range buckets {
			if bucket+domain.MinuteMs <= cutoff {
				ready = append(ready, bucket)
			}
		}

		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

		for _, bucket := range ready {
			r.processBucket(ctx, symbol, bucket)
		}
	}
}

// processBucket aggregates one symbol minute and persists its bars.
func (r *Runner) processBucket(ctx context.Context, symbol string, bucket int64) {
	ticks := r.buffers[symbol][bucket]
	delete(r.buffers[symbol], bucket)
	if len(ticks) == 0 {
		return
	}

	// Sort within the bucket: arrival order breaks timestamp ties
	normalization.SortTicks(ticks)

	bars1s := normalization.AggregateTicks(ticks, domain.BarInterval1s)
	bars1m := normalization.ResampleBars(bars1s, domain.BarInterval1m)

	r.persistBars(ctx, bars1s)
	r.persistBars(ctx, bars1m)

	if bucket > r.finalized[symbol] {
		r.finalized[symbol] = bucket
	}
}

// persistBars writes bars, tolerating duplicates from reconnect replays.
// A replayed minute reproduces identical bars, so a duplicate batch is
// counted and skipped rather than treated as an error.
func (r *Runner) persistBars(ctx context.Context, bars []*domain.Bar) {
	if len(bars) == 0 {
		return
	}

	if err := r.barStore.InsertBulk(ctx, bars); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			r.statsMu.Lock()
			r.stats.DuplicateBars += int64(len(bars))
			r.statsMu.Unlock()
			return
		}
		r.logger.Printf("Error storing bars: %v", err)
		return
	}

	r.statsMu.Lock()
	r.stats.BarsWritten += int64(len(bars))
	r.statsMu.Unlock()
}

// flushAll persists every buffered minute on shutdown regardless of lag.
func (r *Runner) flushAll(ctx context.Context) {
	for symbol, buckets := range r.buffers {
		var all []int64
		for bucket := range buckets {
			all = append(all, bucket)
		}

		sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

		for _, bucket := range all {
			r.processBucket(ctx, symbol, bucket)
		}
	}
}

// Stats returns a copy of the current runner counters.
func (r *Runner) Stats() RunnerStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}
