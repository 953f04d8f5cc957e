package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// Backfiller handles historical data ingestion in day-sized chunks.
// Chunks whose bars already exist are skipped, so an interrupted
// backfill can be rerun from the start and resumes where it stopped.
type Backfiller struct {
	manager  *Manager
	barStore storage.BarStore
	chunkMs  int64
	logger   *log.Logger
}

// BackfillOptions contains configuration for creating a Backfiller.
type BackfillOptions struct {
	Manager  *Manager
	BarStore storage.BarStore
	ChunkMs  int64 // Default: one day
	Logger   *log.Logger
}

// NewBackfiller creates a new historical data backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	chunkMs := opts.ChunkMs
	if chunkMs == 0 {
		chunkMs = domain.DayMs
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Backfiller{
		manager:  opts.Manager,
		barStore: opts.BarStore,
		chunkMs:  chunkMs,
		logger:   logger,
	}
}

// BackfillResult contains statistics from a backfill operation.
type BackfillResult struct {
	TicksIngested     int
	BarsWritten       int
	DuplicatesSkipped int // Chunks skipped because their bars already exist
	Errors            int
	Duration          time.Duration
}

// BackfillSince backfills data from a given timestamp until now.
func (b *Backfiller) BackfillSince(ctx context.Context, symbol string, since time.Time) (*BackfillResult, error) {
	return b.BackfillRange(ctx, symbol, since, time.Now())
}

// BackfillRange backfills one symbol across a specific time range.
func (b *Backfiller) BackfillRange(ctx context.Context, symbol string, from, to time.Time) (*BackfillResult, error) {
	start := time.Now()
	result := &BackfillResult{}

	fromMs := from.UnixMilli()
	toMs := to.UnixMilli()

	b.logger.Printf("Starting backfill for %s from %s to %s",
		symbol, from.Format(time.RFC3339), to.Format(time.RFC3339))

	for chunkStart := fromMs; chunkStart <= toMs; chunkStart += b.chunkMs {
		chunkEnd := chunkStart + b.chunkMs - 1
		if chunkEnd > toMs {
			chunkEnd = toMs
		}

		res, err := b.manager.IngestTicks(ctx, symbol, chunkStart, chunkEnd)
		if err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				result.DuplicatesSkipped++
				b.logger.Printf("Chunk %d..%d already ingested, skipping", chunkStart, chunkEnd)
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			result.Errors++
			b.logger.Printf("Error ingesting chunk %d..%d: %v", chunkStart, chunkEnd, err)
			continue
		}

		result.TicksIngested += res.Ticks
		result.BarsWritten += res.Bars1s + res.Bars1m
	}

	result.Duration = time.Since(start)
	b.logger.Printf("Backfill complete for %s: %d ticks, %d bars, %d chunks skipped, %d errors in %v",
		symbol, result.TicksIngested, result.BarsWritten, result.DuplicatesSkipped,
		result.Errors, result.Duration)

	return result, nil
}

// Resume continues a backfill from the minute after the last stored 1m
// bar, or from 24 hours ago when the store holds nothing for the symbol.
func (b *Backfiller) Resume(ctx context.Context, symbol string) (*BackfillResult, error) {
	since := time.Now().Add(-24 * time.Hour)

	if b.barStore != nil {
		bars, err := b.barStore.GetBySymbol(ctx, symbol, domain.BarInterval1m)
		if err != nil {
			return nil, fmt.Errorf("load last bar: %w", err)
		}
		if len(bars) > 0 {
			last := bars[len(bars)-1].TimestampMs
			since = time.UnixMilli(last + domain.MinuteMs)
		}
	}

	return b.BackfillSince(ctx, symbol, since)
}
