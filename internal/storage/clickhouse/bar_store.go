package clickhouse

import (
	"context"
	"fmt"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// barKey identifies a bar by its unique columns.
type barKey struct {
	symbol      string
	intervalSec int
	timestampMs int64
}

// InsertBulk adds multiple bars. Fails entire batch on duplicate
// (symbol, interval_sec, timestamp_ms).
func (s *BarStore) InsertBulk(ctx context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[barKey]struct{}, len(bars))
	for _, b := range bars {
		if b == nil || b.Symbol == "" || b.IntervalSec <= 0 {
			return storage.ErrInvalidInput
		}
		k := barKey{b.Symbol, b.IntervalSec, b.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree does not enforce uniqueness, so check against existing
	// rows before writing. One range query per (symbol, interval) in the
	// batch instead of one lookup per bar.
	if err := s.checkExisting(ctx, bars, seen); err != nil {
		return err
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (
			symbol, interval_sec, timestamp_ms,
			open, high, low, close,
			volume, trade_count, buy_volume, buyer_maker_count
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		err = batch.Append(
			b.Symbol, uint32(b.IntervalSec), uint64(b.TimestampMs),
			b.Open, b.High, b.Low, b.Close,
			b.Volume, uint32(b.TradeCount), b.BuyVolume, uint32(b.BuyerMakerCount),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// checkExisting returns ErrDuplicateKey when any bar in the batch is
// already stored.
func (s *BarStore) checkExisting(ctx context.Context, bars []*domain.Bar, keys map[barKey]struct{}) error {
	type group struct{ minTs, maxTs int64 }
	type groupKey struct {
		symbol      string
		intervalSec int
	}

	groups := make(map[groupKey]group)
	for _, b := range bars {
		gk := groupKey{b.Symbol, b.IntervalSec}
		g, ok := groups[gk]
		if !ok {
			groups[gk] = group{minTs: b.TimestampMs, maxTs: b.TimestampMs}
			continue
		}
		if b.TimestampMs < g.minTs {
			g.minTs = b.TimestampMs
		}
		if b.TimestampMs > g.maxTs {
			g.maxTs = b.TimestampMs
		}
		groups[gk] = g
	}

	query := `
		SELECT timestamp_ms FROM bars
		WHERE symbol = ? AND interval_sec = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
	`

	for gk, g := range groups {
		rows, err := s.conn.Query(ctx, query, gk.symbol, uint32(gk.intervalSec), uint64(g.minTs), uint64(g.maxTs))
		if err != nil {
			return fmt.Errorf("check existing bars: %w", err)
		}

		for rows.Next() {
			var ts uint64
			if err := rows.Scan(&ts); err != nil {
				rows.Close()
				return fmt.Errorf("scan existing bar timestamp: %w", err)
			}
			if _, dup := keys[barKey{gk.symbol, gk.intervalSec, int64(ts)}]; dup {
				rows.Close()
				return storage.ErrDuplicateKey
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate existing bars: %w", err)
		}
		rows.Close()
	}

	return nil
}

// GetBySymbol retrieves all bars for a symbol at one interval, ordered by timestamp ASC.
func (s *BarStore) GetBySymbol(ctx context.Context, symbol string, intervalSec int) ([]*domain.Bar, error) {
	query := `
		SELECT symbol, interval_sec, timestamp_ms,
		       open, high, low, close,
		       volume, trade_count, buy_volume, buyer_maker_count
		FROM bars
		WHERE symbol = ? AND interval_sec = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, uint32(intervalSec))
	if err != nil {
		return nil, fmt.Errorf("query bars by symbol: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetByTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
func (s *BarStore) GetByTimeRange(ctx context.Context, symbol string, intervalSec int, start, end int64) ([]*domain.Bar, error) {
	query := `
		SELECT symbol, interval_sec, timestamp_ms,
		       open, high, low, close,
		       volume, trade_count, buy_volume, buyer_maker_count
		FROM bars
		WHERE symbol = ? AND interval_sec = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, uint32(intervalSec), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query bars by time range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// scanBars scans multiple rows into a slice of Bar.
func scanBars(rows chRows) ([]*domain.Bar, error) {
	var bars []*domain.Bar

	for rows.Next() {
		var b domain.Bar
		var intervalSec, tradeCount, buyerMakerCount uint32
		var timestampMs uint64

		err := rows.Scan(
			&b.Symbol, &intervalSec, &timestampMs,
			&b.Open, &b.High, &b.Low, &b.Close,
			&b.Volume, &tradeCount, &b.BuyVolume, &buyerMakerCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}

		b.IntervalSec = int(intervalSec)
		b.TimestampMs = int64(timestampMs)
		b.TradeCount = int(tradeCount)
		b.BuyerMakerCount = int(buyerMakerCount)
		bars = append(bars, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}

	return bars, nil
}
