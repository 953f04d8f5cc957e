package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/normalization"
)

// CSVTickSource loads ticks from CSV files matched by glob patterns.
// Files carry timestamp, price and qty columns plus an optional
// is_buyer_maker column; they carry no symbol, so every row is stamped
// with the symbol passed to Fetch.
type CSVTickSource struct {
	patterns []string
}

// NewCSVTickSource creates a source over one or more glob patterns.
func NewCSVTickSource(patterns ...string) *CSVTickSource {
	return &CSVTickSource{patterns: patterns}
}

// Fetch loads every matched file, keeps rows within [from, to] and
// returns ticks sorted by timestamp. A matched file missing a required
// column fails the whole fetch so bad exports cannot silently thin out
// a study's input.
func (s *CSVTickSource) Fetch(ctx context.Context, symbol string, from, to int64) ([]*domain.Tick, error) {
	var files []string
	for _, pattern := range s.patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var ticks []*domain.Tick
	for _, file := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		fileTicks, err := s.loadFile(file, symbol)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, fileTicks...)
	}

	// Drop rows outside the requested range
	filtered := ticks[:0]
	for _, t := range ticks {
		if t.TimestampMs >= from && t.TimestampMs <= to {
			filtered = append(filtered, t)
		}
	}

	normalization.SortTicks(filtered)
	return filtered, nil
}

// loadFile parses a single CSV file into ticks.
func (s *CSVTickSource) loadFile(path, symbol string) ([]*domain.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	tsCol, ok := cols["timestamp"]
	if !ok {
		return nil, fmt.Errorf("%s: missing required column timestamp", path)
	}
	priceCol, ok := cols["price"]
	if !ok {
		return nil, fmt.Errorf("%s: missing required column price", path)
	}
	qtyCol, ok := cols["qty"]
	if !ok {
		return nil, fmt.Errorf("%s: missing required column qty", path)
	}
	makerCol, hasMaker := cols["is_buyer_maker"]

	var ticks []*domain.Tick
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("parse %s: line %d: %w", path, line, err)
		}

		ts, err := parseTimestamp(record[tsCol])
		if err != nil {
			return nil, fmt.Errorf("parse %s: line %d: %w", path, line, err)
		}

		price, err := strconv.ParseFloat(strings.TrimSpace(record[priceCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: line %d: price: %w", path, line, err)
		}

		qty, err := strconv.ParseFloat(strings.TrimSpace(record[qtyCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: line %d: qty: %w", path, line, err)
		}

		tick := &domain.Tick{
			Symbol:      symbol,
			TimestampMs: ts,
			Price:       price,
			Quantity:    qty,
		}

		if hasMaker {
			raw := strings.TrimSpace(record[makerCol])
			if raw != "" {
				m, err := strconv.ParseBool(raw)
				if err != nil {
					return nil, fmt.Errorf("parse %s: line %d: is_buyer_maker: %w", path, line, err)
				}
				tick.IsBuyerMaker = &m
			}
		}

		ticks = append(ticks, tick)
	}

	return ticks, nil
}

// parseTimestamp accepts an epoch number with the unit inferred from its
// magnitude (seconds through nanoseconds) or an RFC3339 string, and
// returns milliseconds.
func parseTimestamp(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)

	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		switch {
		case v > 1e16: // nanoseconds
			return int64(v / 1e6), nil
		case v > 1e13: // microseconds
			return int64(v / 1e3), nil
		case v > 1e10: // milliseconds
			return int64(v), nil
		default: // seconds
			return int64(v * 1000), nil
		}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("unrecognized timestamp %q", raw)
	}
	return t.UnixMilli(), nil
}

var _ TickSource = (*CSVTickSource)(nil)
