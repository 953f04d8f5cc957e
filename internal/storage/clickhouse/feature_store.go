package clickhouse

import (
	"context"
	"fmt"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// FeatureStore implements storage.FeatureStore using ClickHouse.
// The Values map is stored as a Map(String, Float64) column: absent keys
// round-trip as absent, so an undefined feature never becomes a zero.
type FeatureStore struct {
	conn *Conn
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// InsertBulk adds multiple rows. Fails entire batch on duplicate (symbol, timestamp_ms).
func (s *FeatureStore) InsertBulk(ctx context.Context, featureRows []*domain.FeatureRow) error {
	if len(featureRows) == 0 {
		return nil
	}

	type key struct {
		symbol      string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(featureRows))
	minTs := make(map[string]int64)
	maxTs := make(map[string]int64)

	for _, r := range featureRows {
		if r == nil || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
		k := key{r.Symbol, r.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		if lo, ok := minTs[r.Symbol]; !ok || r.TimestampMs < lo {
			minTs[r.Symbol] = r.TimestampMs
		}
		if hi, ok := maxTs[r.Symbol]; !ok || r.TimestampMs > hi {
			maxTs[r.Symbol] = r.TimestampMs
		}
	}

	// MergeTree does not enforce uniqueness, so check against existing rows
	existsQuery := `
		SELECT timestamp_ms FROM feature_rows
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
	`
	for symbol := range minTs {
		rows, err := s.conn.Query(ctx, existsQuery, symbol, uint64(minTs[symbol]), uint64(maxTs[symbol]))
		if err != nil {
			return fmt.Errorf("check existing feature rows: %w", err)
		}
		for rows.Next() {
			var ts uint64
			if err := rows.Scan(&ts); err != nil {
				rows.Close()
				return fmt.Errorf("scan existing feature timestamp: %w", err)
			}
			if _, dup := seen[key{symbol, int64(ts)}]; dup {
				rows.Close()
				return storage.ErrDuplicateKey
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate existing feature rows: %w", err)
		}
		rows.Close()
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO feature_rows (symbol, timestamp_ms, features)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range featureRows {
		err = batch.Append(r.Symbol, uint64(r.TimestampMs), toFeatureMap(r.Values))
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySymbol retrieves all rows for a symbol, ordered by timestamp ASC.
func (s *FeatureStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.FeatureRow, error) {
	query := `
		SELECT symbol, timestamp_ms, features
		FROM feature_rows
		WHERE symbol = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query feature rows by symbol: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// GetByTimeRange retrieves rows within [start, end] (inclusive), ordered by timestamp ASC.
func (s *FeatureStore) GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.FeatureRow, error) {
	query := `
		SELECT symbol, timestamp_ms, features
		FROM feature_rows
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query feature rows by time range: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// toFeatureMap converts the typed feature map to the driver's column type.
func toFeatureMap(values map[domain.FeatureName]float64) map[string]float64 {
	m := make(map[string]float64, len(values))
	for k, v := range values {
		m[string(k)] = v
	}
	return m
}

// scanFeatureRows scans multiple rows into a slice of FeatureRow.
func scanFeatureRows(rows chRows) ([]*domain.FeatureRow, error) {
	var result []*domain.FeatureRow

	for rows.Next() {
		var r domain.FeatureRow
		var timestampMs uint64
		var features map[string]float64

		err := rows.Scan(&r.Symbol, &timestampMs, &features)
		if err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}

		r.TimestampMs = int64(timestampMs)
		r.Values = make(map[domain.FeatureName]float64, len(features))
		for k, v := range features {
			r.Values[domain.FeatureName(k)] = v
		}
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature rows: %w", err)
	}

	return result, nil
}
