package clickhouse

import (
	"context"
	"fmt"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// ProbabilityStore implements storage.ProbabilityStore using ClickHouse.
type ProbabilityStore struct {
	conn *Conn
}

// NewProbabilityStore creates a new ProbabilityStore.
func NewProbabilityStore(conn *Conn) *ProbabilityStore {
	return &ProbabilityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ProbabilityStore = (*ProbabilityStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate
// (run_id, symbol, timestamp_ms).
func (s *ProbabilityStore) InsertBulk(ctx context.Context, points []*domain.ProbabilityPoint) error {
	if len(points) == 0 {
		return nil
	}

	type key struct {
		runID       string
		symbol      string
		timestampMs int64
	}
	type series struct {
		runID  string
		symbol string
	}
	type span struct{ minTs, maxTs int64 }

	seen := make(map[key]struct{}, len(points))
	spans := make(map[series]span)

	for _, p := range points {
		if p == nil || p.RunID == "" || p.Symbol == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.RunID, p.Symbol, p.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		sk := series{p.RunID, p.Symbol}
		sp, ok := spans[sk]
		if !ok {
			spans[sk] = span{minTs: p.TimestampMs, maxTs: p.TimestampMs}
			continue
		}
		if p.TimestampMs < sp.minTs {
			sp.minTs = p.TimestampMs
		}
		if p.TimestampMs > sp.maxTs {
			sp.maxTs = p.TimestampMs
		}
		spans[sk] = sp
	}

	// MergeTree does not enforce uniqueness, so check against existing rows
	existsQuery := `
		SELECT timestamp_ms FROM probability_points
		WHERE run_id = ? AND symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
	`
	for sk, sp := range spans {
		rows, err := s.conn.Query(ctx, existsQuery, sk.runID, sk.symbol, uint64(sp.minTs), uint64(sp.maxTs))
		if err != nil {
			return fmt.Errorf("check existing probability points: %w", err)
		}
		for rows.Next() {
			var ts uint64
			if err := rows.Scan(&ts); err != nil {
				rows.Close()
				return fmt.Errorf("scan existing probability timestamp: %w", err)
			}
			if _, dup := seen[key{sk.runID, sk.symbol, int64(ts)}]; dup {
				rows.Close()
				return storage.ErrDuplicateKey
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate existing probability points: %w", err)
		}
		rows.Close()
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO probability_points (run_id, symbol, timestamp_ms, p)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(p.RunID, p.Symbol, uint64(p.TimestampMs), p.P)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByRunID retrieves all points for a run and symbol, ordered by timestamp ASC.
func (s *ProbabilityStore) GetByRunID(ctx context.Context, runID, symbol string) ([]*domain.ProbabilityPoint, error) {
	query := `
		SELECT run_id, symbol, timestamp_ms, p
		FROM probability_points
		WHERE run_id = ? AND symbol = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, runID, symbol)
	if err != nil {
		return nil, fmt.Errorf("query probability points by run id: %w", err)
	}
	defer rows.Close()

	return scanProbabilityPoints(rows)
}

// scanProbabilityPoints scans multiple rows into a slice of ProbabilityPoint.
func scanProbabilityPoints(rows chRows) ([]*domain.ProbabilityPoint, error) {
	var points []*domain.ProbabilityPoint

	for rows.Next() {
		var p domain.ProbabilityPoint
		var timestampMs uint64

		err := rows.Scan(&p.RunID, &p.Symbol, &timestampMs, &p.P)
		if err != nil {
			return nil, fmt.Errorf("scan probability point row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate probability point rows: %w", err)
	}

	return points, nil
}
