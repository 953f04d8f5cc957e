package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"regime-precursor-lab/internal/domain"
)

// Errors returned during timeline construction and lookup.
var (
	ErrEmpty            = errors.New("timeline needs at least one row")
	ErrNonMonotonic     = errors.New("timestamps must be strictly increasing")
	ErrNotMinuteAligned = errors.New("timestamp is not minute-aligned")
	ErrUnknownColumn    = errors.New("feature not in resolved schema")
	ErrBlockCount       = errors.New("block count must be in [1, rows]")
)

// Block is a contiguous half-open row range [Lo, Hi).
type Block struct {
	Lo int
	Hi int
}

// Timeline is the immutable minute-grid index a study runs against: feature
// columns over a strictly increasing minute grid plus the flip events that
// anchor the event study. Construction validates; lookups never do.
//
// Missing feature values are held as NaN internally and reported through the
// (value, ok) accessors. A missing value is undefined, never zero.
type Timeline struct {
	symbol  string
	minutes []int64
	rowAt   map[int64]int
	schema  []domain.FeatureName
	columns map[domain.FeatureName][]float64
	flips   []domain.FlipEvent
}

// New builds a timeline from feature rows and flip events.
// Rows must arrive in strictly increasing minute-aligned order; anything else
// is a fatal input error, never silently re-sorted. The feature schema is
// resolved once from the rows and is closed: unknown feature names fail.
func New(symbol string, rows []domain.FeatureRow, flips []domain.FlipEvent) (*Timeline, error) {
	if len(rows) == 0 {
		return nil, ErrEmpty
	}

	tl := &Timeline{
		symbol:  symbol,
		minutes: make([]int64, len(rows)),
		rowAt:   make(map[int64]int, len(rows)),
		columns: make(map[domain.FeatureName][]float64),
	}

	seen := make(map[domain.FeatureName]bool)
	var prev int64
	for i, row := range rows {
		if row.TimestampMs%domain.MinuteMs != 0 {
			return nil, fmt.Errorf("%w: row %d at %d", ErrNotMinuteAligned, i, row.TimestampMs)
		}
		if i > 0 && row.TimestampMs <= prev {
			return nil, fmt.Errorf("%w: row %d at %d after %d", ErrNonMonotonic, i, row.TimestampMs, prev)
		}
		prev = row.TimestampMs
		tl.minutes[i] = row.TimestampMs
		tl.rowAt[row.TimestampMs] = i

		for name := range row.Values {
			if _, err := domain.ParseFeatureName(string(name)); err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			seen[name] = true
		}
	}

	// Schema in canonical feature order, restricted to observed columns.
	for _, name := range domain.AllFeatures {
		if seen[name] {
			tl.schema = append(tl.schema, name)
		}
	}

	for _, name := range tl.schema {
		col := make([]float64, len(rows))
		for i := range col {
			col[i] = math.NaN()
		}
		tl.columns[name] = col
	}
	for i, row := range rows {
		for name, v := range row.Values {
			tl.columns[name][i] = v
		}
	}

	prev = 0
	for i, flip := range flips {
		if flip.TimestampMs%domain.MinuteMs != 0 {
			return nil, fmt.Errorf("%w: flip %d at %d", ErrNotMinuteAligned, i, flip.TimestampMs)
		}
		if i > 0 && flip.TimestampMs <= prev {
			return nil, fmt.Errorf("%w: flip %d at %d after %d", ErrNonMonotonic, i, flip.TimestampMs, prev)
		}
		prev = flip.TimestampMs
	}
	tl.flips = flips

	return tl, nil
}

// Symbol returns the instrument the timeline describes.
func (tl *Timeline) Symbol() string { return tl.symbol }

// Len returns the number of minute rows.
func (tl *Timeline) Len() int { return len(tl.minutes) }

// MinuteAt returns the timestamp of row i.
func (tl *Timeline) MinuteAt(i int) int64 { return tl.minutes[i] }

// Minutes returns the minute grid. Callers must not modify it.
func (tl *Timeline) Minutes() []int64 { return tl.minutes }

// Schema returns the resolved feature columns in canonical order.
func (tl *Timeline) Schema() []domain.FeatureName {
	out := make([]domain.FeatureName, len(tl.schema))
	copy(out, tl.schema)
	return out
}

// HasColumn reports whether the schema includes f.
func (tl *Timeline) HasColumn(f domain.FeatureName) bool {
	_, ok := tl.columns[f]
	return ok
}

// Row returns the row index holding exactly ts.
func (tl *Timeline) Row(ts int64) (int, bool) {
	i, ok := tl.rowAt[ts]
	return i, ok
}

// AsOf returns the last row at or before ts, false if ts predates the grid.
func (tl *Timeline) AsOf(ts int64) (int, bool) {
	// First row after ts, then step back.
	i := sort.Search(len(tl.minutes), func(i int) bool { return tl.minutes[i] > ts })
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// Value returns feature f at exactly ts. ok is false when the row does not
// exist or the value is undefined there.
func (tl *Timeline) Value(f domain.FeatureName, ts int64) (float64, bool) {
	col, ok := tl.columns[f]
	if !ok {
		return 0, false
	}
	i, ok := tl.rowAt[ts]
	if !ok {
		return 0, false
	}
	v := col[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ValueAtLag returns feature f at eventTs + lagMin minutes (lag negative for
// pre-event alignment). Same undefined semantics as Value.
func (tl *Timeline) ValueAtLag(f domain.FeatureName, eventTs int64, lagMin int) (float64, bool) {
	return tl.Value(f, eventTs+int64(lagMin)*domain.MinuteMs)
}

// Column returns the raw column for f, NaN where undefined. Callers must not
// modify it.
func (tl *Timeline) Column(f domain.FeatureName) ([]float64, error) {
	col, ok := tl.columns[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, f)
	}
	return col, nil
}

// IndexRange returns the half-open row range [lo, hi) covering timestamps in
// [from, to).
func (tl *Timeline) IndexRange(from, to int64) (int, int) {
	lo := sort.Search(len(tl.minutes), func(i int) bool { return tl.minutes[i] >= from })
	hi := sort.Search(len(tl.minutes), func(i int) bool { return tl.minutes[i] >= to })
	return lo, hi
}

// Flips returns all flip events in timestamp order. Callers must not modify.
func (tl *Timeline) Flips() []domain.FlipEvent { return tl.flips }

// FlipsBetween returns flips with timestamps in [from, to).
func (tl *Timeline) FlipsBetween(from, to int64) []domain.FlipEvent {
	lo := sort.Search(len(tl.flips), func(i int) bool { return tl.flips[i].TimestampMs >= from })
	hi := sort.Search(len(tl.flips), func(i int) bool { return tl.flips[i].TimestampMs >= to })
	return tl.flips[lo:hi]
}

// Labels returns the binary label vector: y[i] = 1 iff a flip occurs within
// (minute[i], minute[i] + horizonMin]. A row at the flip minute itself is
// labeled 0; the flip is no longer ahead of it.
func (tl *Timeline) Labels(horizonMin int) []int {
	y := make([]int, len(tl.minutes))
	h := int64(horizonMin) * domain.MinuteMs
	for _, flip := range tl.flips {
		// Rows t with t < flip and t+h >= flip, i.e. t in [flip-h, flip).
		lo, hi := tl.IndexRange(flip.TimestampMs-h, flip.TimestampMs)
		for i := lo; i < hi; i++ {
			y[i] = 1
		}
	}
	return y
}

// DesignMatrix assembles the feature matrix for the given row indices over
// the given columns. Rows carrying an undefined value in any requested column
// are dropped; keep lists the surviving row indices in input order.
func (tl *Timeline) DesignMatrix(rows []int, features []domain.FeatureName) (x [][]float64, keep []int, err error) {
	cols := make([][]float64, len(features))
	for j, f := range features {
		col, colErr := tl.Column(f)
		if colErr != nil {
			return nil, nil, colErr
		}
		cols[j] = col
	}

	for _, i := range rows {
		vec := make([]float64, len(features))
		defined := true
		for j := range cols {
			v := cols[j][i]
			if math.IsNaN(v) {
				defined = false
				break
			}
			vec[j] = v
		}
		if !defined {
			continue
		}
		x = append(x, vec)
		keep = append(keep, i)
	}
	return x, keep, nil
}

// Blocks partitions the rows into k contiguous blocks whose sizes differ by
// at most one; earlier blocks take the remainder. The partition depends only
// on (rows, k), so split enumeration is reproducible.
func (tl *Timeline) Blocks(k int) ([]Block, error) {
	n := len(tl.minutes)
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: k=%d rows=%d", ErrBlockCount, k, n)
	}

	blocks := make([]Block, 0, k)
	base := n / k
	rem := n % k
	lo := 0
	for i := 0; i < k; i++ {
		size := base
		if i < rem {
			size++
		}
		blocks = append(blocks, Block{Lo: lo, Hi: lo + size})
		lo += size
	}
	return blocks, nil
}
