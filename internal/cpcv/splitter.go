package cpcv

import (
	"errors"
	"fmt"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/timeline"
)

// Split parameter errors.
var (
	ErrBlocks          = errors.New("cpcv needs at least 2 blocks")
	ErrGroupSize       = errors.New("group size must be in [1, blocks-1]")
	ErrHorizon         = errors.New("horizon must be >= 1 minute")
	ErrEmbargoTooShort = errors.New("embargo must be >= horizon")
	ErrLookback        = errors.New("lookback must be >= 0")
)

// SplitParams parameterizes combinatorial purged cross-validation.
type SplitParams struct {
	Blocks          int // contiguous time blocks k
	GroupSize       int // test blocks per combination g
	MaxCombinations int // cap on C(k, g) in enumeration order, 0 = all
	HorizonMin      int // label horizon H, minutes
	EmbargoMin      int // embargo after each test block, >= H
	LookbackMin     int // deepest feature lookback, minutes
}

// Validate rejects parameter sets that cannot produce leakage-safe splits.
// The embargo >= horizon invariant fails here, before any split exists.
func (p SplitParams) Validate() error {
	if p.Blocks < 2 {
		return fmt.Errorf("%w: got %d", ErrBlocks, p.Blocks)
	}
	if p.GroupSize < 1 || p.GroupSize > p.Blocks-1 {
		return fmt.Errorf("%w: got %d of %d blocks", ErrGroupSize, p.GroupSize, p.Blocks)
	}
	if p.HorizonMin < 1 {
		return ErrHorizon
	}
	if p.EmbargoMin < p.HorizonMin {
		return fmt.Errorf("%w: embargo %dm < horizon %dm", ErrEmbargoTooShort, p.EmbargoMin, p.HorizonMin)
	}
	if p.LookbackMin < 0 {
		return ErrLookback
	}
	return nil
}

// TimeSpan is an inclusive [StartMs, EndMs] minute interval.
type TimeSpan struct {
	StartMs int64
	EndMs   int64
}

// Split is one test combination with its leakage exclusions. The four
// row-index sets partition the minute grid: every row is exactly one of
// train, test, purged, or embargoed. A row inside the embargo window that
// would also be purged reports as embargoed; dropping it twice is
// impossible, labeling it once keeps the partition.
type Split struct {
	Index      int        // position in enumeration order
	TestBlocks []int      // block numbers forming the test set, ascending
	TestSpans  []TimeSpan // minute intervals of the test blocks
	Train      []int      // training rows, ascending
	Test       []int      // test rows, ascending
	Purged     []int      // rows dropped for label-horizon or lookback overlap
	Embargoed  []int      // rows dropped in the post-test embargo
}

// MakeSplits enumerates the test-set combinations over the timeline's block
// partition and classifies every row for each combination:
//
//  1. Partition rows into p.Blocks contiguous blocks.
//  2. Enumerate C(blocks, groupSize) test groups in lexicographic order,
//     keeping the first MaxCombinations when capped.
//  3. For each group, remove from the remaining rows: the embargo
//     ((testEnd, testEnd+E] after each test block), then the purge (rows
//     whose label horizon (t, t+H] or feature lookback [t-L, t] overlaps a
//     test block). Whatever survives is the training set.
func MakeSplits(tl *timeline.Timeline, p SplitParams) ([]*Split, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	blocks, err := tl.Blocks(p.Blocks)
	if err != nil {
		return nil, err
	}

	groups := combinations(p.Blocks, p.GroupSize)
	if p.MaxCombinations > 0 && len(groups) > p.MaxCombinations {
		groups = groups[:p.MaxCombinations]
	}

	splits := make([]*Split, len(groups))
	for gi, group := range groups {
		splits[gi] = makeSplit(tl, blocks, group, gi, p)
	}
	return splits, nil
}

func makeSplit(tl *timeline.Timeline, blocks []timeline.Block, group []int, index int, p SplitParams) *Split {
	n := tl.Len()
	s := &Split{
		Index:      index,
		TestBlocks: append([]int(nil), group...),
	}

	inTest := make([]bool, n)
	for _, b := range group {
		blk := blocks[b]
		for i := blk.Lo; i < blk.Hi; i++ {
			inTest[i] = true
		}
		s.TestSpans = append(s.TestSpans, TimeSpan{
			StartMs: tl.MinuteAt(blk.Lo),
			EndMs:   tl.MinuteAt(blk.Hi - 1),
		})
	}

	h := int64(p.HorizonMin) * domain.MinuteMs
	l := int64(p.LookbackMin) * domain.MinuteMs
	e := int64(p.EmbargoMin) * domain.MinuteMs

	for i := 0; i < n; i++ {
		if inTest[i] {
			s.Test = append(s.Test, i)
			continue
		}
		t := tl.MinuteAt(i)
		switch {
		case inEmbargo(s.TestSpans, t, e):
			s.Embargoed = append(s.Embargoed, i)
		case overlapsTest(s.TestSpans, t, h, l):
			s.Purged = append(s.Purged, i)
		default:
			s.Train = append(s.Train, i)
		}
	}
	return s
}

// inEmbargo reports whether minute t falls in (end, end+e] after any span.
func inEmbargo(spans []TimeSpan, t, e int64) bool {
	for _, sp := range spans {
		if t > sp.EndMs && t <= sp.EndMs+e {
			return true
		}
	}
	return false
}

// overlapsTest reports whether the label horizon (t, t+h] or the feature
// lookback [t-l, t] of a row at minute t intersects any test span.
func overlapsTest(spans []TimeSpan, t, h, l int64) bool {
	for _, sp := range spans {
		if t < sp.EndMs && t+h >= sp.StartMs {
			return true
		}
		if t >= sp.StartMs && t-l <= sp.EndMs {
			return true
		}
	}
	return false
}

// combinations enumerates every g-of-k index combination in lexicographic
// order: [0 1], [0 2], ..., [k-2 k-1].
func combinations(k, g int) [][]int {
	var out [][]int
	combo := make([]int, g)
	var walk func(start, depth int)
	walk = func(start, depth int) {
		if depth == g {
			out = append(out, append([]int(nil), combo...))
			return
		}
		for b := start; b <= k-(g-depth); b++ {
			combo[depth] = b
			walk(b+1, depth+1)
		}
	}
	walk(0, 0)
	return out
}
