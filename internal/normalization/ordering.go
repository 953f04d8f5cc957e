package normalization

import (
	"sort"

	"regime-precursor-lab/internal/domain"
)

// SortTicks orders ticks by (symbol ASC, timestamp_ms ASC), preserving
// arrival order within equal timestamps. Exchange streams can carry several
// trades in the same millisecond; arrival order is the only tiebreak we have.
func SortTicks(ticks []*domain.Tick) {
	sort.SliceStable(ticks, func(i, j int) bool {
		return compareTicks(ticks[i], ticks[j]) < 0
	})
}

// SortBars orders bars by (symbol ASC, interval_sec ASC, timestamp_ms ASC).
func SortBars(bars []*domain.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		return compareBars(bars[i], bars[j]) < 0
	})
}

// compareTicks returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareTicks(a, b *domain.Tick) int {
	if a.Symbol != b.Symbol {
		if a.Symbol < b.Symbol {
			return -1
		}
		return 1
	}
	if a.TimestampMs != b.TimestampMs {
		if a.TimestampMs < b.TimestampMs {
			return -1
		}
		return 1
	}
	return 0
}

// compareBars returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareBars(a, b *domain.Bar) int {
	if a.Symbol != b.Symbol {
		if a.Symbol < b.Symbol {
			return -1
		}
		return 1
	}
	if a.IntervalSec != b.IntervalSec {
		if a.IntervalSec < b.IntervalSec {
			return -1
		}
		return 1
	}
	if a.TimestampMs != b.TimestampMs {
		if a.TimestampMs < b.TimestampMs {
			return -1
		}
		return 1
	}
	return 0
}
