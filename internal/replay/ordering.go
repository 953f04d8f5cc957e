package replay

import (
	"fmt"

	"regime-precursor-lab/internal/domain"
)

// CheckOrdering verifies that points are strictly increasing in timestamp.
// A violation means the underlying store handed back a corrupt series, so
// the error names the first offending pair rather than repairing the order.
func CheckOrdering(points []*domain.ProbabilityPoint) error {
	for i := 1; i < len(points); i++ {
		if points[i].TimestampMs <= points[i-1].TimestampMs {
			return fmt.Errorf("%w: sample %d at ts=%d follows ts=%d",
				ErrInvalidOrdering, i, points[i].TimestampMs, points[i-1].TimestampMs)
		}
	}
	return nil
}
