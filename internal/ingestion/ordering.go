package ingestion

import (
	"errors"
	"fmt"

	"regime-precursor-lab/internal/domain"
)

// ErrInvalidOrdering is returned when ticks are not properly ordered.
var ErrInvalidOrdering = errors.New("ticks are not in deterministic order")

// ValidateTickOrdering checks that ticks are ordered by timestamp ASC.
// Equal timestamps are legal: an active market trades many times per
// millisecond and arrival order breaks those ties. Returns
// ErrInvalidOrdering on the first regression.
func ValidateTickOrdering(ticks []*domain.Tick) error {
	for i := 1; i < len(ticks); i++ {
		if ticks[i].TimestampMs < ticks[i-1].TimestampMs {
			return fmt.Errorf("%w: tick %d at %d before tick %d at %d",
				ErrInvalidOrdering, i, ticks[i].TimestampMs, i-1, ticks[i-1].TimestampMs)
		}
	}
	return nil
}
