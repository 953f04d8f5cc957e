package replay

import "errors"

// ErrInvalidOrdering is returned when stored samples are not strictly
// increasing in time. Replay never resorts input.
var ErrInvalidOrdering = errors.New("probability samples are not in strictly increasing time order")
