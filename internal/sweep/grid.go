package sweep

import (
	"math"

	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/domain"
)

// ExpandGrid enumerates the AlertParams lattice in deterministic order:
// threshold ascending outermost, then consecutive-k, EMA window, separation
// as listed in the config. The threshold axis runs from ThresholdFrom up to
// but not including ThresholdTo. Thresholds are rounded to thousandths so
// cells carry stable keys regardless of accumulated step error.
func ExpandGrid(grid config.GridConfig) []domain.AlertParams {
	var thresholds []float64
	for i := 0; ; i++ {
		t := grid.ThresholdFrom + float64(i)*grid.ThresholdStep
		if t >= grid.ThresholdTo-1e-9 {
			break
		}
		thresholds = append(thresholds, math.Round(t*1000)/1000)
	}

	size := len(thresholds) * len(grid.ConsecutiveK) * len(grid.EMAWindows) * len(grid.Separations)
	params := make([]domain.AlertParams, 0, size)
	for _, thr := range thresholds {
		for _, k := range grid.ConsecutiveK {
			for _, ema := range grid.EMAWindows {
				for _, sep := range grid.Separations {
					params = append(params, domain.AlertParams{
						EMAWindow:        ema,
						Threshold:        thr,
						ConsecutiveK:     k,
						MinSeparationMin: sep,
					})
				}
			}
		}
	}
	return params
}
