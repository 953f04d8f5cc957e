package eventstudy

import (
	"math"
	"math/rand"
)

// permutationTest runs a two-sided sign-flip permutation test of the
// statistic against a zero-centered null.
//
// Each draw flips the sign of every sample independently (event-level
// relabeling; time order inside the window is never shuffled) and
// recomputes the statistic. p = (#{|null| >= |observed|} + 1) / (N + 1),
// continuity corrected, so p is always in (0, 1] and never exactly zero.
func permutationTest(values []float64, statistic Statistic, nPerm int, seed int64) (obs, p float64) {
	obs = statistic.Compute(values)
	absObs := math.Abs(obs)

	rng := rand.New(rand.NewSource(seed))
	flipped := make([]float64, len(values))
	extreme := 0
	for i := 0; i < nPerm; i++ {
		for j, v := range values {
			if rng.Intn(2) == 0 {
				flipped[j] = -v
			} else {
				flipped[j] = v
			}
		}
		if math.Abs(statistic.Compute(flipped)) >= absObs {
			extreme++
		}
	}
	p = float64(extreme+1) / float64(nPerm+1)
	return obs, p
}
