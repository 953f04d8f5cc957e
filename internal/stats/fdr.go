package stats

import "sort"

// BenjaminiHochberg computes BH-FDR q-values for a slice of p-values within
// one correction scope. Output order matches input order: q[i] adjusts p[i].
//
// Procedure: rank p ascending (rank i of m), q(i) = p(i) * m / i, then
// enforce monotonicity with a running minimum from the largest rank down,
// capping at 1. Ties keep input order so results are deterministic.
//
// Each correction scope (full hypothesis set, pre-registered subset) is
// ranked and corrected independently: callers pass only the p-values that
// belong to the scope.
func BenjaminiHochberg(p []float64) []float64 {
	m := len(p)
	if m == 0 {
		return nil
	}

	idx := make([]int, m)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p[idx[a]] < p[idx[b]]
	})

	// q at sorted rank j (0-based): p * m / (j+1)
	qSorted := make([]float64, m)
	for j, i := range idx {
		qSorted[j] = p[i] * float64(m) / float64(j+1)
	}

	// Running minimum from the largest rank down
	for j := m - 2; j >= 0; j-- {
		if qSorted[j+1] < qSorted[j] {
			qSorted[j] = qSorted[j+1]
		}
	}

	// Cap at 1 and scatter back to input order
	q := make([]float64, m)
	for j, i := range idx {
		v := qSorted[j]
		if v > 1 {
			v = 1
		}
		q[i] = v
	}
	return q
}
