package estimator

import "sort"

// Isotonic is a monotone non-decreasing map from scores to calibrated
// probabilities: a pool-adjacent-violators fit with linear interpolation
// between knots and clamping outside the fitted range.
type Isotonic struct {
	x []float64 // knot scores, strictly ascending
	y []float64 // fitted values, non-decreasing
}

// FitIsotonic runs pool-adjacent-violators on (score, target) pairs.
// Equal scores are pooled into one weighted point before fitting.
func FitIsotonic(scores, targets []float64) (*Isotonic, error) {
	if len(scores) == 0 || len(scores) != len(targets) {
		return nil, ErrBadTrainingSet
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})

	// Pool duplicate scores.
	type block struct {
		x   float64
		sum float64
		w   float64
	}
	var blocks []block
	for _, i := range order {
		s, t := scores[i], targets[i]
		if len(blocks) > 0 && blocks[len(blocks)-1].x == s {
			last := &blocks[len(blocks)-1]
			last.sum += t
			last.w++
			continue
		}
		blocks = append(blocks, block{x: s, sum: t, w: 1})
	}

	// PAVA over the pooled points. Merged blocks keep the weighted mean
	// and remember how many knots they span.
	type fitted struct {
		mean float64
		sum  float64
		w    float64
		span int
	}
	stack := make([]fitted, 0, len(blocks))
	for _, b := range blocks {
		cur := fitted{mean: b.sum / b.w, sum: b.sum, w: b.w, span: 1}
		for len(stack) > 0 && stack[len(stack)-1].mean > cur.mean {
			prev := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cur.sum += prev.sum
			cur.w += prev.w
			cur.span += prev.span
			cur.mean = cur.sum / cur.w
		}
		stack = append(stack, cur)
	}

	iso := &Isotonic{
		x: make([]float64, 0, len(blocks)),
		y: make([]float64, 0, len(blocks)),
	}
	knot := 0
	for _, f := range stack {
		for i := 0; i < f.span; i++ {
			iso.x = append(iso.x, blocks[knot].x)
			iso.y = append(iso.y, f.mean)
			knot++
		}
	}
	return iso, nil
}

// Predict maps a score through the fitted curve: clamped outside the knot
// range, linearly interpolated between knots.
func (iso *Isotonic) Predict(score float64) float64 {
	n := len(iso.x)
	if score <= iso.x[0] {
		return iso.y[0]
	}
	if score >= iso.x[n-1] {
		return iso.y[n-1]
	}
	// First knot with x >= score; its left neighbor brackets the score.
	hi := sort.SearchFloat64s(iso.x, score)
	lo := hi - 1
	frac := (score - iso.x[lo]) / (iso.x[hi] - iso.x[lo])
	return iso.y[lo] + frac*(iso.y[hi]-iso.y[lo])
}
