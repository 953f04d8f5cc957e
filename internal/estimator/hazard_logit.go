package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// HazardLogit is an L2-penalized logistic regression of the flip-within-
// horizon label on the feature row, fitted by iteratively reweighted least
// squares. Classes are weighted inversely to their frequency so the rare
// positive minutes carry half the total mass.
type HazardLogit struct {
	ridge     float64 // L2 penalty on non-intercept coefficients
	maxIter   int
	tol       float64
	calibrate bool
}

// NewHazardLogit creates the hazard estimator. Non-positive ridge or
// maxIter select the defaults (1.0, 200).
func NewHazardLogit(ridge float64, maxIter int, calibrate bool) *HazardLogit {
	if ridge <= 0 {
		ridge = 1.0
	}
	if maxIter <= 0 {
		maxIter = 200
	}
	return &HazardLogit{ridge: ridge, maxIter: maxIter, tol: 1e-8, calibrate: calibrate}
}

// Name implements Estimator.
func (e *HazardLogit) Name() string { return NameHazardLogit }

// Fit implements Estimator. The IRLS loop solves the penalized weighted
// normal equations until the coefficient change drops below tolerance or
// the iteration cap is reached; both classes must be present.
func (e *HazardLogit) Fit(x [][]float64, y []int) (Model, error) {
	width, positives, err := checkTrainingSet(x, y)
	if err != nil {
		return nil, err
	}
	n := len(x)
	if positives == 0 || positives == n {
		return nil, ErrSingleClass
	}

	// Balanced class weights: n / (2 * class count).
	w0 := float64(n) / (2 * float64(n-positives))
	w1 := float64(n) / (2 * float64(positives))

	p := width + 1 // intercept first
	xa := mat.NewDense(n, p, nil)
	for i, row := range x {
		xa.Set(i, 0, 1)
		for j, v := range row {
			xa.Set(i, j+1, v)
		}
	}

	beta := make([]float64, p)
	eta := make([]float64, n)
	s := make([]float64, n)
	z := make([]float64, n)

	for iter := 0; iter < e.maxIter; iter++ {
		for i := 0; i < n; i++ {
			eta[i] = beta[0]
			for j := 1; j < p; j++ {
				eta[i] += beta[j] * xa.At(i, j)
			}
			mu := sigmoid(eta[i])
			v := mu * (1 - mu)
			if v < 1e-10 {
				v = 1e-10
			}
			w := w0
			yi := 0.0
			if y[i] == 1 {
				w = w1
				yi = 1
			}
			s[i] = w * v
			z[i] = eta[i] + (yi-mu)/v
		}

		// A = Xa' S Xa + ridge on non-intercept diagonal; b = Xa' S z.
		a := mat.NewSymDense(p, nil)
		b := make([]float64, p)
		for i := 0; i < n; i++ {
			si := s[i]
			zi := z[i]
			for j := 0; j < p; j++ {
				xij := xa.At(i, j)
				b[j] += si * xij * zi
				for k := j; k < p; k++ {
					a.SetSym(j, k, a.At(j, k)+si*xij*xa.At(i, k))
				}
			}
		}
		for j := 1; j < p; j++ {
			a.SetSym(j, j, a.At(j, j)+e.ridge)
		}

		var chol mat.Cholesky
		if !chol.Factorize(a) {
			return nil, ErrSingular
		}
		next := mat.NewVecDense(p, nil)
		if err := chol.SolveVecTo(next, mat.NewVecDense(p, b)); err != nil {
			return nil, fmt.Errorf("irls solve: %w", err)
		}

		delta := 0.0
		for j := 0; j < p; j++ {
			if d := math.Abs(next.AtVec(j) - beta[j]); d > delta {
				delta = d
			}
			beta[j] = next.AtVec(j)
		}
		if delta < e.tol {
			break
		}
	}

	model := &LogitModel{intercept: beta[0], weights: append([]float64(nil), beta[1:]...)}
	if e.calibrate {
		iso, err := FitIsotonic(model.Predict(x), labelsAsFloats(y))
		if err != nil {
			return nil, fmt.Errorf("calibration: %w", err)
		}
		model.calibration = iso
	}
	return model, nil
}

// LogitModel is a fitted logistic hazard model, optionally isotonic
// calibrated on its own training predictions.
type LogitModel struct {
	intercept   float64
	weights     []float64
	calibration *Isotonic // nil when uncalibrated
}

// Predict implements Model.
func (m *LogitModel) Predict(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		eta := m.intercept
		for j, w := range m.weights {
			eta += w * row[j]
		}
		out[i] = sigmoid(eta)
	}
	if m.calibration != nil {
		for i, p := range out {
			out[i] = m.calibration.Predict(p)
		}
	}
	return out
}

func sigmoid(eta float64) float64 {
	return 1 / (1 + math.Exp(-eta))
}

func labelsAsFloats(y []int) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = float64(v)
	}
	return out
}

var _ Estimator = (*HazardLogit)(nil)
var _ Model = (*LogitModel)(nil)
