package estimator

import (
	"errors"
	"math"
	"testing"
)

func TestHazardLogitSeparableData(t *testing.T) {
	x := [][]float64{{-2}, {-1.5}, {-1}, {1}, {1.5}, {2}}
	y := []int{0, 0, 0, 1, 1, 1}

	model, err := NewHazardLogit(0, 0, false).Fit(x, y)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	probs := model.Predict(x)
	if probs[0] > 0.2 {
		t.Errorf("p(-2): expected below 0.2, got %v", probs[0])
	}
	if probs[5] < 0.8 {
		t.Errorf("p(+2): expected above 0.8, got %v", probs[5])
	}
	for i, p := range probs {
		if p < 0 || p > 1 {
			t.Errorf("row %d: probability out of range: %v", i, p)
		}
	}
	// The ridge keeps the separable fit finite and symmetric.
	if math.Abs(probs[0]+probs[5]-1) > 1e-6 {
		t.Errorf("symmetric data should give symmetric probabilities: %v, %v", probs[0], probs[5])
	}
}

func TestHazardLogitBalancedWeights(t *testing.T) {
	// 90 negatives at -1 vs 10 positives at +1. Balanced class weights
	// give each class half the mass, so the boundary sits at zero and an
	// unweighted fit's pull toward the majority class never shows up.
	var x [][]float64
	var y []int
	for i := 0; i < 90; i++ {
		x = append(x, []float64{-1})
		y = append(y, 0)
	}
	for i := 0; i < 10; i++ {
		x = append(x, []float64{1})
		y = append(y, 1)
	}

	model, err := NewHazardLogit(0, 0, false).Fit(x, y)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	pMid := model.Predict([][]float64{{0}})[0]
	if math.Abs(pMid-0.5) > 1e-6 {
		t.Errorf("p(0): expected 0.5 under balanced weights, got %v", pMid)
	}
}

func TestHazardLogitDeterministic(t *testing.T) {
	x := [][]float64{{-1.2, 0.3}, {0.5, -0.8}, {1.1, 0.9}, {-0.4, -1.5}, {0.9, 0.2}, {-1.8, 1.0}}
	y := []int{0, 0, 1, 0, 1, 1}

	m1, err := NewHazardLogit(0, 0, false).Fit(x, y)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := NewHazardLogit(0, 0, false).Fit(x, y)
	if err != nil {
		t.Fatal(err)
	}
	p1 := m1.Predict(x)
	p2 := m2.Predict(x)
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Errorf("row %d: refit diverged: %v vs %v", i, p1[i], p2[i])
		}
	}
}

func TestHazardLogitSingleClass(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}}
	if _, err := NewHazardLogit(0, 0, false).Fit(x, []int{0, 0, 0}); !errors.Is(err, ErrSingleClass) {
		t.Errorf("all negative: expected ErrSingleClass, got %v", err)
	}
	if _, err := NewHazardLogit(0, 0, false).Fit(x, []int{1, 1, 1}); !errors.Is(err, ErrSingleClass) {
		t.Errorf("all positive: expected ErrSingleClass, got %v", err)
	}
}

func TestHazardLogitRejectsBadShapes(t *testing.T) {
	cases := []struct {
		name string
		x    [][]float64
		y    []int
	}{
		{"empty", nil, nil},
		{"length mismatch", [][]float64{{1}}, []int{0, 1}},
		{"ragged rows", [][]float64{{1, 2}, {3}}, []int{0, 1}},
		{"empty row", [][]float64{{}}, []int{0}},
		{"bad label", [][]float64{{1}, {2}}, []int{0, 2}},
	}
	for _, tc := range cases {
		if _, err := NewHazardLogit(0, 0, false).Fit(tc.x, tc.y); !errors.Is(err, ErrBadTrainingSet) {
			t.Errorf("%s: expected ErrBadTrainingSet, got %v", tc.name, err)
		}
	}
}

func TestHazardLogitCalibrated(t *testing.T) {
	// Noisy monotone relationship; calibration must keep probabilities in
	// range and preserve the score ordering up to pooling.
	var x [][]float64
	var y []int
	for i := 0; i < 40; i++ {
		v := float64(i)/20 - 1
		x = append(x, []float64{v})
		label := 0
		if v > 0 || i%7 == 0 {
			label = 1
		}
		y = append(y, label)
	}

	model, err := NewHazardLogit(0, 0, true).Fit(x, y)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	probs := model.Predict(x)
	for i, p := range probs {
		if p < 0 || p > 1 {
			t.Errorf("row %d: calibrated probability out of range: %v", i, p)
		}
		if i > 0 && probs[i] < probs[i-1] {
			t.Errorf("row %d: calibrated output decreased along an increasing score", i)
		}
	}
}

func TestBaseRateConstant(t *testing.T) {
	model, err := NewBaseRate().Fit([][]float64{{1}, {2}, {3}, {4}, {5}}, []int{0, 0, 1, 1, 0})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	probs := model.Predict([][]float64{{9}, {-3}, {0}})
	if len(probs) != 3 {
		t.Fatalf("expected 3 predictions, got %d", len(probs))
	}
	for i, p := range probs {
		if p != 0.4 {
			t.Errorf("row %d: expected the 0.4 base rate, got %v", i, p)
		}
	}
}

func TestBaseRateRejectsEmpty(t *testing.T) {
	if _, err := NewBaseRate().Fit(nil, nil); !errors.Is(err, ErrBadTrainingSet) {
		t.Errorf("expected ErrBadTrainingSet, got %v", err)
	}
}
