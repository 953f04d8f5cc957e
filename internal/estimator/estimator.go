package estimator

import "errors"

// Training errors.
var (
	ErrBadTrainingSet = errors.New("training set is empty or misshapen")
	ErrSingleClass    = errors.New("training labels contain a single class")
	ErrSingular       = errors.New("normal equations are singular")
)

// Estimator fits a flip probability model on a design matrix.
type Estimator interface {
	// Fit trains on rows x with binary labels y. len(x) == len(y); every
	// row has the same width.
	Fit(x [][]float64, y []int) (Model, error)

	// Name identifies the estimator in run records.
	Name() string
}

// Model predicts flip probabilities for feature rows.
type Model interface {
	// Predict returns one probability in [0, 1] per row. Rows must have
	// the training width.
	Predict(x [][]float64) []float64
}

// checkTrainingSet validates shape and labels, returning the feature width
// and positive count.
func checkTrainingSet(x [][]float64, y []int) (width, positives int, err error) {
	n := len(x)
	if n == 0 || len(y) != n {
		return 0, 0, ErrBadTrainingSet
	}
	width = len(x[0])
	if width == 0 {
		return 0, 0, ErrBadTrainingSet
	}
	for i, row := range x {
		if len(row) != width {
			return 0, 0, ErrBadTrainingSet
		}
		switch y[i] {
		case 0:
		case 1:
			positives++
		default:
			return 0, 0, ErrBadTrainingSet
		}
	}
	return width, positives, nil
}
