package estimator

// BaseRate predicts the constant empirical positive rate of the training
// labels. It is the reference every hazard model has to beat.
type BaseRate struct{}

// NewBaseRate creates the base-rate estimator.
func NewBaseRate() *BaseRate { return &BaseRate{} }

// Name implements Estimator.
func (e *BaseRate) Name() string { return NameBaseRate }

// Fit implements Estimator. The design matrix is accepted for interface
// symmetry; only the labels matter.
func (e *BaseRate) Fit(x [][]float64, y []int) (Model, error) {
	if len(y) == 0 {
		return nil, ErrBadTrainingSet
	}
	positives := 0
	for _, yi := range y {
		if yi != 0 && yi != 1 {
			return nil, ErrBadTrainingSet
		}
		positives += yi
	}
	return &ConstantModel{p: float64(positives) / float64(len(y))}, nil
}

// ConstantModel predicts one fixed probability for every row.
type ConstantModel struct {
	p float64
}

// Predict implements Model.
func (m *ConstantModel) Predict(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = m.p
	}
	return out
}

var _ Estimator = (*BaseRate)(nil)
var _ Model = (*ConstantModel)(nil)
