// Package simulation runs the online inference loop: minute feature rows
// stream through a fitted probability model and the alert gate, producing
// the same probability series and alerts a batch study pass would. The loop
// is pure; persistence belongs to the session runner.
package simulation

import (
	"errors"
	"fmt"
	"math"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/estimator"
	"regime-precursor-lab/internal/gate"
	"regime-precursor-lab/internal/timeline"
)

var (
	// ErrRowOrder is returned when a feature row does not advance time.
	ErrRowOrder = errors.New("feature rows are not in strictly increasing time order")

	// ErrNilModel is returned when no fitted model is supplied.
	ErrNilModel = errors.New("simulation requires a fitted model")

	// ErrEmptySchema is returned when no feature columns are named.
	ErrEmptySchema = errors.New("simulation requires a non-empty feature schema")
)

// Simulator is the online inference loop for one run. Per row it assembles
// the feature vector, predicts the flip probability, and advances the gate.
// Rows must arrive in strictly increasing time order, warmup rows included.
type Simulator struct {
	runID  string
	symbol string

	model   estimator.Model
	schema  []domain.FeatureName
	machine *gate.Machine

	lastTs int64
	seen   bool
}

// New creates a simulator around an already fitted model.
func New(runID, symbol string, model estimator.Model, schema []domain.FeatureName, params domain.AlertParams) (*Simulator, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	if len(schema) == 0 {
		return nil, ErrEmptySchema
	}
	machine, err := gate.NewMachine(params)
	if err != nil {
		return nil, err
	}
	return &Simulator{
		runID:   runID,
		symbol:  symbol,
		model:   model,
		schema:  append([]domain.FeatureName(nil), schema...),
		machine: machine,
	}, nil
}

// NewFromStudy fits the estimator on the study timeline and arms the gate
// with the selected parameters. Labels use the horizon the study validated
// against, so the live model is the study model refit on everything.
func NewFromStudy(runID string, est estimator.Estimator, tl *timeline.Timeline, schema []domain.FeatureName, horizonMin int, params domain.AlertParams) (*Simulator, error) {
	labels := tl.Labels(horizonMin)

	rows := make([]int, tl.Len())
	for i := range rows {
		rows[i] = i
	}
	x, keep, err := tl.DesignMatrix(rows, schema)
	if err != nil {
		return nil, err
	}
	y := make([]int, len(keep))
	for i, idx := range keep {
		y[i] = labels[idx]
	}

	model, err := est.Fit(x, y)
	if err != nil {
		return nil, fmt.Errorf("fit estimator: %w", err)
	}
	return New(runID, tl.Symbol(), model, schema, params)
}

// OnRow advances the loop by one minute:
//  1. Enforce time order across all rows, warmup included.
//  2. Assemble the feature vector; any undefined column makes the row
//     warmup, producing neither probability nor alert.
//  3. Predict and step the gate.
func (s *Simulator) OnRow(row *domain.FeatureRow) (*domain.ProbabilityPoint, *domain.Alert, error) {
	if s.seen && row.TimestampMs <= s.lastTs {
		return nil, nil, fmt.Errorf("%w: row at ts=%d follows ts=%d", ErrRowOrder, row.TimestampMs, s.lastTs)
	}
	s.lastTs = row.TimestampMs
	s.seen = true

	vec := make([]float64, len(s.schema))
	for j, f := range s.schema {
		v, ok := row.Value(f)
		if !ok || math.IsNaN(v) {
			return nil, nil, nil
		}
		vec[j] = v
	}

	p := s.model.Predict([][]float64{vec})[0]
	point := &domain.ProbabilityPoint{
		RunID:       s.runID,
		Symbol:      s.symbol,
		TimestampMs: row.TimestampMs,
		P:           p,
	}

	alert, err := s.machine.Step(gate.Sample{TimestampMs: row.TimestampMs, P: p})
	if err != nil {
		return nil, nil, err
	}
	return point, alert, nil
}
