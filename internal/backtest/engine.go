package backtest

import (
	"context"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/gate"
	"regime-precursor-lab/internal/replay"
)

// Results holds the gate pass over one probability series.
type Results struct {
	RunID            string
	Params           domain.AlertParams
	SampleCount      int
	AlertCount       int
	Alerts           []*domain.Alert
	FirstTimestampMs int64
	LastTimestampMs  int64
}

// Engine feeds a probability stream through the alert gate.
// Implements replay.SampleEngine.
type Engine struct {
	machine *gate.Machine
	results *Results
}

// NewEngine creates a backtest engine for one parameter set.
func NewEngine(runID string, params domain.AlertParams) (*Engine, error) {
	machine, err := gate.NewMachine(params)
	if err != nil {
		return nil, err
	}

	return &Engine{
		machine: machine,
		results: &Results{
			RunID:  runID,
			Params: params,
			Alerts: make([]*domain.Alert, 0),
		},
	}, nil
}

// OnSample advances the gate by one probability sample.
// Implements replay.SampleEngine.
func (e *Engine) OnSample(ctx context.Context, point *domain.ProbabilityPoint) error {
	alert, err := e.machine.Step(gate.Sample{TimestampMs: point.TimestampMs, P: point.P})
	if err != nil {
		return err
	}

	if e.results.SampleCount == 0 {
		e.results.FirstTimestampMs = point.TimestampMs
	}
	e.results.LastTimestampMs = point.TimestampMs
	e.results.SampleCount++

	if alert != nil {
		e.results.AlertCount++
		e.results.Alerts = append(e.results.Alerts, alert)
	}

	return nil
}

// Results returns the accumulated gate output.
func (e *Engine) Results() *Results {
	return e.results
}

// Ensure Engine implements replay.SampleEngine
var _ replay.SampleEngine = (*Engine)(nil)
