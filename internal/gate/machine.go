package gate

import (
	"errors"
	"fmt"

	"regime-precursor-lab/internal/domain"
)

// ErrNonMonotonicInput is returned when samples arrive out of time order.
// The gate never re-sorts: an ordering regression upstream must surface.
var ErrNonMonotonicInput = errors.New("probability samples must be strictly increasing in time")

// State is the gating machine state.
type State string

// Machine states. A machine with no alert history starts armed.
const (
	StateCooldown State = "COOLDOWN"
	StateArmed    State = "ARMED"
)

// Sample is one minute of the probability stream.
type Sample struct {
	TimestampMs int64
	P           float64
}

// Machine converts a noisy per-minute probability stream into sparse
// alerts. Per sample, in order: smooth with an EMA, count consecutive
// smoothed minutes above the threshold, re-arm once the separation since
// the last alert has elapsed, fire when armed with enough consecutive
// minutes.
//
// The machine is strictly sequential; batch evaluation folds Step over a
// slice, so offline and streaming runs over identical inputs produce
// identical alerts.
type Machine struct {
	params domain.AlertParams
	alpha  float64

	state     State
	ema       float64
	emaInit   bool
	counter   int
	lastAlert int64
	lastSeen  int64
	started   bool
}

// NewMachine validates params and returns a fresh machine.
func NewMachine(params domain.AlertParams) (*Machine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		params: params,
		alpha:  2 / (float64(params.EMAWindow) + 1),
		state:  StateArmed,
	}, nil
}

// Step advances the machine one sample and returns the alert it fires, if
// any. Timestamps must be strictly increasing across calls.
func (m *Machine) Step(sample Sample) (*domain.Alert, error) {
	if m.started && sample.TimestampMs <= m.lastSeen {
		return nil, fmt.Errorf("%w: %d after %d", ErrNonMonotonicInput, sample.TimestampMs, m.lastSeen)
	}
	m.started = true
	m.lastSeen = sample.TimestampMs

	// 1. Smooth. The EMA seeds with the first observed probability; an
	// EMA window of 1 passes the stream through unchanged.
	if !m.emaInit {
		m.ema = sample.P
		m.emaInit = true
	} else {
		m.ema += m.alpha * (sample.P - m.ema)
	}

	// 2. Consecutive-above counter. Strictly above: a smoothed value
	// sitting exactly on the threshold does not count.
	if m.ema > m.params.Threshold {
		m.counter++
	} else {
		m.counter = 0
	}

	// 3. Re-arm once the separation has elapsed. The counter keeps
	// running through the cooldown, so a persistent signal can fire the
	// minute the machine re-arms.
	if m.state == StateCooldown &&
		sample.TimestampMs-m.lastAlert >= int64(m.params.MinSeparationMin)*domain.MinuteMs {
		m.state = StateArmed
	}

	// 4. Fire.
	if m.state == StateArmed && m.counter >= m.params.ConsecutiveK {
		alert := &domain.Alert{
			TimestampMs: sample.TimestampMs,
			Probability: m.ema,
		}
		m.lastAlert = sample.TimestampMs
		m.state = StateCooldown
		m.counter = 0
		return alert, nil
	}
	return nil, nil
}

// State returns the current machine state.
func (m *Machine) State() State { return m.state }

// EMA returns the current smoothed probability, false before any sample.
func (m *Machine) EMA() (float64, bool) { return m.ema, m.emaInit }

// Run folds Step over a batch of samples and collects the fired alerts.
func Run(params domain.AlertParams, samples []Sample) ([]*domain.Alert, error) {
	m, err := NewMachine(params)
	if err != nil {
		return nil, err
	}

	var alerts []*domain.Alert
	for _, s := range samples {
		alert, err := m.Step(s)
		if err != nil {
			return nil, err
		}
		if alert != nil {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

// SamplesFromPoints converts a stored probability series to gate samples.
func SamplesFromPoints(points []*domain.ProbabilityPoint) []Sample {
	out := make([]Sample, len(points))
	for i, pt := range points {
		out[i] = Sample{TimestampMs: pt.TimestampMs, P: pt.P}
	}
	return out
}
