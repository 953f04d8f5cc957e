package gate

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"regime-precursor-lab/internal/domain"
)

func minuteSamples(probs []float64) []Sample {
	out := make([]Sample, len(probs))
	for i, p := range probs {
		out[i] = Sample{TimestampMs: int64(i) * domain.MinuteMs, P: p}
	}
	return out
}

func TestMachineReferenceVector(t *testing.T) {
	// Worked vector: probabilities smoothed with window 3 (alpha 0.5)
	// trace 0.2, 0.4, 0.55, 0.60, 0.45, 0.675, 0.8125. Only the 4th, 6th
	// and 7th minutes clear 0.558; with k=2 the single alert fires on the
	// 7th minute.
	params := domain.AlertParams{
		EMAWindow:        3,
		Threshold:        0.558,
		ConsecutiveK:     2,
		MinSeparationMin: 2,
	}
	probs := []float64{0.2, 0.6, 0.7, 0.65, 0.3, 0.9, 0.95}
	wantEMA := []float64{0.2, 0.4, 0.55, 0.60, 0.45, 0.675, 0.8125}

	m, err := NewMachine(params)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	var alerts []*domain.Alert
	for i, s := range minuteSamples(probs) {
		alert, err := m.Step(s)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		ema, ok := m.EMA()
		if !ok {
			t.Fatalf("step %d: EMA undefined after stepping", i)
		}
		if math.Abs(ema-wantEMA[i]) > 1e-9 {
			t.Errorf("step %d: EMA %v, want %v", i, ema, wantEMA[i])
		}
		if alert != nil {
			alerts = append(alerts, alert)
		}
	}

	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	if alerts[0].TimestampMs != 6*domain.MinuteMs {
		t.Errorf("expected the alert on the 7th minute, got ts %d", alerts[0].TimestampMs)
	}
	if math.Abs(alerts[0].Probability-0.8125) > 1e-9 {
		t.Errorf("expected alert EMA 0.8125, got %v", alerts[0].Probability)
	}
	if m.State() != StateCooldown {
		t.Errorf("expected machine in cooldown after firing, got %s", m.State())
	}
}

func TestMachineThresholdIsStrict(t *testing.T) {
	params := domain.AlertParams{
		EMAWindow:        1,
		Threshold:        0.5,
		ConsecutiveK:     1,
		MinSeparationMin: 0,
	}

	alerts, err := Run(params, minuteSamples([]float64{0.5, 0.6}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	// 0.5 sits exactly on the threshold and must not count.
	if alerts[0].TimestampMs != 1*domain.MinuteMs {
		t.Errorf("expected the alert on the second minute, got ts %d", alerts[0].TimestampMs)
	}
}

func TestMachineCounterResetsBelowThreshold(t *testing.T) {
	params := domain.AlertParams{
		EMAWindow:        1,
		Threshold:        0.5,
		ConsecutiveK:     3,
		MinSeparationMin: 0,
	}

	// Two above, a dip, then three above: only the second streak fires.
	alerts, err := Run(params, minuteSamples([]float64{0.6, 0.7, 0.4, 0.6, 0.7, 0.8}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].TimestampMs != 5*domain.MinuteMs {
		t.Errorf("expected alert at minute 5, got ts %d", alerts[0].TimestampMs)
	}
}

func TestMachineSeparationThrottles(t *testing.T) {
	params := domain.AlertParams{
		EMAWindow:        1,
		Threshold:        0.5,
		ConsecutiveK:     1,
		MinSeparationMin: 3,
	}

	alerts, err := Run(params, minuteSamples([]float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int64{0, 3 * domain.MinuteMs, 6 * domain.MinuteMs}
	if len(alerts) != len(want) {
		t.Fatalf("expected %d alerts, got %d", len(want), len(alerts))
	}
	for i, a := range alerts {
		if a.TimestampMs != want[i] {
			t.Errorf("alert %d at ts %d, want %d", i, a.TimestampMs, want[i])
		}
	}
}

func TestMachineZeroSeparationFiresEveryMinute(t *testing.T) {
	params := domain.AlertParams{
		EMAWindow:        1,
		Threshold:        0.5,
		ConsecutiveK:     1,
		MinSeparationMin: 0,
	}

	alerts, err := Run(params, minuteSamples([]float64{0.9, 0.9, 0.9}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(alerts) != 3 {
		t.Errorf("expected an alert every minute, got %d", len(alerts))
	}
}

func TestMachineCounterRunsThroughCooldown(t *testing.T) {
	params := domain.AlertParams{
		EMAWindow:        1,
		Threshold:        0.5,
		ConsecutiveK:     2,
		MinSeparationMin: 4,
	}

	// Persistent signal: fire at minute 1, re-arm at minute 5 with the
	// counter already saturated, fire again immediately.
	alerts, err := Run(params, minuteSamples([]float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int64{1 * domain.MinuteMs, 5 * domain.MinuteMs}
	if len(alerts) != len(want) {
		t.Fatalf("expected %d alerts, got %d", len(want), len(alerts))
	}
	for i, a := range alerts {
		if a.TimestampMs != want[i] {
			t.Errorf("alert %d at ts %d, want %d", i, a.TimestampMs, want[i])
		}
	}
}

func TestMachineRejectsNonMonotonicInput(t *testing.T) {
	params := domain.AlertParams{
		EMAWindow:        1,
		Threshold:        0.5,
		ConsecutiveK:     1,
		MinSeparationMin: 0,
	}
	m, err := NewMachine(params)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	if _, err := m.Step(Sample{TimestampMs: domain.MinuteMs, P: 0.1}); err != nil {
		t.Fatalf("first step: %v", err)
	}
	if _, err := m.Step(Sample{TimestampMs: domain.MinuteMs, P: 0.2}); !errors.Is(err, ErrNonMonotonicInput) {
		t.Errorf("duplicate timestamp: expected ErrNonMonotonicInput, got %v", err)
	}
	if _, err := m.Step(Sample{TimestampMs: 0, P: 0.2}); !errors.Is(err, ErrNonMonotonicInput) {
		t.Errorf("backwards timestamp: expected ErrNonMonotonicInput, got %v", err)
	}
}

func TestMachineBatchMatchesIncremental(t *testing.T) {
	params := domain.AlertParams{
		EMAWindow:        3,
		Threshold:        0.55,
		ConsecutiveK:     2,
		MinSeparationMin: 5,
	}
	probs := make([]float64, 300)
	for i := range probs {
		probs[i] = 0.5 + 0.45*math.Sin(float64(i)/7)
	}
	samples := minuteSamples(probs)

	batch, err := Run(params, samples)
	if err != nil {
		t.Fatalf("batch run: %v", err)
	}

	m, err := NewMachine(params)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	var incremental []*domain.Alert
	for _, s := range samples {
		alert, err := m.Step(s)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if alert != nil {
			incremental = append(incremental, alert)
		}
	}

	if len(batch) == 0 {
		t.Fatal("expected the oscillating stream to fire at least once")
	}
	if !reflect.DeepEqual(batch, incremental) {
		t.Error("batch and incremental alerts differ")
	}
}

func TestNewMachineRejectsBadParams(t *testing.T) {
	cases := []struct {
		name   string
		params domain.AlertParams
		want   error
	}{
		{"zero ema window", domain.AlertParams{EMAWindow: 0, Threshold: 0.5, ConsecutiveK: 1}, domain.ErrEMAWindow},
		{"threshold at one", domain.AlertParams{EMAWindow: 1, Threshold: 1, ConsecutiveK: 1}, domain.ErrThresholdRange},
		{"zero k", domain.AlertParams{EMAWindow: 1, Threshold: 0.5, ConsecutiveK: 0}, domain.ErrConsecutiveK},
		{"negative separation", domain.AlertParams{EMAWindow: 1, Threshold: 0.5, ConsecutiveK: 1, MinSeparationMin: -1}, domain.ErrMinSeparation},
	}
	for _, c := range cases {
		if _, err := NewMachine(c.params); !errors.Is(err, c.want) {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}
}
