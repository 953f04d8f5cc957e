package backtest

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/gate"
	"regime-precursor-lab/internal/replay"
	"regime-precursor-lab/internal/storage/memory"
)

// seedProbs stores a minute series where prob(i) gives the value at minute i.
func seedProbs(t *testing.T, store *memory.ProbabilityStore, runID string, n int, prob func(i int) float64) []*domain.ProbabilityPoint {
	t.Helper()
	points := make([]*domain.ProbabilityPoint, n)
	for i := 0; i < n; i++ {
		points[i] = &domain.ProbabilityPoint{
			RunID:       runID,
			Symbol:      "SOLUSDT",
			TimestampMs: int64(i) * domain.MinuteMs,
			P:           prob(i),
		}
	}
	if err := store.InsertBulk(context.Background(), points); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}
	return points
}

func spikeAt(lo, hi int) func(i int) float64 {
	return func(i int) float64 {
		if i >= lo && i <= hi {
			return 0.9
		}
		return 0.2
	}
}

func TestRunnerCoversFlipAfterSpike(t *testing.T) {
	probStore := memory.NewProbabilityStore()
	flipStore := memory.NewFlipStore()
	ctx := context.Background()

	seedProbs(t, probStore, "run-1", 300, spikeAt(150, 152))
	flip := &domain.FlipEvent{
		Symbol:      "SOLUSDT",
		TimestampMs: 160 * domain.MinuteMs,
		FromState:   domain.RegimeBull,
		ToState:     domain.RegimeBear,
	}
	if err := flipStore.Insert(ctx, flip); err != nil {
		t.Fatalf("Insert flip: %v", err)
	}

	runner := NewRunner(replay.NewRunner(probStore), flipStore)
	params := domain.AlertParams{EMAWindow: 1, Threshold: 0.6, ConsecutiveK: 1, MinSeparationMin: 10}

	report, err := runner.Run(ctx, "run-1", "SOLUSDT", params, EvalParams{PreWindowMin: 30, HorizonMin: 30})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := report.Results
	if results.SampleCount != 300 {
		t.Errorf("expected 300 samples, got %d", results.SampleCount)
	}
	// Window 1 tracks p directly; the spike fires once at minute 150 and the
	// separation keeps minutes 151-152 silent.
	if results.AlertCount != 1 {
		t.Fatalf("expected 1 alert, got %d", results.AlertCount)
	}
	if got := results.Alerts[0].TimestampMs; got != 150*domain.MinuteMs {
		t.Errorf("alert timestamp: expected %d, got %d", 150*domain.MinuteMs, got)
	}
	if math.Abs(results.Alerts[0].Probability-0.9) > 1e-12 {
		t.Errorf("alert probability: expected 0.9, got %v", results.Alerts[0].Probability)
	}

	eval := report.Evaluation
	if eval.Flips != 1 || eval.Covered != 1 {
		t.Errorf("expected 1/1 flips covered, got %d/%d", eval.Covered, eval.Flips)
	}
	if eval.Coverage == nil || *eval.Coverage != 1.0 {
		t.Errorf("expected coverage 1.0, got %v", eval.Coverage)
	}
	if eval.TruePositives != 1 || eval.FalseAlarms != 0 {
		t.Errorf("expected 1 TP / 0 FA, got %d / %d", eval.TruePositives, eval.FalseAlarms)
	}
	if eval.FAPerDay == nil || *eval.FAPerDay != 0 {
		t.Errorf("expected fa_per_day 0, got %v", eval.FAPerDay)
	}
	if eval.LeadMin == nil || eval.LeadMin.Count != 1 || math.Abs(eval.LeadMin.Mean-10) > 1e-12 {
		t.Errorf("expected single lead of 10 minutes, got %+v", eval.LeadMin)
	}
}

func TestRunnerSpikeWithoutFlipIsFalseAlarm(t *testing.T) {
	probStore := memory.NewProbabilityStore()
	flipStore := memory.NewFlipStore()
	ctx := context.Background()

	seedProbs(t, probStore, "run-1", 300, spikeAt(150, 152))

	runner := NewRunner(replay.NewRunner(probStore), flipStore)
	params := domain.AlertParams{EMAWindow: 1, Threshold: 0.6, ConsecutiveK: 1, MinSeparationMin: 10}

	report, err := runner.Run(ctx, "run-1", "SOLUSDT", params, EvalParams{PreWindowMin: 30, HorizonMin: 30})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	eval := report.Evaluation
	if eval.Flips != 0 {
		t.Errorf("expected 0 flips, got %d", eval.Flips)
	}
	if eval.Coverage != nil {
		t.Errorf("expected nil coverage, got %v", *eval.Coverage)
	}
	if eval.FalseAlarms != 1 {
		t.Fatalf("expected 1 false alarm, got %d", eval.FalseAlarms)
	}
	// 299 elapsed minutes.
	want := 1.0 / (299.0 / 1440.0)
	if eval.FAPerDay == nil || math.Abs(*eval.FAPerDay-want) > 1e-9 {
		t.Errorf("fa_per_day: expected %v, got %v", want, eval.FAPerDay)
	}
}

func TestEngineMatchesBatchGate(t *testing.T) {
	probStore := memory.NewProbabilityStore()
	ctx := context.Background()

	points := seedProbs(t, probStore, "run-1", 200, func(i int) float64 {
		return 0.5 + 0.45*math.Sin(float64(i)/5)
	})

	params := domain.AlertParams{EMAWindow: 3, Threshold: 0.558, ConsecutiveK: 2, MinSeparationMin: 2}

	engine, err := NewEngine("run-1", params)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := replay.NewRunner(probStore).RunAll(ctx, "run-1", "SOLUSDT", engine); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	batch, err := gate.Run(params, gate.SamplesFromPoints(points))
	if err != nil {
		t.Fatalf("gate.Run: %v", err)
	}

	if len(batch) == 0 {
		t.Fatal("expected the oscillating series to raise alerts")
	}
	if !reflect.DeepEqual(engine.Results().Alerts, batch) {
		t.Errorf("replayed alerts diverge from batch gate: %d vs %d",
			len(engine.Results().Alerts), len(batch))
	}
}

func TestRunnerEmptySeries(t *testing.T) {
	runner := NewRunner(replay.NewRunner(memory.NewProbabilityStore()), memory.NewFlipStore())
	params := domain.AlertParams{EMAWindow: 1, Threshold: 0.6, ConsecutiveK: 1, MinSeparationMin: 10}

	_, err := runner.Run(context.Background(), "run-missing", "SOLUSDT", params, EvalParams{PreWindowMin: 30, HorizonMin: 30})
	if !errors.Is(err, ErrEmptySeries) {
		t.Errorf("expected ErrEmptySeries, got %v", err)
	}
}

func TestRunnerRejectsBadParams(t *testing.T) {
	probStore := memory.NewProbabilityStore()
	seedProbs(t, probStore, "run-1", 10, func(int) float64 { return 0.5 })
	runner := NewRunner(replay.NewRunner(probStore), memory.NewFlipStore())
	ctx := context.Background()

	good := domain.AlertParams{EMAWindow: 1, Threshold: 0.6, ConsecutiveK: 1, MinSeparationMin: 10}

	_, err := runner.Run(ctx, "run-1", "SOLUSDT", good, EvalParams{PreWindowMin: 0, HorizonMin: 30})
	if !errors.Is(err, ErrPreWindow) {
		t.Errorf("expected ErrPreWindow, got %v", err)
	}

	bad := domain.AlertParams{EMAWindow: 0, Threshold: 0.6, ConsecutiveK: 1, MinSeparationMin: 10}
	_, err = runner.Run(ctx, "run-1", "SOLUSDT", bad, EvalParams{PreWindowMin: 30, HorizonMin: 30})
	if !errors.Is(err, domain.ErrEMAWindow) {
		t.Errorf("expected ErrEMAWindow, got %v", err)
	}
}
