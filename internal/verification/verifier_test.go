package verification

import (
	"context"
	"errors"
	"math"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/regimes"
	"regime-precursor-lab/internal/storage/memory"
)

func alertsAt(pairs ...float64) []*domain.Alert {
	alerts := make([]*domain.Alert, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		alerts = append(alerts, &domain.Alert{
			TimestampMs: int64(pairs[i]) * domain.MinuteMs,
			Probability: pairs[i+1],
		})
	}
	return alerts
}

func TestCompareAlertsExactMatch(t *testing.T) {
	stored := alertsAt(10, 0.71, 80, 0.66)
	replayed := alertsAt(10, 0.71, 80, 0.66)

	if div := CompareAlerts(stored, replayed); len(div) != 0 {
		t.Errorf("expected no divergences, got %v", div)
	}
}

func TestCompareAlertsTolerance(t *testing.T) {
	stored := alertsAt(10, 0.71)
	within := alertsAt(10, 0.71+1e-8)
	beyond := alertsAt(10, 0.71+1e-6)

	if div := CompareAlerts(stored, within); len(div) != 0 {
		t.Errorf("1e-8 delta should be within tolerance, got %v", div)
	}

	div := CompareAlerts(stored, beyond)
	if len(div) != 1 {
		t.Fatalf("expected 1 divergence, got %d", len(div))
	}
	if div[0].Field != "alerts[0].Probability" {
		t.Errorf("field = %q, want alerts[0].Probability", div[0].Field)
	}
}

func TestCompareAlertsLengthMismatch(t *testing.T) {
	stored := alertsAt(10, 0.71, 80, 0.66)
	replayed := alertsAt(10, 0.71)

	div := CompareAlerts(stored, replayed)
	if len(div) != 1 {
		t.Fatalf("expected 1 divergence, got %d: %v", len(div), div)
	}
	if div[0].Field != "len(alerts)" {
		t.Errorf("field = %q, want len(alerts)", div[0].Field)
	}

	// Prefix mismatches stack on top of the length divergence.
	replayed = alertsAt(11, 0.71)
	div = CompareAlerts(stored, replayed)
	if len(div) != 2 {
		t.Fatalf("expected 2 divergences, got %d: %v", len(div), div)
	}
	if div[1].Field != "alerts[0].TimestampMs" {
		t.Errorf("field = %q, want alerts[0].TimestampMs", div[1].Field)
	}
}

func TestCompareFlipsFieldMismatch(t *testing.T) {
	stored := []*domain.FlipEvent{{
		Symbol: "BTCUSDT", TimestampMs: 5 * macroMs,
		FromState: domain.RegimeRange, ToState: domain.RegimeBull,
	}}
	replayed := []*domain.FlipEvent{{
		Symbol: "BTCUSDT", TimestampMs: 5 * macroMs,
		FromState: domain.RegimeRange, ToState: domain.RegimeBear,
	}}

	div := CompareFlips(stored, replayed)
	if len(div) != 1 {
		t.Fatalf("expected 1 divergence, got %d: %v", len(div), div)
	}
	if div[0].Field != "flips[0].ToState" {
		t.Errorf("field = %q, want flips[0].ToState", div[0].Field)
	}
}

const macroMs = int64(domain.BarInterval4h) * 1000

func trendConfig() regimes.DetectorConfig {
	return regimes.DetectorConfig{
		SlopeWindow: 5, R2Min: 0.5, Hysteresis: 1,
		VolWindow: 3, VolLowPct: 0.33, VolHighPct: 0.66,
	}
}

func seedMacroTrend(t *testing.T, store *memory.BarStore, n int) {
	t.Helper()
	bars := make([]*domain.Bar, n)
	for i := 0; i < n; i++ {
		close := math.Exp(0.01 * float64(i))
		bars[i] = &domain.Bar{
			Symbol:      "BTCUSDT",
			IntervalSec: domain.BarInterval4h,
			TimestampMs: int64(i) * macroMs,
			Open:        close, High: close, Low: close, Close: close,
			Volume: 1, TradeCount: 1,
		}
	}
	if err := store.InsertBulk(context.Background(), bars); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}
}

// seedSpikeSeries stores a 300-minute series that fires exactly one alert
// at minute 150 under ema=1, thr=0.6, k=1, sep=10.
func seedSpikeSeries(t *testing.T, store *memory.ProbabilityStore, runID string) {
	t.Helper()
	points := make([]*domain.ProbabilityPoint, 300)
	for i := 0; i < 300; i++ {
		p := 0.2
		if i >= 150 && i < 153 {
			p = 0.9
		}
		points[i] = &domain.ProbabilityPoint{
			RunID:       runID,
			Symbol:      "BTCUSDT",
			TimestampMs: int64(i) * domain.MinuteMs,
			P:           p,
		}
	}
	if err := store.InsertBulk(context.Background(), points); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}
}

func spikeOperatingPoint(runID string) *domain.OperatingPoint {
	return &domain.OperatingPoint{
		RunID: runID,
		Params: domain.AlertParams{
			EMAWindow:        1,
			Threshold:        0.6,
			ConsecutiveK:     1,
			MinSeparationMin: 10,
		},
		Alerts:        1,
		TruePositives: 1,
		Coverage:      1.0,
		FAPerDay:      0,
	}
}

func TestParityVerifierMatch(t *testing.T) {
	probStore := memory.NewProbabilityStore()
	paramStore := memory.NewAlertParamStore()
	ctx := context.Background()

	seedSpikeSeries(t, probStore, "run-1")
	if err := paramStore.Insert(ctx, spikeOperatingPoint("run-1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	result, err := NewParityVerifier(probStore, paramStore).Verify(ctx, "run-1", "BTCUSDT")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if !result.Match {
		t.Errorf("expected parity, got divergences %v", result.Divergences)
	}
	if result.Samples != 300 {
		t.Errorf("Samples = %d, want 300", result.Samples)
	}
	if result.BatchAlerts != 1 || result.IncrementalAlerts != 1 {
		t.Errorf("alert counts = %d/%d, want 1/1", result.BatchAlerts, result.IncrementalAlerts)
	}
	if result.Params != spikeOperatingPoint("run-1").Params {
		t.Errorf("params not carried: %+v", result.Params)
	}
}

func TestParityVerifierMissingOperatingPoint(t *testing.T) {
	probStore := memory.NewProbabilityStore()
	paramStore := memory.NewAlertParamStore()

	_, err := NewParityVerifier(probStore, paramStore).Verify(context.Background(), "run-x", "SOLUSDT")
	if !errors.Is(err, ErrNoOperatingPoint) {
		t.Errorf("expected ErrNoOperatingPoint, got %v", err)
	}
}

func TestRerunVerifierMatch(t *testing.T) {
	barStore := memory.NewBarStore()
	flipStore := memory.NewFlipStore()
	ctx := context.Background()

	seedMacroTrend(t, barStore, 20)
	if _, _, err := regimes.NewRunner(barStore, flipStore).
		WithConfig(trendConfig()).
		DetectSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("DetectSymbol: %v", err)
	}

	result, err := NewRerunVerifier(flipStore, barStore, trendConfig()).
		Verify(ctx, "BTCUSDT", 0, 20*macroMs)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if !result.Match {
		t.Errorf("expected determinism, got divergences %v", result.Divergences)
	}
	if result.StoredFlips != 1 || result.ReplayedFlips != 1 {
		t.Errorf("flip counts = %d/%d, want 1/1", result.StoredFlips, result.ReplayedFlips)
	}
}

func TestRerunVerifierDetectsTamper(t *testing.T) {
	barStore := memory.NewBarStore()
	flipStore := memory.NewFlipStore()
	ctx := context.Background()

	seedMacroTrend(t, barStore, 20)
	if _, _, err := regimes.NewRunner(barStore, flipStore).
		WithConfig(trendConfig()).
		DetectSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("DetectSymbol: %v", err)
	}

	// A flip the bars never produced.
	if err := flipStore.Insert(ctx, &domain.FlipEvent{
		Symbol:      "BTCUSDT",
		TimestampMs: 15 * macroMs,
		FromState:   domain.RegimeBull,
		ToState:     domain.RegimeBear,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	result, err := NewRerunVerifier(flipStore, barStore, trendConfig()).
		Verify(ctx, "BTCUSDT", 0, 20*macroMs)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if result.Match {
		t.Error("tampered store should not match the rerun")
	}
	if result.StoredFlips != 2 || result.ReplayedFlips != 1 {
		t.Errorf("flip counts = %d/%d, want 2/1", result.StoredFlips, result.ReplayedFlips)
	}
	if len(result.Divergences) == 0 || result.Divergences[0].Field != "len(flips)" {
		t.Errorf("expected len(flips) divergence, got %v", result.Divergences)
	}
}

func TestRunnerReport(t *testing.T) {
	probStore := memory.NewProbabilityStore()
	paramStore := memory.NewAlertParamStore()
	barStore := memory.NewBarStore()
	flipStore := memory.NewFlipStore()
	ctx := context.Background()

	seedSpikeSeries(t, probStore, "run-1")
	if err := paramStore.Insert(ctx, spikeOperatingPoint("run-1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	seedMacroTrend(t, barStore, 20)
	if _, _, err := regimes.NewRunner(barStore, flipStore).
		WithConfig(trendConfig()).
		DetectSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("DetectSymbol: %v", err)
	}

	runner := NewRunner(
		NewParityVerifier(probStore, paramStore),
		NewRerunVerifier(flipStore, barStore, trendConfig()),
	)
	report, err := runner.Run(ctx, "run-1", "BTCUSDT", 0, 20*macroMs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !report.OK() {
		t.Errorf("expected both checks to pass: parity=%+v rerun=%+v",
			report.Parity, report.Rerun)
	}
	if report.Parity.Samples != 300 {
		t.Errorf("parity saw %d samples, want 300", report.Parity.Samples)
	}
	if report.Rerun.StoredFlips != 1 {
		t.Errorf("rerun saw %d stored flips, want 1", report.Rerun.StoredFlips)
	}
}
