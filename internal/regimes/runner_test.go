package regimes

import (
	"context"
	"math"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage/memory"
)

func TestRunnerDetectAndPersist(t *testing.T) {
	ctx := context.Background()
	barStore := memory.NewBarStore()
	flipStore := memory.NewFlipStore()

	// One minute bar at each 4h bucket start is enough to materialize the
	// macro grid. Exponential closes give a clean bull trend.
	var bars1m []*domain.Bar
	for i := 0; i < 10; i++ {
		close := 100 * math.Exp(0.05*float64(i))
		bars1m = append(bars1m, &domain.Bar{
			Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m,
			TimestampMs: int64(i) * macroMs,
			Open:        close, High: close, Low: close, Close: close,
			Volume: 1, TradeCount: 1,
		})
	}
	if err := barStore.InsertBulk(ctx, bars1m); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(barStore, flipStore).WithConfig(DetectorConfig{
		SlopeWindow: 4, R2Min: 0.5, Hysteresis: 1,
		VolWindow: 3, VolLowPct: 0.33, VolHighPct: 0.66,
	})
	points, flips, err := runner.DetectSymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("DetectSymbol: %v", err)
	}

	if len(points) != 10 {
		t.Errorf("expected 10 regime points, got %d", len(points))
	}
	if len(flips) != 1 {
		t.Fatalf("expected 1 flip, got %d", len(flips))
	}
	if flips[0].TimestampMs != 4*macroMs {
		t.Errorf("flip timestamp: expected %d, got %d", 4*macroMs, flips[0].TimestampMs)
	}

	// The macro grid was derived and stored.
	macroBars, err := barStore.GetBySymbol(ctx, "BTCUSDT", domain.BarInterval4h)
	if err != nil {
		t.Fatal(err)
	}
	if len(macroBars) != 10 {
		t.Errorf("expected 10 stored 4h bars, got %d", len(macroBars))
	}

	stored, err := flipStore.GetBySymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Errorf("expected 1 stored flip, got %d", len(stored))
	}
}

func TestRunnerRerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	barStore := memory.NewBarStore()
	flipStore := memory.NewFlipStore()

	var bars1m []*domain.Bar
	for i := 0; i < 10; i++ {
		close := 100 * math.Exp(0.05*float64(i))
		bars1m = append(bars1m, &domain.Bar{
			Symbol: "BTCUSDT", IntervalSec: domain.BarInterval1m,
			TimestampMs: int64(i) * macroMs,
			Open:        close, High: close, Low: close, Close: close,
			Volume: 1, TradeCount: 1,
		})
	}
	if err := barStore.InsertBulk(ctx, bars1m); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(barStore, flipStore).WithConfig(DetectorConfig{
		SlopeWindow: 4, R2Min: 0.5, Hysteresis: 1,
		VolWindow: 3, VolLowPct: 0.33, VolHighPct: 0.66,
	})
	if _, _, err := runner.DetectSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, flips, err := runner.DetectSymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(flips) != 1 {
		t.Errorf("second run: expected 1 flip, got %d", len(flips))
	}

	stored, err := flipStore.GetBySymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Errorf("expected 1 stored flip after rerun, got %d", len(stored))
	}
}

func TestRunnerNoBars(t *testing.T) {
	ctx := context.Background()
	runner := NewRunner(memory.NewBarStore(), memory.NewFlipStore())

	points, flips, err := runner.DetectSymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("DetectSymbol: %v", err)
	}
	if points != nil || flips != nil {
		t.Errorf("expected nil output for missing symbol")
	}
}
