package replay

import (
	"context"
	"math"
	"testing"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/regimes"
	"regime-precursor-lab/internal/storage/memory"
)

const macroMs = int64(domain.BarInterval4h) * 1000

// trendConfig keeps windows small so a 20-bar uptrend contains one flip.
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

func TestFlipReplayDeterministic(t *testing.T) {
	store := memory.NewBarStore()
	seedMacroTrend(t, store, 20)

	fr := NewFlipReplay(store, trendConfig())
	ctx := context.Background()

	var reference []*domain.FlipEvent
	for run := 0; run < 5; run++ {
		flips, err := fr.Run(ctx, "BTCUSDT", 0, 20*macroMs)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if len(flips) != 1 {
			t.Fatalf("run %d: expected 1 flip, got %d", run, len(flips))
		}
		if run == 0 {
			reference = flips
			continue
		}
		if flips[0].TimestampMs != reference[0].TimestampMs ||
			flips[0].FromState != reference[0].FromState ||
			flips[0].ToState != reference[0].ToState {
			t.Errorf("run %d: flip diverged from first replay: %+v vs %+v",
				run, flips[0], reference[0])
		}
	}

	if reference[0].TimestampMs != 5*macroMs {
		t.Errorf("flip timestamp: expected %d, got %d", 5*macroMs, reference[0].TimestampMs)
	}
	if reference[0].FromState != domain.RegimeRange || reference[0].ToState != domain.RegimeBull {
		t.Errorf("flip direction: expected range->bull, got %s->%s",
			reference[0].FromState, reference[0].ToState)
	}
}

func TestFlipReplayMatchesDetectionRunner(t *testing.T) {
	barStore := memory.NewBarStore()
	flipStore := memory.NewFlipStore()
	seedMacroTrend(t, barStore, 20)
	ctx := context.Background()

	_, persisted, err := regimes.NewRunner(barStore, flipStore).
		WithConfig(trendConfig()).
		DetectSymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("DetectSymbol: %v", err)
	}

	replayed, err := NewFlipReplay(barStore, trendConfig()).Run(ctx, "BTCUSDT", 0, 20*macroMs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(replayed) != len(persisted) {
		t.Fatalf("expected %d flips, got %d", len(persisted), len(replayed))
	}
	for i := range replayed {
		if replayed[i].TimestampMs != persisted[i].TimestampMs ||
			replayed[i].FromState != persisted[i].FromState ||
			replayed[i].ToState != persisted[i].ToState {
			t.Errorf("flip %d: replay %+v differs from detection %+v",
				i, replayed[i], persisted[i])
		}
	}
}

func TestFlipReplayResamplesFromMinuteBars(t *testing.T) {
	store := memory.NewBarStore()
	ctx := context.Background()

	// One 1m bar per 4h bucket; resampling yields the same macro trend.
	bars := make([]*domain.Bar, 20)
	for i := 0; i < 20; i++ {
		close := math.Exp(0.01 * float64(i))
		bars[i] = &domain.Bar{
			Symbol:      "BTCUSDT",
			IntervalSec: domain.BarInterval1m,
			TimestampMs: int64(i) * macroMs,
			Open:        close, High: close, Low: close, Close: close,
			Volume: 1, TradeCount: 1,
		}
	}
	if err := store.InsertBulk(ctx, bars); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	flips, err := NewFlipReplay(store, trendConfig()).Run(ctx, "BTCUSDT", 0, 20*macroMs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(flips) != 1 {
		t.Fatalf("expected 1 flip from resampled bars, got %d", len(flips))
	}

	// Replay must not have persisted the derived 4h bars.
	stored4h, err := store.GetBySymbol(ctx, "BTCUSDT", domain.BarInterval4h)
	if err != nil {
		t.Fatalf("GetBySymbol: %v", err)
	}
	if len(stored4h) != 0 {
		t.Errorf("replay persisted %d macro bars, want none", len(stored4h))
	}
}

func TestFlipReplayEmptyRange(t *testing.T) {
	store := memory.NewBarStore()
	flips, err := NewFlipReplay(store, trendConfig()).Run(context.Background(), "BTCUSDT", 0, 1000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if flips != nil {
		t.Errorf("expected nil flips for empty range, got %d", len(flips))
	}
}
