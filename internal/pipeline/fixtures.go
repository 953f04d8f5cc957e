package pipeline

import (
	"context"
	"math"

	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/cpcv"
	"regime-precursor-lab/internal/decision"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/idhash"
	"regime-precursor-lab/internal/storage"
	"regime-precursor-lab/internal/sweep"
)

// Fixture identifiers.
const (
	FixtureRunID  = "run_fixture_001"
	FixtureSymbol = "SOLUSDT"
)

// fixtureStartMs anchors the fixture data at 2024-01-01 00:00:00 UTC.
const fixtureStartMs int64 = 1704067200000

// fixtureMinutes spans 15 days of 1m bars, enough to clear the default
// coverage threshold.
const fixtureMinutes = 15 * 24 * 60

// LoadFixtures populates stores with a small, complete study run for
// demonstration. The returned outputs carry the pieces the decision gate
// needs but no store persists, such as the cross-validation aggregate.
func LoadFixtures(
	ctx context.Context,
	runStore storage.RunStore,
	barStore storage.BarStore,
	featureStore storage.FeatureStore,
	flipStore storage.FlipStore,
	sigStore storage.SignatureStore,
	probStore storage.ProbabilityStore,
	paramStore storage.AlertParamStore,
) (decision.StudyOutputs, error) {
	if err := loadRun(ctx, runStore); err != nil {
		return decision.StudyOutputs{}, err
	}
	if err := loadBars(ctx, barStore); err != nil {
		return decision.StudyOutputs{}, err
	}
	if err := loadFeatures(ctx, featureStore); err != nil {
		return decision.StudyOutputs{}, err
	}

	flips, err := loadFlips(ctx, flipStore)
	if err != nil {
		return decision.StudyOutputs{}, err
	}
	sigs, err := loadSignatures(ctx, sigStore)
	if err != nil {
		return decision.StudyOutputs{}, err
	}
	if err := loadProbabilities(ctx, probStore); err != nil {
		return decision.StudyOutputs{}, err
	}
	op, err := loadOperatingPoint(ctx, paramStore)
	if err != nil {
		return decision.StudyOutputs{}, err
	}

	baseRate := 0.25
	meanBrier := 0.16 // below the 0.1875 base-rate Brier: skillful
	meanCoverage := 0.71

	return decision.StudyOutputs{
		Flips:      flips,
		Signatures: sigs,
		BaseRate:   &baseRate,
		CV: &cpcv.Result{
			RunID: FixtureRunID,
			Aggregate: cpcv.Aggregate{
				Splits:         10,
				Evaluated:      9,
				Excluded:       1,
				MeanBrier:      &meanBrier,
				MeanCoverage:   &meanCoverage,
				CoverageSplits: 7,
			},
		},
		Sweep:  &sweep.Outcome{Selected: op},
		Checks: decision.ReplayChecks{GateParity: true, Determinism: true},
	}, nil
}

func loadRun(ctx context.Context, store storage.RunStore) error {
	cfg := config.Default()
	configHash, err := cfg.Hash()
	if err != nil {
		return err
	}
	return store.Insert(ctx, &domain.Run{
		RunID:       FixtureRunID,
		Symbol:      FixtureSymbol,
		DataVersion: idhash.ComputeDataVersion([]string{"fixtures/v1"}),
		ConfigHash:  configHash,
		Seed:        cfg.Study.Seed,
		CreatedAtMs: fixtureStartMs + 15*domain.DayMs,
	})
}

// loadBars writes a deterministic 1m series: a daily sine ride on a slow
// upward drift. Minute i with i%97 == 42 is dropped so the gap check has
// something real to count.
func loadBars(ctx context.Context, store storage.BarStore) error {
	bars := make([]*domain.Bar, 0, fixtureMinutes)
	for i := 0; i < fixtureMinutes; i++ {
		if i%97 == 42 {
			continue
		}
		phase := 2 * math.Pi * float64(i) / 1440.0
		mid := 100.0 + 2.0*math.Sin(phase) + float64(i)*1e-4
		volume := 1000.0 + 500.0*math.Abs(math.Sin(phase))
		bars = append(bars, &domain.Bar{
			Symbol:          FixtureSymbol,
			TimestampMs:     fixtureStartMs + int64(i)*domain.MinuteMs,
			IntervalSec:     domain.BarInterval1m,
			Open:            mid,
			High:            mid * 1.0005,
			Low:             mid * 0.9995,
			Close:           mid * (1 + 1e-4*math.Cos(phase)),
			Volume:          volume,
			TradeCount:      40,
			BuyVolume:       volume * 0.52,
			BuyerMakerCount: 19,
		})
	}
	return store.InsertBulk(ctx, bars)
}

// loadFeatures writes rows from minute 30 on, mirroring the z-score warmup,
// with the same gap pattern as the bars.
func loadFeatures(ctx context.Context, store storage.FeatureStore) error {
	rows := make([]*domain.FeatureRow, 0, fixtureMinutes-30)
	for i := 30; i < fixtureMinutes; i++ {
		if i%97 == 42 {
			continue
		}
		phase := 2 * math.Pi * float64(i) / 1440.0
		rows = append(rows, &domain.FeatureRow{
			Symbol:      FixtureSymbol,
			TimestampMs: fixtureStartMs + int64(i)*domain.MinuteMs,
			Values: map[domain.FeatureName]float64{
				domain.FeatureRet1m:   1e-4 * math.Sin(phase),
				domain.FeatureRV1m:    1e-6 * (1 + math.Abs(math.Cos(phase))),
				domain.FeatureZVol1m:  1.5 * math.Sin(phase/3),
				domain.FeatureACF1Ret: 0.1 * math.Cos(phase/5),
			},
		})
	}
	return store.InsertBulk(ctx, rows)
}

// loadFlips writes 24 flips 12 hours apart starting one day in, plus two
// inside the day-14 probability window. Timestamps stay 4h-aligned and
// inside the bar span.
func loadFlips(ctx context.Context, store storage.FlipStore) ([]*domain.FlipEvent, error) {
	transitions := [][2]domain.RegimeState{
		{domain.RegimeRange, domain.RegimeBull},
		{domain.RegimeBull, domain.RegimeBear},
		{domain.RegimeBear, domain.RegimeRange},
	}
	flips := make([]*domain.FlipEvent, 0, 26)
	for i := 0; i < 24; i++ {
		tr := transitions[i%len(transitions)]
		flips = append(flips, &domain.FlipEvent{
			Symbol:      FixtureSymbol,
			TimestampMs: fixtureStartMs + domain.DayMs + int64(i)*12*3_600_000,
			FromState:   tr[0],
			ToState:     tr[1],
		})
	}
	for i, offset := range []int64{4 * 3_600_000, 8 * 3_600_000} {
		tr := transitions[(24+i)%len(transitions)]
		flips = append(flips, &domain.FlipEvent{
			Symbol:      FixtureSymbol,
			TimestampMs: fixtureStartMs + 14*domain.DayMs + offset,
			FromState:   tr[0],
			ToState:     tr[1],
		})
	}
	if err := store.InsertBulk(ctx, flips); err != nil {
		return nil, err
	}
	return flips, nil
}

func loadSignatures(ctx context.Context, store storage.SignatureStore) ([]*domain.SignatureResult, error) {
	sigs := []*domain.SignatureResult{
		{
			RunID:         FixtureRunID,
			Feature:       domain.FeatureRet1m,
			LagMin:        -30,
			SampleSize:    24,
			Statistic:     fixtureFloat(0.0042),
			TStatNW:       fixtureFloat(2.31),
			PValue:        fixtureFloat(0.008),
			QValueGlobal:  fixtureFloat(0.032),
			QValueSubset:  fixtureFloat(0.024),
			Preregistered: true,
		},
		{
			RunID:        FixtureRunID,
			Feature:      domain.FeatureRV1m,
			LagMin:       -30,
			SampleSize:   24,
			Statistic:    fixtureFloat(0.0009),
			TStatNW:      fixtureFloat(1.12),
			PValue:       fixtureFloat(0.19),
			QValueGlobal: fixtureFloat(0.28),
		},
		{
			RunID:         FixtureRunID,
			Feature:       domain.FeatureZVol1m,
			LagMin:        -60,
			SampleSize:    24,
			Statistic:     fixtureFloat(0.61),
			TStatNW:       fixtureFloat(1.74),
			PValue:        fixtureFloat(0.06),
			QValueGlobal:  fixtureFloat(0.12),
			QValueSubset:  fixtureFloat(0.11),
			Preregistered: true,
		},
	}
	if err := store.InsertBulk(ctx, sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}

// loadProbabilities writes 480 strictly ascending minutes starting at day 14.
func loadProbabilities(ctx context.Context, store storage.ProbabilityStore) error {
	points := make([]*domain.ProbabilityPoint, 0, 480)
	for i := 0; i < 480; i++ {
		points = append(points, &domain.ProbabilityPoint{
			RunID:       FixtureRunID,
			Symbol:      FixtureSymbol,
			TimestampMs: fixtureStartMs + 14*domain.DayMs + int64(i)*domain.MinuteMs,
			P:           0.2 + 0.15*math.Sin(2*math.Pi*float64(i)/120.0),
		})
	}
	return store.InsertBulk(ctx, points)
}

func loadOperatingPoint(ctx context.Context, store storage.AlertParamStore) (*domain.OperatingPoint, error) {
	op := &domain.OperatingPoint{
		RunID: FixtureRunID,
		Params: domain.AlertParams{
			EMAWindow:        3,
			Threshold:        0.562,
			ConsecutiveK:     2,
			MinSeparationMin: 60,
		},
		Alerts:        31,
		TruePositives: 19,
		Coverage:      0.71,
		FAPerDay:      1.6,
	}
	if err := store.Insert(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

func fixtureFloat(v float64) *float64 {
	return &v
}
