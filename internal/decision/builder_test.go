package decision

import (
	"errors"
	"testing"

	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/cpcv"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/sweep"
)

func sig(feature domain.FeatureName, lag int, qSubset *float64, prereg, inconclusive bool) *domain.SignatureResult {
	return &domain.SignatureResult{
		RunID:         "run-1",
		Feature:       feature,
		LagMin:        lag,
		QValueSubset:  qSubset,
		Preregistered: prereg,
		Inconclusive:  inconclusive,
	}
}

func studyFlips(n int) []*domain.FlipEvent {
	flips := make([]*domain.FlipEvent, n)
	for i := range flips {
		flips[i] = &domain.FlipEvent{
			Symbol:      "SOLUSDT",
			TimestampMs: int64(i) * 4 * 3600 * 1000,
			FromState:   domain.RegimeRange,
			ToState:     domain.RegimeBull,
		}
	}
	return flips
}

func TestBuilderCountsSignatures(t *testing.T) {
	cfg := config.Default()
	builder := NewBuilder(cfg.Study, cfg.Gate)

	signatures := []*domain.SignatureResult{
		sig(domain.FeatureRV1m, -30, fp(0.04), true, false),  // validated
		sig(domain.FeatureRV1m, -60, fp(0.40), true, false),  // survives nothing
		sig(domain.FeatureRet1m, -30, nil, true, true),       // inconclusive
		sig(domain.FeatureZVol1m, -30, nil, false, false),    // not pre-registered
	}

	input, err := builder.Build("run-1", "SOLUSDT", StudyOutputs{
		Flips:      studyFlips(8),
		Signatures: signatures,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if input.Flips != 8 {
		t.Errorf("Flips = %d, want 8", input.Flips)
	}
	if input.Hypotheses != 4 {
		t.Errorf("Hypotheses = %d, want 4", input.Hypotheses)
	}
	if input.Inconclusive != 1 {
		t.Errorf("Inconclusive = %d, want 1", input.Inconclusive)
	}
	if input.Validated != 1 {
		t.Errorf("Validated = %d, want 1", input.Validated)
	}
	if input.MinFlips != cfg.Study.MinFlips {
		t.Errorf("MinFlips = %d, want %d", input.MinFlips, cfg.Study.MinFlips)
	}
	if input.FDRThreshold != cfg.Study.FDRThreshold {
		t.Errorf("FDRThreshold = %g, want %g", input.FDRThreshold, cfg.Study.FDRThreshold)
	}
	if input.FABudgetPerDay != cfg.Gate.FABudgetPerDay {
		t.Errorf("FABudgetPerDay = %g, want %g", input.FABudgetPerDay, cfg.Gate.FABudgetPerDay)
	}
}

func TestBuilderBaseRateReference(t *testing.T) {
	cfg := config.Default()
	builder := NewBuilder(cfg.Study, cfg.Gate)

	input, err := builder.Build("run-1", "SOLUSDT", StudyOutputs{
		Flips:    studyFlips(6),
		BaseRate: fp(0.25),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if input.BaseRateBrier == nil {
		t.Fatal("BaseRateBrier should be set")
	}
	if *input.BaseRateBrier != 0.1875 {
		t.Errorf("BaseRateBrier = %g, want 0.1875", *input.BaseRateBrier)
	}
}

func TestBuilderCarriesStageResults(t *testing.T) {
	cfg := config.Default()
	builder := NewBuilder(cfg.Study, cfg.Gate)

	cv := &cpcv.Result{
		RunID: "run-1",
		Aggregate: cpcv.Aggregate{
			Splits:       45,
			Evaluated:    40,
			Excluded:     5,
			MeanBrier:    fp(0.11),
			MeanCoverage: fp(0.55),
		},
	}
	selected := &domain.OperatingPoint{
		RunID:         "run-1",
		Params:        domain.AlertParams{EMAWindow: 1, Threshold: 0.56, ConsecutiveK: 2, MinSeparationMin: 30},
		Alerts:        9,
		TruePositives: 7,
		Coverage:      0.58,
		FAPerDay:      1.4,
	}

	input, err := builder.Build("run-1", "SOLUSDT", StudyOutputs{
		Flips:  studyFlips(6),
		CV:     cv,
		Sweep:  &sweep.Outcome{Selected: selected},
		Checks: ReplayChecks{GateParity: true, Determinism: true},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if input.EvaluatedSplits != 40 {
		t.Errorf("EvaluatedSplits = %d, want 40", input.EvaluatedSplits)
	}
	if input.MeanBrier == nil || *input.MeanBrier != 0.11 {
		t.Errorf("MeanBrier = %v, want 0.11", input.MeanBrier)
	}
	if input.MeanCoverage == nil || *input.MeanCoverage != 0.55 {
		t.Errorf("MeanCoverage = %v, want 0.55", input.MeanCoverage)
	}
	if input.OperatingPoint != selected {
		t.Error("operating point not carried through")
	}
	if !input.GateParityOK || !input.DeterminismOK {
		t.Error("replay checks not carried through")
	}
}

func TestBuilderNilStages(t *testing.T) {
	cfg := config.Default()
	builder := NewBuilder(cfg.Study, cfg.Gate)

	input, err := builder.Build("run-1", "SOLUSDT", StudyOutputs{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if input.MeanBrier != nil || input.BaseRateBrier != nil || input.MeanCoverage != nil {
		t.Error("absent stages should leave metrics nil")
	}
	if input.OperatingPoint != nil {
		t.Error("absent sweep should leave no operating point")
	}

	result, err := NewEvaluator().Evaluate(input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Decision != DecisionNOGO {
		t.Errorf("empty study should be NO-GO, got %s", result.Decision)
	}
}

func TestBuilderRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Study.MinFlips = 0
	builder := NewBuilder(cfg.Study, cfg.Gate)

	_, err := builder.Build("run-1", "SOLUSDT", StudyOutputs{})
	if !errors.Is(err, ErrMinFlips) {
		t.Errorf("expected ErrMinFlips, got %v", err)
	}
}
