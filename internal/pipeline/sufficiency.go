package pipeline

import (
	"context"
	"fmt"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/replay"
	"regime-precursor-lab/internal/storage"
)

// SufficiencyCheck represents one data sufficiency criterion.
type SufficiencyCheck struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// SufficiencyResult contains all 6 checks.
type SufficiencyResult struct {
	Checks  []SufficiencyCheck
	AllPass bool
	Errors  []string // data integrity errors
}

// Thresholds are the minimum data requirements a run must meet before its
// outputs can support a decision.
type Thresholds struct {
	MinFlips        int     // detected regime flips
	MinCoverageDays float64 // span of stored 1m bars
	MaxGapShare     float64 // tolerated share of missing minutes inside the span
	MinFeatureShare float64 // feature rows per stored 1m bar
}

// DefaultThresholds returns the standard requirements. MinFlips matches the
// study default; feature share stays below 1.0 because rolling z-scores are
// undefined during warmup.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinFlips:        5,
		MinCoverageDays: 14,
		MaxGapShare:     0.20,
		MinFeatureShare: 0.50,
	}
}

// SufficiencyChecker validates data sufficiency before decision.
type SufficiencyChecker struct {
	barStore     storage.BarStore
	featureStore storage.FeatureStore
	flipStore    storage.FlipStore
	replayRunner *replay.Runner
	thresholds   Thresholds
}

// NewSufficiencyChecker creates a new sufficiency checker.
func NewSufficiencyChecker(
	barStore storage.BarStore,
	featureStore storage.FeatureStore,
	flipStore storage.FlipStore,
	replayRunner *replay.Runner,
	thresholds Thresholds,
) *SufficiencyChecker {
	return &SufficiencyChecker{
		barStore:     barStore,
		featureStore: featureStore,
		flipStore:    flipStore,
		replayRunner: replayRunner,
		thresholds:   thresholds,
	}
}

// Check performs all 6 sufficiency checks for one run.
func (c *SufficiencyChecker) Check(ctx context.Context, runID, symbol string) (*SufficiencyResult, error) {
	result := &SufficiencyResult{
		Checks:  make([]SufficiencyCheck, 0, 6),
		AllPass: true,
		Errors:  []string{},
	}

	bars, err := c.barStore.GetBySymbol(ctx, symbol, domain.BarInterval1m)
	if err != nil {
		return nil, fmt.Errorf("failed to get 1m bars: %w", err)
	}
	features, err := c.featureStore.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get feature rows: %w", err)
	}
	flips, err := c.flipStore.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get flips: %w", err)
	}

	// Check 1: Regime flips >= MinFlips
	check1 := c.checkFlipCount(flips)
	result.Checks = append(result.Checks, check1)
	if !check1.Pass {
		result.AllPass = false
	}

	// Check 2: 1m bar coverage >= MinCoverageDays
	check2 := c.checkBarCoverage(bars)
	result.Checks = append(result.Checks, check2)
	if !check2.Pass {
		result.AllPass = false
	}

	// Check 3: Minute gap share <= MaxGapShare
	check3 := c.checkMinuteGaps(bars)
	result.Checks = append(result.Checks, check3)
	if !check3.Pass {
		result.AllPass = false
	}

	// Check 4: Feature coverage >= MinFeatureShare
	check4 := c.checkFeatureCoverage(features, bars)
	result.Checks = append(result.Checks, check4)
	if !check4.Pass {
		result.AllPass = false
	}

	// Check 5: Flips outside the bar span == 0
	check5, spanErrors := c.checkFlipsInsideSpan(flips, bars)
	result.Checks = append(result.Checks, check5)
	if !check5.Pass {
		result.AllPass = false
		result.Errors = append(result.Errors, spanErrors...)
	}

	// Check 6: Probability series replayable
	check6, replayErrors := c.checkReplayability(ctx, runID, symbol)
	result.Checks = append(result.Checks, check6)
	if !check6.Pass {
		result.AllPass = false
		result.Errors = append(result.Errors, replayErrors...)
	}

	return result, nil
}

// checkFlipCount: detected regime flips >= MinFlips. Below that the event
// study cannot distinguish a precursor from noise.
func (c *SufficiencyChecker) checkFlipCount(flips []*domain.FlipEvent) SufficiencyCheck {
	count := len(flips)
	return SufficiencyCheck{
		Name:      "Regime flips",
		Threshold: fmt.Sprintf(">= %d", c.thresholds.MinFlips),
		Actual:    fmt.Sprintf("%d", count),
		Pass:      count >= c.thresholds.MinFlips,
	}
}

// checkBarCoverage: span of stored 1m bars >= MinCoverageDays.
func (c *SufficiencyChecker) checkBarCoverage(bars []*domain.Bar) SufficiencyCheck {
	name := "Bar coverage"
	threshold := fmt.Sprintf(">= %.1f days", c.thresholds.MinCoverageDays)

	if len(bars) == 0 {
		return SufficiencyCheck{
			Name:      name,
			Threshold: threshold,
			Actual:    "0.0 days (no 1m bars)",
			Pass:      false,
		}
	}

	// Bars arrive sorted by timestamp ASC; the last minute counts in full.
	spanMs := bars[len(bars)-1].TimestampMs - bars[0].TimestampMs + domain.MinuteMs
	days := float64(spanMs) / float64(domain.DayMs)

	return SufficiencyCheck{
		Name:      name,
		Threshold: threshold,
		Actual:    fmt.Sprintf("%.1f days", days),
		Pass:      days >= c.thresholds.MinCoverageDays,
	}
}

// checkMinuteGaps: share of missing minutes inside the 1m bar span <= MaxGapShare.
// Thin markets legitimately skip minutes, but a large hole means the feed was
// down and downstream features are untrustworthy there.
func (c *SufficiencyChecker) checkMinuteGaps(bars []*domain.Bar) SufficiencyCheck {
	name := "Minute gap share"
	threshold := fmt.Sprintf("<= %.0f%%", c.thresholds.MaxGapShare*100)

	if len(bars) == 0 {
		return SufficiencyCheck{
			Name:      name,
			Threshold: threshold,
			Actual:    "NOT COMPUTED (no 1m bars)",
			Pass:      false,
		}
	}

	expected := (bars[len(bars)-1].TimestampMs-bars[0].TimestampMs)/domain.MinuteMs + 1
	missing := expected - int64(len(bars))
	share := float64(missing) / float64(expected)

	return SufficiencyCheck{
		Name:      name,
		Threshold: threshold,
		Actual:    fmt.Sprintf("%.1f%% (%d of %d minutes missing)", share*100, missing, expected),
		Pass:      share <= c.thresholds.MaxGapShare,
	}
}

// checkFeatureCoverage: feature rows per stored 1m bar >= MinFeatureShare.
func (c *SufficiencyChecker) checkFeatureCoverage(features []*domain.FeatureRow, bars []*domain.Bar) SufficiencyCheck {
	name := "Feature coverage"
	threshold := fmt.Sprintf(">= %.0f%%", c.thresholds.MinFeatureShare*100)

	if len(bars) == 0 {
		return SufficiencyCheck{
			Name:      name,
			Threshold: threshold,
			Actual:    "NOT COMPUTED (no 1m bars)",
			Pass:      false,
		}
	}

	share := float64(len(features)) / float64(len(bars))
	return SufficiencyCheck{
		Name:      name,
		Threshold: threshold,
		Actual:    fmt.Sprintf("%.1f%% (%d rows / %d bars)", share*100, len(features), len(bars)),
		Pass:      share >= c.thresholds.MinFeatureShare,
	}
}

// checkFlipsInsideSpan: flips outside the 1m bar span == 0. A flip with no
// bars around it cannot have been detected from this data, which points at a
// cross-store inconsistency.
func (c *SufficiencyChecker) checkFlipsInsideSpan(flips []*domain.FlipEvent, bars []*domain.Bar) (SufficiencyCheck, []string) {
	name := "Flips inside bar span"

	if len(bars) == 0 {
		if len(flips) == 0 {
			return SufficiencyCheck{
				Name:      name,
				Threshold: "= 0 outside",
				Actual:    "0/0 (no flips)",
				Pass:      true,
			}, nil
		}
		return SufficiencyCheck{
			Name:      name,
			Threshold: "= 0 outside",
			Actual:    fmt.Sprintf("%d outside (no 1m bars)", len(flips)),
			Pass:      false,
		}, []string{fmt.Sprintf("%d flips stored but no 1m bars cover them", len(flips))}
	}

	spanStart := bars[0].TimestampMs
	spanEnd := bars[len(bars)-1].TimestampMs + domain.MinuteMs

	outside := 0
	var errors []string
	for _, f := range flips {
		if f.TimestampMs < spanStart || f.TimestampMs >= spanEnd {
			outside++
			errors = append(errors, fmt.Sprintf("flip %s at %d outside bar span [%d, %d)",
				f.Direction(), f.TimestampMs, spanStart, spanEnd))
		}
	}

	return SufficiencyCheck{
		Name:      name,
		Threshold: "= 0 outside",
		Actual:    fmt.Sprintf("%d of %d outside", outside, len(flips)),
		Pass:      outside == 0,
	}, errors
}

// checkReplayability: the stored probability series must replay cleanly in
// strict timestamp order.
func (c *SufficiencyChecker) checkReplayability(ctx context.Context, runID, symbol string) (SufficiencyCheck, []string) {
	if c.replayRunner == nil {
		return SufficiencyCheck{
			Name:      "Replayable series",
			Threshold: "replays cleanly",
			Actual:    "NOT CONFIGURED (replay runner required)",
			Pass:      false,
		}, []string{"replay runner not configured - cannot verify replayability requirement"}
	}

	if err := c.replayRunner.RunAll(ctx, runID, symbol, &noopEngine{}); err != nil {
		return SufficiencyCheck{
			Name:      "Replayable series",
			Threshold: "replays cleanly",
			Actual:    "FAILED",
			Pass:      false,
		}, []string{fmt.Sprintf("replay failed for run %s: %v", runID, err)}
	}

	return SufficiencyCheck{
		Name:      "Replayable series",
		Threshold: "replays cleanly",
		Actual:    "OK",
		Pass:      true,
	}, nil
}

// noopEngine is a SampleEngine that does nothing - used for replayability check.
type noopEngine struct{}

func (e *noopEngine) OnSample(ctx context.Context, point *domain.ProbabilityPoint) error {
	return nil
}
