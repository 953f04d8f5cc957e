// Package orchestrator provides end-to-end study orchestration.
// It coordinates: normalization → detection → signature study →
// cross-validation → sweep → replay verification
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/cpcv"
	"regime-precursor-lab/internal/decision"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/estimator"
	"regime-precursor-lab/internal/eventstudy"
	"regime-precursor-lab/internal/idhash"
	"regime-precursor-lab/internal/normalization"
	"regime-precursor-lab/internal/regimes"
	"regime-precursor-lab/internal/storage"
	"regime-precursor-lab/internal/sweep"
	"regime-precursor-lab/internal/timeline"
	"regime-precursor-lab/internal/verification"
)

// ErrNoBars means the bar store holds no minute bars for the configured
// symbol, so there is nothing to study.
var ErrNoBars = errors.New("no minute bars for symbol")

// Orchestrator coordinates the full study for one symbol.
// Flow: normalization → detection → registration → study → CPCV → sweep →
// verification. Every phase is idempotent over the stores, so rerunning
// under the same run identifier reuses what a previous run persisted.
type Orchestrator struct {
	// Stores
	runStore         storage.RunStore
	barStore         storage.BarStore
	featureStore     storage.FeatureStore
	flipStore        storage.FlipStore
	signatureStore   storage.SignatureStore
	probabilityStore storage.ProbabilityStore
	alertParamStore  storage.AlertParamStore

	// Study configuration
	cfg        *config.Config
	prereg     []domain.Hypothesis
	preregHash string

	// Options
	runID             string
	skipNormalization bool
	verbose           bool
}

// Options for creating Orchestrator.
type Options struct {
	// Required stores
	RunStore         storage.RunStore
	BarStore         storage.BarStore
	FeatureStore     storage.FeatureStore
	FlipStore        storage.FlipStore
	SignatureStore   storage.SignatureStore
	ProbabilityStore storage.ProbabilityStore
	AlertParamStore  storage.AlertParamStore

	// Study configuration
	Config *config.Config

	// Pre-registered hypotheses with the manifest hash recorded on the
	// run row. Both empty when no manifest was supplied.
	Prereg     []domain.Hypothesis
	PreregHash string

	// Options
	RunID             string // reuse an existing identifier; empty generates one
	SkipNormalization bool   // skip if feature rows already exist
	Verbose           bool
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		runStore:          opts.RunStore,
		barStore:          opts.BarStore,
		featureStore:      opts.FeatureStore,
		flipStore:         opts.FlipStore,
		signatureStore:    opts.SignatureStore,
		probabilityStore:  opts.ProbabilityStore,
		alertParamStore:   opts.AlertParamStore,
		cfg:               opts.Config,
		prereg:            opts.Prereg,
		preregHash:        opts.PreregHash,
		runID:             opts.RunID,
		skipNormalization: opts.SkipNormalization,
		verbose:           opts.Verbose,
	}
}

// RunResult contains results from orchestrator execution.
type RunResult struct {
	RunID       string
	Symbol      string
	DataVersion string

	FlipsDetected          int
	HypothesesTested       int
	Validated              int
	SplitsEvaluated        int
	ProbabilityPoints      int
	OperatingPointSelected bool

	// Outputs carries the stage results the decision gate consumes.
	Outputs decision.StudyOutputs

	Errors []string
}

// Run executes the full study pipeline.
// Phases:
//  1. Normalize bars into feature rows
//  2. Detect macro regime flips
//  3. Register the run (data version, config hash, prereg hash)
//  4. Signature study with FDR correction
//  5. Purged cross-validation (only with a validated signal)
//  6. Alert grid sweep (only with a probability series)
//  7. Replay verification (only with an operating point)
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	symbol := o.cfg.Symbol
	result := &RunResult{Symbol: symbol}

	// Phase 1: Normalization
	if !o.skipNormalization {
		o.log("Phase 1: Normalizing %s...", symbol)
		if err := o.runNormalization(ctx, symbol); err != nil {
			return nil, fmt.Errorf("phase 1 (normalization) failed: %w", err)
		}
	} else {
		o.log("Phase 1: Skipping normalization (skipNormalization=true)")
	}

	// Phase 2: Regime detection
	o.log("Phase 2: Detecting regime flips...")
	flips, err := o.runDetection(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("phase 2 (regime detection) failed: %w", err)
	}
	result.FlipsDetected = len(flips)
	result.Outputs.Flips = flips
	o.log("  Detected %d flips", len(flips))

	// Phase 3: Run registration
	o.log("Phase 3: Registering run...")
	run, fromMs, toMs, err := o.registerRun(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("phase 3 (run registration) failed: %w", err)
	}
	result.RunID = run.RunID
	result.DataVersion = run.DataVersion
	o.log("  Run %s (data_version=%s)", run.RunID, run.DataVersion)

	// Phase 4: Signature study
	o.log("Phase 4: Running signature study...")
	tl, err := o.buildTimeline(ctx, symbol, flips)
	if err != nil {
		return nil, fmt.Errorf("phase 4 (signature study) failed: %w", err)
	}
	sigs, validated, err := o.runStudy(ctx, run.RunID, tl)
	if err != nil {
		return nil, fmt.Errorf("phase 4 (signature study) failed: %w", err)
	}
	result.HypothesesTested = len(sigs)
	result.Validated = validated
	result.Outputs.Signatures = sigs
	o.log("  Tested %d hypotheses, %d validated", len(sigs), validated)

	// Phase 5: Cross-validation. A model is only fit once the study has
	// validated at least one pre-registered hypothesis.
	if validated > 0 {
		o.log("Phase 5: Running cross-validation...")
		cv, baseRate, err := o.runCrossValidation(ctx, run.RunID, tl)
		if err != nil {
			return nil, fmt.Errorf("phase 5 (cross-validation) failed: %w", err)
		}
		result.SplitsEvaluated = cv.Aggregate.Evaluated
		result.ProbabilityPoints = len(cv.OOF)
		result.Outputs.CV = cv
		result.Outputs.BaseRate = &baseRate
		o.log("  Evaluated %d of %d splits, %d probability points",
			cv.Aggregate.Evaluated, cv.Aggregate.Splits, len(cv.OOF))
	} else {
		o.log("Phase 5: Skipping cross-validation (no validated signal)")
	}

	// Phase 6: Operating point sweep
	if result.ProbabilityPoints > 0 {
		o.log("Phase 6: Sweeping alert grid...")
		runner := sweep.NewRunner(o.probabilityStore, o.flipStore, o.alertParamStore)
		outcome, err := runner.Run(ctx, run.RunID, symbol, o.cfg.Gate, o.cfg.CPCV.HorizonMin)
		if err != nil {
			return nil, fmt.Errorf("phase 6 (sweep) failed: %w", err)
		}
		result.Outputs.Sweep = outcome
		result.OperatingPointSelected = outcome.Selected != nil
		if outcome.Selected != nil {
			p := outcome.Selected.Params
			o.log("  Selected ema=%d threshold=%.3f k=%d sep=%dm (coverage=%.2f, fa/day=%.2f)",
				p.EMAWindow, p.Threshold, p.ConsecutiveK, p.MinSeparationMin,
				outcome.Selected.Coverage, outcome.Selected.FAPerDay)
		} else {
			o.log("  No cell met the false-alarm budget (%d cells swept)", len(outcome.Results))
		}
	} else {
		o.log("Phase 6: Skipping sweep (no probability series)")
	}

	// Phase 7: Replay verification
	if result.OperatingPointSelected {
		o.log("Phase 7: Verifying replay...")
		checks, err := o.runVerification(ctx, run.RunID, symbol, fromMs, toMs)
		if err != nil {
			// A crashed verifier leaves both checks false, which the gate
			// turns into NO-GO without losing the rest of the run.
			result.Errors = append(result.Errors, fmt.Sprintf("verification: %v", err))
			o.log("  Verification error: %v", err)
		} else {
			result.Outputs.Checks = checks
			o.log("  Gate parity match=%t, rerun determinism match=%t",
				checks.GateParity, checks.Determinism)
		}
	} else {
		o.log("Phase 7: Skipping verification (no operating point)")
	}

	o.log("Study completed: run %s, %d flips, %d/%d hypotheses validated, %d errors",
		result.RunID, result.FlipsDetected, result.Validated,
		result.HypothesesTested, len(result.Errors))

	return result, nil
}

// runNormalization derives feature rows from the stored bars.
func (o *Orchestrator) runNormalization(ctx context.Context, symbol string) error {
	return normalization.NewRunner(o.barStore, o.featureStore).NormalizeSymbol(ctx, symbol)
}

// runDetection classifies the macro grid and persists the flips.
func (o *Orchestrator) runDetection(ctx context.Context, symbol string) ([]*domain.FlipEvent, error) {
	runner := regimes.NewRunner(o.barStore, o.flipStore).WithConfig(o.detectorConfig())
	_, flips, err := runner.DetectSymbol(ctx, symbol)
	return flips, err
}

// registerRun fingerprints the minute grid and persists the run row.
// Returns the row plus the grid's time bounds for the later rerun check.
func (o *Orchestrator) registerRun(ctx context.Context, symbol string) (*domain.Run, int64, int64, error) {
	bars, err := o.barStore.GetBySymbol(ctx, symbol, domain.BarInterval1m)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("load 1m bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: symbol=%s", ErrNoBars, symbol)
	}
	fromMs, toMs := bars[0].TimestampMs, bars[len(bars)-1].TimestampMs

	dataVersion := idhash.ComputeDataVersion([]string{
		"symbol=" + symbol,
		fmt.Sprintf("bars=%d", len(bars)),
		fmt.Sprintf("from=%d", fromMs),
		fmt.Sprintf("to=%d", toMs),
	})
	configHash, err := o.cfg.Hash()
	if err != nil {
		return nil, 0, 0, err
	}

	runID := o.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	run := &domain.Run{
		RunID:       runID,
		Symbol:      symbol,
		DataVersion: dataVersion,
		ConfigHash:  configHash,
		PreregHash:  o.preregHash,
		Seed:        o.cfg.Study.Seed,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	// A rerun under the same identifier keeps the original row.
	if err := o.runStore.Insert(ctx, run); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return nil, 0, 0, fmt.Errorf("insert run: %w", err)
	}
	return run, fromMs, toMs, nil
}

// buildTimeline assembles the study timeline from the stored feature rows
// and the detected flips.
func (o *Orchestrator) buildTimeline(ctx context.Context, symbol string, flips []*domain.FlipEvent) (*timeline.Timeline, error) {
	stored, err := o.featureStore.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load feature rows: %w", err)
	}
	rows := make([]domain.FeatureRow, len(stored))
	for i, r := range stored {
		rows[i] = *r
	}
	events := make([]domain.FlipEvent, len(flips))
	for i, f := range flips {
		events[i] = *f
	}
	return timeline.New(symbol, rows, events)
}

// runStudy tests every hypothesis, persists the results, and counts the
// validated ones.
func (o *Orchestrator) runStudy(ctx context.Context, runID string, tl *timeline.Timeline) ([]*domain.SignatureResult, int, error) {
	sigs, err := eventstudy.NewEngine().Run(ctx, tl, eventstudy.StudyParams{
		RunID:           runID,
		Lags:            o.cfg.Study.Lags,
		Permutations:    o.cfg.Study.Permutations,
		Seed:            o.cfg.Study.Seed,
		MinFlips:        o.cfg.Study.MinFlips,
		MinEventSamples: o.cfg.Study.MinEventSamples,
		Prereg:          o.prereg,
	})
	if err != nil {
		return nil, 0, err
	}

	if len(sigs) > 0 {
		// Skip duplicate key errors (already studied under this run)
		if err := o.signatureStore.InsertBulk(ctx, sigs); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, 0, fmt.Errorf("store signatures: %w", err)
		}
	}

	var validated int
	for _, sig := range sigs {
		if sig.Validated(o.cfg.Study.FDRThreshold) {
			validated++
		}
	}
	return sigs, validated, nil
}

// runCrossValidation fits and evaluates the flip-probability model, persists
// the out-of-fold series, and computes the positive-label base rate.
func (o *Orchestrator) runCrossValidation(ctx context.Context, runID string, tl *timeline.Timeline) (*cpcv.Result, float64, error) {
	est, err := estimator.FromConfig(estimator.Config{
		Name:      o.cfg.CPCV.Estimator,
		Calibrate: o.cfg.CPCV.Calibrate,
	})
	if err != nil {
		return nil, 0, err
	}

	result, err := cpcv.NewRunner(est).Run(ctx, tl, cpcv.RunParams{
		RunID: runID,
		Split: cpcv.SplitParams{
			Blocks:          o.cfg.CPCV.Blocks,
			GroupSize:       o.cfg.CPCV.GroupSize,
			MaxCombinations: o.cfg.CPCV.MaxCombinations,
			HorizonMin:      o.cfg.CPCV.HorizonMin,
			EmbargoMin:      o.cfg.CPCV.EmbargoMin,
			LookbackMin:     normalization.DefaultFeatureWindows().MaxLookbackMin(),
		},
		EvalThreshold: o.cfg.CPCV.EvalThreshold,
	})
	if err != nil {
		return nil, 0, err
	}

	if len(result.OOF) > 0 {
		// Skip duplicate key errors (series already stored under this run)
		if err := o.probabilityStore.InsertBulk(ctx, result.OOF); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, 0, fmt.Errorf("store probability series: %w", err)
		}
	}

	labels := tl.Labels(o.cfg.CPCV.HorizonMin)
	var positives int
	for _, l := range labels {
		positives += l
	}
	baseRate := float64(positives) / float64(len(labels))
	return result, baseRate, nil
}

// runVerification runs gate parity and rerun determinism over [fromMs, toMs].
func (o *Orchestrator) runVerification(ctx context.Context, runID, symbol string, fromMs, toMs int64) (decision.ReplayChecks, error) {
	runner := verification.NewRunner(
		verification.NewParityVerifier(o.probabilityStore, o.alertParamStore),
		verification.NewRerunVerifier(o.flipStore, o.barStore, o.detectorConfig()),
	)
	report, err := runner.Run(ctx, runID, symbol, fromMs, toMs)
	if err != nil {
		return decision.ReplayChecks{}, err
	}
	return decision.ReplayChecks{
		GateParity:  report.Parity.Match,
		Determinism: report.Rerun.Match,
	}, nil
}

// detectorConfig maps the regime section of the study config onto the
// detector's parameters.
func (o *Orchestrator) detectorConfig() regimes.DetectorConfig {
	r := o.cfg.Regime
	return regimes.DetectorConfig{
		SlopeWindow: r.SlopeWindow,
		R2Min:       r.R2Min,
		Hysteresis:  r.Hysteresis,
		VolWindow:   r.VolWindow,
		VolLowPct:   r.VolLowPct,
		VolHighPct:  r.VolHighPct,
	}
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		log.Printf("[orchestrator] "+format, args...)
	}
}
