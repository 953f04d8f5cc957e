package decision

import (
	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/cpcv"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/sweep"
)

// ReplayChecks carries the outcome of the post-study replay verifications.
type ReplayChecks struct {
	GateParity  bool
	Determinism bool
}

// StudyOutputs collects the per-stage results the builder reads. Nil stage
// results mean the stage did not run, which the gate treats the same as the
// stage producing nothing.
type StudyOutputs struct {
	Flips      []*domain.FlipEvent
	Signatures []*domain.SignatureResult
	BaseRate   *float64       // positive-label share of the cross-validated rows
	CV         *cpcv.Result   // cross-validation result
	Sweep      *sweep.Outcome // grid-search outcome
	Checks     ReplayChecks
}

// BaseRateBrier returns the Brier score of constantly forecasting the base
// rate r. It is the reference a skillful model must score strictly below.
func BaseRateBrier(r float64) float64 {
	return r * (1 - r)
}

// Builder assembles gate inputs from study outputs under fixed study and
// gate configuration.
type Builder struct {
	study config.StudyConfig
	gate  config.GateConfig
}

// NewBuilder creates a builder bound to the given configuration.
func NewBuilder(study config.StudyConfig, gate config.GateConfig) *Builder {
	return &Builder{study: study, gate: gate}
}

// Build creates the gate Input for one run. Validation happens here so a
// misconfigured gate fails before any criterion is rendered.
func (b *Builder) Build(runID, symbol string, out StudyOutputs) (Input, error) {
	input := Input{
		RunID:  runID,
		Symbol: symbol,

		Flips:        len(out.Flips),
		MinFlips:     b.study.MinFlips,
		Hypotheses:   len(out.Signatures),
		FDRThreshold: b.study.FDRThreshold,

		FABudgetPerDay: b.gate.FABudgetPerDay,

		GateParityOK:  out.Checks.GateParity,
		DeterminismOK: out.Checks.Determinism,
	}

	for _, sig := range out.Signatures {
		if sig.Inconclusive {
			input.Inconclusive++
		}
		if sig.Validated(b.study.FDRThreshold) {
			input.Validated++
		}
	}

	if out.CV != nil {
		input.EvaluatedSplits = out.CV.Aggregate.Evaluated
		input.MeanBrier = out.CV.Aggregate.MeanBrier
		input.MeanCoverage = out.CV.Aggregate.MeanCoverage
	}
	if out.BaseRate != nil {
		ref := BaseRateBrier(*out.BaseRate)
		input.BaseRateBrier = &ref
	}

	if out.Sweep != nil {
		input.OperatingPoint = out.Sweep.Selected
	}

	if err := input.Validate(); err != nil {
		return Input{}, err
	}
	return input, nil
}
