package decision

import (
	"errors"
	"fmt"

	"regime-precursor-lab/internal/domain"
)

// Decision is the final verdict over a completed study run.
type Decision string

const (
	DecisionGO   Decision = "GO"
	DecisionNOGO Decision = "NO-GO"
)

var (
	ErrMinFlips = errors.New("decision min_flips must be positive")
	ErrFDRBound = errors.New("decision fdr threshold must be in (0, 1)")
	ErrFABudget = errors.New("decision false-alarm budget must be non-negative")
	ErrCounts   = errors.New("decision counts must be non-negative and consistent")
)

// Input carries the study outputs the gate is evaluated against.
//
// Pointer fields keep the upstream convention: nil means the quantity was
// undefined for this run (no evaluated split, no coverable flip, no grid
// cell under budget), which is not the same as zero.
type Input struct {
	RunID  string
	Symbol string

	// Event study.
	Flips        int // detected regime flips in the study window
	MinFlips     int // below this the study is inconclusive
	Hypotheses   int // signatures tested
	Inconclusive int // signatures that could not be tested
	Validated    int // pre-registered signatures with subset q below FDRThreshold
	FDRThreshold float64

	// Cross-validation.
	EvaluatedSplits int
	MeanBrier       *float64 // out-of-fold Brier, nil when nothing was evaluated
	BaseRateBrier   *float64 // constant base-rate forecast on the same rows
	MeanCoverage    *float64 // nil when no split had a coverable flip

	// Threshold sweep.
	OperatingPoint *domain.OperatingPoint // nil when no grid cell met the budget
	FABudgetPerDay float64

	// Replay checks.
	GateParityOK  bool
	DeterminismOK bool
}

// Validate rejects inputs whose fixed parameters make the gate meaningless.
func (in Input) Validate() error {
	if in.MinFlips <= 0 {
		return fmt.Errorf("%w: got %d", ErrMinFlips, in.MinFlips)
	}
	if in.FDRThreshold <= 0 || in.FDRThreshold >= 1 {
		return fmt.Errorf("%w: got %g", ErrFDRBound, in.FDRThreshold)
	}
	if in.FABudgetPerDay < 0 {
		return fmt.Errorf("%w: got %g", ErrFABudget, in.FABudgetPerDay)
	}
	if in.Flips < 0 || in.Hypotheses < 0 || in.Inconclusive < 0 || in.Validated < 0 || in.EvaluatedSplits < 0 {
		return ErrCounts
	}
	if in.Inconclusive > in.Hypotheses || in.Validated > in.Hypotheses {
		return fmt.Errorf("%w: %d inconclusive, %d validated of %d tested",
			ErrCounts, in.Inconclusive, in.Validated, in.Hypotheses)
	}
	return nil
}

// CriterionResult is one evaluated criterion row.
type CriterionResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// Result is the evaluated gate: the verdict plus every criterion row that
// produced it.
type Result struct {
	RunID  string
	Symbol string

	Decision   Decision
	GOCriteria []CriterionResult // 5 GO criteria
	NOGOChecks []CriterionResult // 4 NO-GO triggers, Pass=false means fired
}
