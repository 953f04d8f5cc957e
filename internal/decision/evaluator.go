package decision

import "fmt"

// Evaluator applies the go/no-go criteria to a completed study run.
type Evaluator struct{}

// NewEvaluator creates a new decision evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate produces the gate Result for one run.
// GO if ALL criteria pass and NO trigger fires.
// NO-GO if ANY criterion fails or ANY trigger fires.
func (e *Evaluator) Evaluate(input Input) (*Result, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	goCriteria := e.evaluateGOCriteria(input)
	nogoChecks := e.evaluateNOGOTriggers(input)

	allGOPass := true
	for _, c := range goCriteria {
		if !c.Pass {
			allGOPass = false
			break
		}
	}

	anyTriggered := false
	for _, c := range nogoChecks {
		if !c.Pass { // Pass=false means triggered
			anyTriggered = true
			break
		}
	}

	decision := DecisionGO
	if !allGOPass || anyTriggered {
		decision = DecisionNOGO
	}

	return &Result{
		RunID:      input.RunID,
		Symbol:     input.Symbol,
		Decision:   decision,
		GOCriteria: goCriteria,
		NOGOChecks: nogoChecks,
	}, nil
}

// evaluateGOCriteria evaluates the 5 GO criteria.
func (e *Evaluator) evaluateGOCriteria(input Input) []CriterionResult {
	criteria := make([]CriterionResult, 5)

	// 1. Enough flip events for the permutation test to carry weight.
	criteria[0] = CriterionResult{
		Name:      "Sufficient flip events",
		Threshold: fmt.Sprintf(">= %d flips", input.MinFlips),
		Actual:    fmt.Sprintf("%d flips", input.Flips),
		Pass:      input.Flips >= input.MinFlips,
	}

	// 2. At least one pre-registered signature survives FDR.
	criteria[1] = CriterionResult{
		Name:      "Validated precursor signature",
		Threshold: fmt.Sprintf(">= 1 at q < %.2f", input.FDRThreshold),
		Actual:    fmt.Sprintf("%d of %d validated", input.Validated, input.Hypotheses),
		Pass:      input.Validated >= 1,
	}

	// 3. Out-of-fold probabilities beat a constant base-rate forecast.
	skillPass := false
	skillActual := "Brier undefined"
	if input.MeanBrier != nil && input.BaseRateBrier != nil {
		skillPass = *input.MeanBrier < *input.BaseRateBrier
		skillActual = fmt.Sprintf("Brier=%.4f, base=%.4f", *input.MeanBrier, *input.BaseRateBrier)
	}
	criteria[2] = CriterionResult{
		Name:      "Skill over base rate",
		Threshold: "mean OOF Brier < base-rate Brier",
		Actual:    skillActual,
		Pass:      skillPass,
	}

	// 4. The sweep found an operating point inside the alarm budget.
	opActual := "none selected"
	if op := input.OperatingPoint; op != nil {
		opActual = fmt.Sprintf("thr=%.3f, cov=%.2f, fa/day=%.2f",
			op.Params.Threshold, op.Coverage, op.FAPerDay)
	}
	criteria[3] = CriterionResult{
		Name:      "Operating point under budget",
		Threshold: fmt.Sprintf("coverage > 0 at <= %.1f false alarms/day", input.FABudgetPerDay),
		Actual:    opActual,
		Pass:      input.OperatingPoint != nil,
	}

	// 5. Incremental gate matched the batch pass and the rerun matched
	// the stored flips.
	criteria[4] = CriterionResult{
		Name:      "Replay checks clean",
		Threshold: "gate parity AND rerun determinism",
		Actual:    fmt.Sprintf("parity=%t, determinism=%t", input.GateParityOK, input.DeterminismOK),
		Pass:      input.GateParityOK && input.DeterminismOK,
	}

	return criteria
}

// evaluateNOGOTriggers evaluates the 4 NO-GO triggers.
// Pass=true means NOT triggered, Pass=false means triggered.
func (e *Evaluator) evaluateNOGOTriggers(input Input) []CriterionResult {
	checks := make([]CriterionResult, 4)

	// 1. Every signature inconclusive, or nothing tested at all.
	triggered1 := input.Hypotheses == 0 || input.Inconclusive == input.Hypotheses
	checks[0] = CriterionResult{
		Name:      "Study inconclusive",
		Threshold: "all signatures inconclusive",
		Actual:    fmt.Sprintf("%d of %d inconclusive", input.Inconclusive, input.Hypotheses),
		Pass:      !triggered1,
	}

	// 2. No out-of-fold skill. An undefined Brier triggers too.
	triggered2 := input.MeanBrier == nil || input.BaseRateBrier == nil ||
		*input.MeanBrier >= *input.BaseRateBrier
	actual2 := "Brier undefined"
	if input.MeanBrier != nil && input.BaseRateBrier != nil {
		actual2 = fmt.Sprintf("Brier=%.4f, base=%.4f", *input.MeanBrier, *input.BaseRateBrier)
	}
	checks[1] = CriterionResult{
		Name:      "No skill over base rate",
		Threshold: "mean OOF Brier >= base-rate Brier, or undefined",
		Actual:    actual2,
		Pass:      !triggered2,
	}

	// 3. Splits had coverable flips and the model covered none of them.
	triggered3 := input.MeanCoverage != nil && *input.MeanCoverage == 0
	actual3 := "coverage undefined"
	if input.MeanCoverage != nil {
		actual3 = fmt.Sprintf("mean coverage %.2f", *input.MeanCoverage)
	}
	checks[2] = CriterionResult{
		Name:      "Coverage collapse",
		Threshold: "mean OOF coverage == 0",
		Actual:    actual3,
		Pass:      !triggered3,
	}

	// 4. Any replay check failed.
	triggered4 := !input.GateParityOK || !input.DeterminismOK
	checks[3] = CriterionResult{
		Name:      "Replay divergence",
		Threshold: "parity or determinism check failed",
		Actual:    fmt.Sprintf("parity=%t, determinism=%t", input.GateParityOK, input.DeterminismOK),
		Pass:      !triggered4,
	}

	return checks
}
