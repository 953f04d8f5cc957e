package verification

import "context"

// Report carries both replay-check outcomes for one run.
type Report struct {
	Parity *ParityResult
	Rerun  *RerunResult
}

// OK reports whether both checks matched.
func (r *Report) OK() bool {
	return r.Parity != nil && r.Parity.Match && r.Rerun != nil && r.Rerun.Match
}

// Runner bundles the two replay checks behind a single call.
type Runner struct {
	parity *ParityVerifier
	rerun  *RerunVerifier
}

// NewRunner creates a runner over pre-built verifiers.
func NewRunner(parity *ParityVerifier, rerun *RerunVerifier) *Runner {
	return &Runner{parity: parity, rerun: rerun}
}

// Run executes the parity check for the run and the rerun check over
// [from, to].
func (r *Runner) Run(ctx context.Context, runID, symbol string, from, to int64) (*Report, error) {
	parity, err := r.parity.Verify(ctx, runID, symbol)
	if err != nil {
		return nil, err
	}
	rerun, err := r.rerun.Verify(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	return &Report{Parity: parity, Rerun: rerun}, nil
}
