package simulation

import (
	"context"
	"errors"
	"fmt"

	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/storage"
)

// Session summarizes one simulated stream.
type Session struct {
	RunID   string
	Symbol  string
	Rows    int // rows consumed
	Skipped int // warmup rows with undefined features
	Points  []*domain.ProbabilityPoint
	Alerts  []*domain.Alert
}

// Runner drives a simulator over a feature stream and persists the emitted
// probability series. The stored series is what the parity check replays
// later, so it must be exactly what the gate saw.
type Runner struct {
	probStore storage.ProbabilityStore
}

// NewRunner creates a session runner. probStore may be nil for dry runs.
func NewRunner(probStore storage.ProbabilityStore) *Runner {
	return &Runner{probStore: probStore}
}

// Run feeds every row through the simulator in order:
//  1. Per row: predict and gate via Simulator.OnRow.
//  2. Collect the probability series and fired alerts.
//  3. Persist the series, tolerating duplicates on rerun.
func (r *Runner) Run(ctx context.Context, sim *Simulator, rows []*domain.FeatureRow) (*Session, error) {
	session := &Session{RunID: sim.runID, Symbol: sim.symbol}

	for _, row := range rows {
		point, alert, err := sim.OnRow(row)
		if err != nil {
			return nil, err
		}
		session.Rows++
		if point == nil {
			session.Skipped++
			continue
		}
		session.Points = append(session.Points, point)
		if alert != nil {
			session.Alerts = append(session.Alerts, alert)
		}
	}

	if r.probStore != nil && len(session.Points) > 0 {
		err := r.probStore.InsertBulk(ctx, session.Points)
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("persist probability series: %w", err)
		}
	}

	return session, nil
}
