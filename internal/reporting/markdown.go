package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Study Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Run provenance
	sb.WriteString("## Run\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Run ID | %s |\n", r.Run.RunID))
	sb.WriteString(fmt.Sprintf("| Symbol | %s |\n", r.Run.Symbol))
	sb.WriteString(fmt.Sprintf("| Data Version | %s |\n", r.Run.DataVersion))
	sb.WriteString(fmt.Sprintf("| Config Hash | %s |\n", r.Run.ConfigHash))
	if r.Run.PreregHash != "" {
		sb.WriteString(fmt.Sprintf("| Prereg Hash | %s |\n", r.Run.PreregHash))
	}
	sb.WriteString(fmt.Sprintf("| Seed | %d |\n", r.Run.Seed))
	sb.WriteString(fmt.Sprintf("| Created (ms) | %d |\n", r.Run.CreatedAtMs))
	sb.WriteString("\n")

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Flips | %d |\n", r.DataSummary.Flips))
	sb.WriteString(fmt.Sprintf("| Flip Span Start (ms) | %d |\n", r.DataSummary.FlipSpanStartMs))
	sb.WriteString(fmt.Sprintf("| Flip Span End (ms) | %d |\n", r.DataSummary.FlipSpanEndMs))
	sb.WriteString(fmt.Sprintf("| Hypotheses | %d |\n", r.DataSummary.Hypotheses))
	sb.WriteString(fmt.Sprintf("| Preregistered | %d |\n", r.DataSummary.Preregistered))
	sb.WriteString(fmt.Sprintf("| Inconclusive | %d |\n", r.DataSummary.Inconclusive))
	sb.WriteString(fmt.Sprintf("| Validated (q < %.2f) | %d |\n", r.FDRThreshold, r.DataSummary.Validated))
	sb.WriteString("\n")

	// Data Quality
	sb.WriteString("## Data Quality\n\n")
	if len(r.DataQuality.SufficiencyChecks) > 0 {
		sb.WriteString("### Sufficiency Checks\n\n")
		sb.WriteString("| Check | Threshold | Actual | Status |\n")
		sb.WriteString("|-------|-----------|--------|--------|\n")
		for _, check := range r.DataQuality.SufficiencyChecks {
			status := "FAIL"
			if check.Pass {
				status = "PASS"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				check.Name, check.Threshold, check.Actual, status))
		}
		sb.WriteString("\n")

		// Overall status
		if r.DataQuality.AllChecksPassed {
			sb.WriteString("**All checks passed.** Proceeding with decision evaluation.\n\n")
		} else {
			sb.WriteString("**Some checks failed.** Decision: NO-GO (insufficient data)\n\n")
		}
	} else if len(r.DataQuality.IntegrityErrors) == 0 {
		sb.WriteString("No data quality checks performed.\n\n")
	}

	// Integrity errors (always shown if present, even without sufficiency checks)
	if len(r.DataQuality.IntegrityErrors) > 0 {
		sb.WriteString("### Integrity Errors\n\n")
		for _, err := range r.DataQuality.IntegrityErrors {
			sb.WriteString(fmt.Sprintf("- %s\n", err))
		}
		sb.WriteString("\n")
	}

	// Signature tests
	sb.WriteString("## Signature Tests\n\n")
	if len(r.Signatures) > 0 {
		sb.WriteString("| Feature | Lag (min) | N | Statistic | t (NW) | p | q_global | q_subset | Prereg | Status |\n")
		sb.WriteString("|---------|-----------|---|-----------|--------|---|----------|----------|--------|--------|\n")
		for _, s := range r.Signatures {
			prereg := "no"
			if s.Preregistered {
				prereg = "yes"
			}
			status := "ok"
			if s.Inconclusive {
				status = s.Reason
			}
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %s | %s | %s | %s | %s | %s | %s |\n",
				s.Feature, s.LagMin, s.SampleSize,
				mdFloat(s.Statistic), mdFloat(s.TStatNW), mdFloat(s.PValue),
				mdFloat(s.QValueGlobal), mdFloat(s.QValueSubset),
				prereg, status))
		}
	} else {
		sb.WriteString("No signature results stored.\n")
	}
	sb.WriteString("\n")

	// Probability stream
	sb.WriteString("## Probability Stream\n\n")
	if r.Stream != nil {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Rows | %d |\n", r.Stream.Rows))
		sb.WriteString(fmt.Sprintf("| Flips in Span | %d |\n", r.Stream.Flips))
		sb.WriteString(fmt.Sprintf("| Positive Rows | %d |\n", r.Stream.Positives))
		sb.WriteString(fmt.Sprintf("| Base Rate | %.4f |\n", r.Stream.BaseRate))
		sb.WriteString(fmt.Sprintf("| Brier | %.4f |\n", r.Stream.Brier))
		if r.Stream.Probs != nil {
			p := r.Stream.Probs
			sb.WriteString(fmt.Sprintf("| p mean / std | %.4f / %.4f |\n", p.Mean, p.Std))
			sb.WriteString(fmt.Sprintf("| p min / p50 / max | %.4f / %.4f / %.4f |\n", p.Min, p.P50, p.Max))
		}
	} else {
		sb.WriteString("No probability series stored.\n")
	}
	sb.WriteString("\n")

	// Operating point
	sb.WriteString("## Operating Point\n\n")
	if r.OperatingPoint != nil {
		op := r.OperatingPoint
		sb.WriteString("| Field | Value |\n")
		sb.WriteString("|-------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Threshold | %.3f |\n", op.Params.Threshold))
		sb.WriteString(fmt.Sprintf("| Consecutive K | %d |\n", op.Params.ConsecutiveK))
		sb.WriteString(fmt.Sprintf("| EMA Window | %d |\n", op.Params.EMAWindow))
		sb.WriteString(fmt.Sprintf("| Min Separation (min) | %d |\n", op.Params.MinSeparationMin))
		sb.WriteString(fmt.Sprintf("| Alerts | %d |\n", op.Alerts))
		sb.WriteString(fmt.Sprintf("| True Positives | %d |\n", op.TruePositives))
		sb.WriteString(fmt.Sprintf("| Coverage | %.4f |\n", op.Coverage))
		sb.WriteString(fmt.Sprintf("| False Alarms / Day | %.4f |\n", op.FAPerDay))
	} else {
		sb.WriteString("No operating point met the false-alarm budget.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

// mdFloat formats an optional statistic; an undefined value renders as n/a.
func mdFloat(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}
