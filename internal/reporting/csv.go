package reporting

import (
	"fmt"
	"strings"

	"regime-precursor-lab/internal/domain"
)

// RenderCSV renders signature results as CSV string. Undefined statistics
// render as empty cells, never as zeros.
func RenderCSV(results []*domain.SignatureResult) string {
	var sb strings.Builder

	// Header
	sb.WriteString("feature,lag_min,sample_size,statistic,t_stat_nw,p_value,")
	sb.WriteString("q_value_global,q_value_subset,preregistered,inconclusive,reason\n")

	// Rows
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%s,%s,%s,%s,%s,%t,%t,%s\n",
			r.Feature,
			r.LagMin,
			r.SampleSize,
			csvFloat(r.Statistic),
			csvFloat(r.TStatNW),
			csvFloat(r.PValue),
			csvFloat(r.QValueGlobal),
			csvFloat(r.QValueSubset),
			r.Preregistered,
			r.Inconclusive,
			r.Reason,
		))
	}

	return sb.String()
}

// csvFloat formats an optional statistic; an undefined value stays empty.
func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.6f", *v)
}
