package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/decision"
	"regime-precursor-lab/internal/replay"
	"regime-precursor-lab/internal/reporting"
	"regime-precursor-lab/internal/storage"
)

// Output file names.
const (
	ReportFile     = "STUDY_REPORT.md"
	SignaturesFile = "signatures.csv"
	DecisionFile   = "DECISION.md"
)

// StudyPipeline renders the outputs of one completed study run: the report,
// the signature CSV, and the decision gate.
type StudyPipeline struct {
	reportGen          *reporting.Generator
	decisionBuild      *decision.Builder
	decisionEval       *decision.Evaluator
	sufficiencyChecker *SufficiencyChecker
	cfg                *config.Config
	outputDir          string
	clock              func() time.Time
	integrityErrors    []string // additional integrity errors (e.g. from verification)
}

// NewStudyPipeline creates a new pipeline.
func NewStudyPipeline(
	runStore storage.RunStore,
	flipStore storage.FlipStore,
	sigStore storage.SignatureStore,
	paramStore storage.AlertParamStore,
	probStore storage.ProbabilityStore,
	cfg *config.Config,
	outputDir string,
) *StudyPipeline {
	return &StudyPipeline{
		reportGen:     reporting.NewGenerator(runStore, flipStore, sigStore, paramStore, probStore),
		decisionBuild: decision.NewBuilder(cfg.Study, cfg.Gate),
		decisionEval:  decision.NewEvaluator(),
		cfg:           cfg,
		outputDir:     outputDir,
		clock:         func() time.Time { return time.Now().UTC() },
	}
}

// WithSufficiencyChecker adds a sufficiency checker to the pipeline.
func (p *StudyPipeline) WithSufficiencyChecker(
	barStore storage.BarStore,
	featureStore storage.FeatureStore,
	flipStore storage.FlipStore,
	replayRunner *replay.Runner,
	thresholds Thresholds,
) *StudyPipeline {
	p.sufficiencyChecker = NewSufficiencyChecker(barStore, featureStore, flipStore, replayRunner, thresholds)
	return p
}

// WithClock sets a custom clock function for deterministic output.
func (p *StudyPipeline) WithClock(clock func() time.Time) *StudyPipeline {
	p.clock = clock
	p.reportGen = p.reportGen.WithClock(clock)
	return p
}

// WithIntegrityErrors adds additional integrity errors to include in the
// report. These are merged with errors from sufficiency checks; with a
// checker configured they also fail the run.
func (p *StudyPipeline) WithIntegrityErrors(errors []string) *StudyPipeline {
	p.integrityErrors = append(p.integrityErrors, errors...)
	return p
}

// Result summarizes one pipeline run.
type Result struct {
	ChecksPassed bool             // false when a configured checker short-circuited the gate
	Decision     *decision.Result // nil when the gate was not evaluated
	Files        []string         // paths written, in write order
}

// Run renders all outputs for (runID, symbol) and writes them to the output
// directory:
//   - STUDY_REPORT.md
//   - signatures.csv
//   - DECISION.md
//
// When a sufficiency checker is configured and any check fails, the decision
// is NO-GO without evaluating the gate criteria.
func (p *StudyPipeline) Run(ctx context.Context, runID, symbol string, outputs decision.StudyOutputs) (*Result, error) {
	// Ensure output directory exists
	if err := os.MkdirAll(p.outputDir, 0755); err != nil {
		return nil, err
	}

	// 1. Run sufficiency checks FIRST (if configured)
	var dataQuality reporting.DataQualitySection
	if p.sufficiencyChecker != nil {
		suffResult, err := p.sufficiencyChecker.Check(ctx, runID, symbol)
		if err != nil {
			return nil, err
		}
		dataQuality = convertToDataQuality(suffResult)
	}

	// Merge additional integrity errors (e.g. from verification)
	if len(p.integrityErrors) > 0 {
		dataQuality.IntegrityErrors = append(dataQuality.IntegrityErrors, p.integrityErrors...)
		// If we have integrity errors, all checks did not pass
		dataQuality.AllChecksPassed = false
	}

	// 2. Generate the study report (includes data quality section)
	report, err := p.reportGen.Generate(ctx, reporting.Params{
		RunID:        runID,
		Symbol:       symbol,
		FDRThreshold: p.cfg.Study.FDRThreshold,
		HorizonMin:   p.cfg.CPCV.HorizonMin,
	})
	if err != nil {
		return nil, err
	}
	report.DataQuality = dataQuality

	// 3. Write STUDY_REPORT.md
	reportPath := filepath.Join(p.outputDir, ReportFile)
	if err := os.WriteFile(reportPath, []byte(reporting.RenderMarkdown(report)), 0644); err != nil {
		return nil, err
	}

	// 4. Write signatures.csv
	csvPath := filepath.Join(p.outputDir, SignaturesFile)
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(report.Signatures)), 0644); err != nil {
		return nil, err
	}

	result := &Result{ChecksPassed: true, Files: []string{reportPath, csvPath}}
	decisionPath := filepath.Join(p.outputDir, DecisionFile)

	// 5. If sufficiency fails -> NO-GO without evaluating the criteria
	if p.sufficiencyChecker != nil && !dataQuality.AllChecksPassed {
		if err := p.writeInsufficientDataReport(decisionPath, runID, symbol, dataQuality); err != nil {
			return nil, err
		}
		result.ChecksPassed = false
		result.Files = append(result.Files, decisionPath)
		return result, nil
	}

	// 6. Otherwise evaluate the gate
	input, err := p.decisionBuild.Build(runID, symbol, outputs)
	if err != nil {
		return nil, err
	}
	decResult, err := p.decisionEval.Evaluate(input)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(decisionPath, []byte(decision.RenderMarkdown(decResult)), 0644); err != nil {
		return nil, err
	}
	result.Decision = decResult
	result.Files = append(result.Files, decisionPath)
	return result, nil
}

// convertToDataQuality converts SufficiencyResult to reporting.DataQualitySection.
func convertToDataQuality(result *SufficiencyResult) reporting.DataQualitySection {
	checks := make([]reporting.SufficiencyCheckRow, len(result.Checks))
	for i, c := range result.Checks {
		checks[i] = reporting.SufficiencyCheckRow{
			Name:      c.Name,
			Threshold: c.Threshold,
			Actual:    c.Actual,
			Pass:      c.Pass,
		}
	}
	return reporting.DataQualitySection{
		SufficiencyChecks: checks,
		IntegrityErrors:   result.Errors,
		AllChecksPassed:   result.AllPass,
	}
}

// writeInsufficientDataReport writes a decision report for a run whose data
// cannot support the gate.
func (p *StudyPipeline) writeInsufficientDataReport(path, runID, symbol string, dataQuality reporting.DataQualitySection) error {
	var content string
	content += "# Go/No-Go Report\n\n"
	content += "Run `" + runID + "` on " + symbol + ".\n\n"
	content += "## Decision: NO-GO (insufficient data)\n\n"
	content += "Data sufficiency checks failed. The gate criteria were not evaluated.\n\n"
	content += "### Failed Checks\n\n"
	content += "| Check | Threshold | Actual | Status |\n"
	content += "|-------|-----------|--------|--------|\n"
	for _, check := range dataQuality.SufficiencyChecks {
		status := "PASS"
		if !check.Pass {
			status = "FAIL"
		}
		content += "| " + check.Name + " | " + check.Threshold + " | " + check.Actual + " | " + status + " |\n"
	}
	content += "\n"

	if len(dataQuality.IntegrityErrors) > 0 {
		content += "### Integrity Errors\n\n"
		for _, err := range dataQuality.IntegrityErrors {
			content += "- " + err + "\n"
		}
		content += "\n"
	}

	content += "### Required Actions\n\n"
	content += "1. Collect more data until all sufficiency checks pass\n"
	content += "2. Fix any data integrity issues\n"
	content += "3. Re-run the study\n"

	return os.WriteFile(path, []byte(content), 0644)
}
