package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/cpcv"
	"regime-precursor-lab/internal/decision"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/estimator"
	"regime-precursor-lab/internal/normalization"
	"regime-precursor-lab/internal/storage"
	chstore "regime-precursor-lab/internal/storage/clickhouse"
	"regime-precursor-lab/internal/storage/memory"
	pgstore "regime-precursor-lab/internal/storage/postgres"
	"regime-precursor-lab/internal/sweep"
	"regime-precursor-lab/internal/timeline"
)

func main() {
	// Parse flags
	runID := flag.String("run-id", "", "Registered run identifier (required)")
	symbol := flag.String("symbol", "", "Symbol (default: from the run record)")
	configPath := flag.String("config", "", "YAML config file (defaults apply when empty)")

	// CPCV overrides
	blocks := flag.Int("blocks", 0, "CPCV blocks (0 = config value)")
	groupSize := flag.Int("group-size", 0, "Blocks held out per split (0 = config value)")
	horizonMin := flag.Int("horizon-min", 0, "Label horizon in minutes (0 = config value)")
	embargoMin := flag.Int("embargo-min", 0, "Embargo in minutes (0 = config value)")
	estimatorName := flag.String("estimator", "", "Estimator: hazard_logit or base_rate (default: config value)")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	// Output
	outputJSON := flag.Bool("json", false, "Output as JSON")
	persistResult := flag.Bool("persist", false, "Persist the probability series and operating point to storage")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	// Validate required flags
	if *runID == "" {
		logger.Fatal("--run-id is required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Resolve configuration with flag overrides
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
		cfg = *loaded
	}
	if *blocks > 0 {
		cfg.CPCV.Blocks = *blocks
	}
	if *groupSize > 0 {
		cfg.CPCV.GroupSize = *groupSize
	}
	if *horizonMin > 0 {
		cfg.CPCV.HorizonMin = *horizonMin
	}
	if *embargoMin > 0 {
		cfg.CPCV.EmbargoMin = *embargoMin
	}
	if *estimatorName != "" {
		cfg.CPCV.Estimator = *estimatorName
	}

	// Create stores
	var runStore storage.RunStore = memory.NewRunStore()
	var featureStore storage.FeatureStore = memory.NewFeatureStore()
	var flipStore storage.FlipStore = memory.NewFlipStore()
	var probStore storage.ProbabilityStore = memory.NewProbabilityStore()
	var paramStore storage.AlertParamStore = memory.NewAlertParamStore()

	if !*useMemory {
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required when not using --use-memory (runs, flips, alert params)")
		}
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required when not using --use-memory (features, probabilities)")
		}

		// PostgreSQL for runs, flips and alert params
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()

		runStore = pgstore.NewRunStore(pool)
		flipStore = pgstore.NewFlipStore(pool)
		paramStore = pgstore.NewAlertParamStore(pool)

		// ClickHouse for feature rows and probability series
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()

		featureStore = chstore.NewFeatureStore(conn)
		probStore = chstore.NewProbabilityStore(conn)
	}

	// Load the run record
	run, err := runStore.GetByID(ctx, *runID)
	if err != nil {
		logger.Fatalf("load run %s: %v", *runID, err)
	}
	if *symbol == "" {
		*symbol = run.Symbol
	}

	// Assemble the timeline from stored feature rows and flips
	tl, err := loadTimeline(ctx, featureStore, flipStore, *symbol)
	if err != nil {
		logger.Fatalf("build timeline: %v", err)
	}

	est, err := estimator.FromConfig(estimator.Config{
		Name:      cfg.CPCV.Estimator,
		Calibrate: cfg.CPCV.Calibrate,
	})
	if err != nil {
		logger.Fatalf("create estimator: %v", err)
	}

	logger.Printf("Running backtest: run=%s symbol=%s estimator=%s blocks=%d",
		*runID, *symbol, cfg.CPCV.Estimator, cfg.CPCV.Blocks)

	// Combinatorial purged cross-validation
	cvResult, err := cpcv.NewRunner(est).Run(ctx, tl, cpcv.RunParams{
		RunID: *runID,
		Split: cpcv.SplitParams{
			Blocks:          cfg.CPCV.Blocks,
			GroupSize:       cfg.CPCV.GroupSize,
			MaxCombinations: cfg.CPCV.MaxCombinations,
			HorizonMin:      cfg.CPCV.HorizonMin,
			EmbargoMin:      cfg.CPCV.EmbargoMin,
			LookbackMin:     normalization.DefaultFeatureWindows().MaxLookbackMin(),
		},
		EvalThreshold: cfg.CPCV.EvalThreshold,
	})
	if err != nil {
		logger.Fatalf("cross-validation failed: %v", err)
	}

	// Sweep the gate grid over the fresh out-of-fold series. The sweep
	// reads through a scratch store so reruns never depend on, or leak
	// into, previously persisted series.
	scratchProb := memory.NewProbabilityStore()
	scratchParam := memory.NewAlertParamStore()
	if len(cvResult.OOF) > 0 {
		if err := scratchProb.InsertBulk(ctx, cvResult.OOF); err != nil {
			logger.Fatalf("stage probability series: %v", err)
		}
	}

	var outcome *sweep.Outcome
	if len(cvResult.OOF) > 0 {
		outcome, err = sweep.NewRunner(scratchProb, flipStore, scratchParam).
			Run(ctx, *runID, *symbol, cfg.Gate, cfg.CPCV.HorizonMin)
		if err != nil {
			logger.Fatalf("gate sweep failed: %v", err)
		}
	}

	// Persist on request, tolerating series already stored under this run
	if *persistResult {
		if len(cvResult.OOF) > 0 {
			if err := probStore.InsertBulk(ctx, cvResult.OOF); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
				logger.Fatalf("persist probability series: %v", err)
			}
		}
		if outcome != nil && outcome.Selected != nil {
			if err := paramStore.Insert(ctx, outcome.Selected); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
				logger.Fatalf("persist operating point: %v", err)
			}
		}
	}

	// Base rate for the skill reference
	baseRate := positiveRate(tl.Labels(cfg.CPCV.HorizonMin))

	// Output result
	if *outputJSON {
		output, _ := json.MarshalIndent(newSummary(*runID, *symbol, &cfg, cvResult, outcome, baseRate), "", "  ")
		fmt.Println(string(output))
	} else {
		printSummary(*runID, *symbol, &cfg, cvResult, outcome, baseRate)
	}
}

// loadTimeline builds the study timeline for a symbol from stored rows.
func loadTimeline(ctx context.Context, featureStore storage.FeatureStore, flipStore storage.FlipStore, symbol string) (*timeline.Timeline, error) {
	storedRows, err := featureStore.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load feature rows: %w", err)
	}
	storedFlips, err := flipStore.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load flips: %w", err)
	}

	rows := make([]domain.FeatureRow, len(storedRows))
	for i, r := range storedRows {
		rows[i] = *r
	}
	flips := make([]domain.FlipEvent, len(storedFlips))
	for i, f := range storedFlips {
		flips[i] = *f
	}

	return timeline.New(symbol, rows, flips)
}

// positiveRate returns the share of positive labels.
func positiveRate(labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	var positives int
	for _, l := range labels {
		positives += l
	}
	return float64(positives) / float64(len(labels))
}

// Summary is the JSON shape of one backtest.
type Summary struct {
	RunID     string `json:"run_id"`
	Symbol    string `json:"symbol"`
	Estimator string `json:"estimator"`
	Calibrate bool   `json:"calibrate"`

	Splits          int `json:"splits"`
	SplitsEvaluated int `json:"splits_evaluated"`
	SplitsExcluded  int `json:"splits_excluded"`
	OOFSamples      int `json:"oof_samples"`

	MeanBrier     *float64 `json:"mean_brier,omitempty"`
	StdBrier      *float64 `json:"std_brier,omitempty"`
	BaseRateBrier float64  `json:"base_rate_brier"`
	MeanCoverage  *float64 `json:"mean_coverage,omitempty"`
	MeanFAPerDay  *float64 `json:"mean_fa_per_day,omitempty"`

	GridCells int                    `json:"grid_cells"`
	Selected  *domain.OperatingPoint `json:"selected,omitempty"`
}

// newSummary assembles the JSON summary.
func newSummary(runID, symbol string, cfg *config.Config, cv *cpcv.Result, outcome *sweep.Outcome, baseRate float64) Summary {
	s := Summary{
		RunID:           runID,
		Symbol:          symbol,
		Estimator:       cfg.CPCV.Estimator,
		Calibrate:       cfg.CPCV.Calibrate,
		Splits:          cv.Aggregate.Splits,
		SplitsEvaluated: cv.Aggregate.Evaluated,
		SplitsExcluded:  cv.Aggregate.Excluded,
		OOFSamples:      len(cv.OOF),
		MeanBrier:       cv.Aggregate.MeanBrier,
		StdBrier:        cv.Aggregate.StdBrier,
		BaseRateBrier:   decision.BaseRateBrier(baseRate),
		MeanCoverage:    cv.Aggregate.MeanCoverage,
		MeanFAPerDay:    cv.Aggregate.MeanFAPerDay,
	}
	if outcome != nil {
		s.GridCells = len(outcome.Results)
		s.Selected = outcome.Selected
	}
	return s
}

// printSummary outputs a human-readable backtest summary.
func printSummary(runID, symbol string, cfg *config.Config, cv *cpcv.Result, outcome *sweep.Outcome, baseRate float64) {
	fmt.Println()
	fmt.Println("=== Backtest Result ===")
	fmt.Printf("Run ID:            %s\n", runID)
	fmt.Printf("Symbol:            %s\n", symbol)
	fmt.Printf("Estimator:         %s (calibrate=%v)\n", cfg.CPCV.Estimator, cfg.CPCV.Calibrate)
	fmt.Printf("Splits:            %d evaluated, %d excluded of %d\n",
		cv.Aggregate.Evaluated, cv.Aggregate.Excluded, cv.Aggregate.Splits)
	fmt.Printf("OOF Samples:       %d\n", len(cv.OOF))
	fmt.Println()

	fmt.Println("Out-of-fold scores:")
	fmt.Printf("  Brier:           %s\n", meanStd(cv.Aggregate.MeanBrier, cv.Aggregate.StdBrier))
	fmt.Printf("  Base-rate Brier: %.4f (base rate %.4f)\n", decision.BaseRateBrier(baseRate), baseRate)
	fmt.Printf("  Coverage:        %s (%d splits with flips)\n",
		meanStd(cv.Aggregate.MeanCoverage, cv.Aggregate.StdCoverage), cv.Aggregate.CoverageSplits)
	fmt.Printf("  FA/day:          %s\n", meanStd(cv.Aggregate.MeanFAPerDay, cv.Aggregate.StdFAPerDay))
	fmt.Println()

	fmt.Println("Gate sweep:")
	if outcome == nil {
		fmt.Println("  Skipped (no out-of-fold series)")
		return
	}
	fmt.Printf("  Grid cells:      %d\n", len(outcome.Results))
	if outcome.Selected == nil {
		fmt.Printf("  Selected:        none (no cell met the %.1f/day false-alarm budget)\n", cfg.Gate.FABudgetPerDay)
		return
	}
	p := outcome.Selected.Params
	fmt.Printf("  Selected:        ema=%d threshold=%.3f k=%d separation=%dm\n",
		p.EMAWindow, p.Threshold, p.ConsecutiveK, p.MinSeparationMin)
	fmt.Printf("  Coverage:        %.4f\n", outcome.Selected.Coverage)
	fmt.Printf("  FA/day:          %.4f\n", outcome.Selected.FAPerDay)
	fmt.Printf("  Alerts:          %d (%d true positives)\n",
		outcome.Selected.Alerts, outcome.Selected.TruePositives)
}

// meanStd renders "mean ± std" with n/a for undefined values.
func meanStd(mean, std *float64) string {
	if mean == nil {
		return "n/a"
	}
	if std == nil {
		return fmt.Sprintf("%.4f", *mean)
	}
	return fmt.Sprintf("%.4f ± %.4f", *mean, *std)
}
