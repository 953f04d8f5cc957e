// Package main provides the study pipeline entry point.
// Executes: normalization → regime detection → signature study → decision gate
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/orchestrator"
	"regime-precursor-lab/internal/pipeline"
	"regime-precursor-lab/internal/replay"
	"regime-precursor-lab/internal/storage"
	chstore "regime-precursor-lab/internal/storage/clickhouse"
	"regime-precursor-lab/internal/storage/memory"
	pgstore "regime-precursor-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "YAML config file (defaults apply when empty)")
	symbol := flag.String("symbol", "", "Symbol to study (overrides config)")
	preregPath := flag.String("prereg", "", "Preregistration manifest path (overrides config)")
	outputDir := flag.String("output-dir", "docs", "Output directory for generated files")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (runs, flips, signatures, alert params)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (bars, features, probabilities)")
	useFixtures := flag.Bool("use-fixtures", false, "Use in-memory fixtures instead of databases")
	runID := flag.String("run-id", "", "Reuse an existing run identifier (default: generate)")
	skipNormalization := flag.Bool("skip-normalization", false, "Skip normalization (feature rows already stored)")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived signal %v, cancelling pipeline...\n", sig)
		cancel()
	}()

	if *useFixtures {
		if err := runFixtures(ctx, *outputDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Validate flags
	if *postgresDSN == "" || *clickhouseDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: --postgres-dsn and --clickhouse-dsn are required when not using fixtures")
		fmt.Fprintln(os.Stderr, "Use --use-fixtures to run with demo data instead")
		os.Exit(1)
	}

	// Resolve configuration: file over defaults, flags over file
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	if *symbol != "" {
		cfg.Symbol = *symbol
	}
	if *preregPath != "" {
		cfg.Prereg.Path = *preregPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := runStudy(ctx, &cfg, *postgresDSN, *clickhouseDSN, *outputDir, *runID, *skipNormalization, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// allStores holds one store per persisted record type.
type allStores struct {
	runStore         storage.RunStore
	barStore         storage.BarStore
	featureStore     storage.FeatureStore
	flipStore        storage.FlipStore
	signatureStore   storage.SignatureStore
	probabilityStore storage.ProbabilityStore
	alertParamStore  storage.AlertParamStore
}

// createMemoryStores creates all required memory stores.
func createMemoryStores() *allStores {
	return &allStores{
		runStore:         memory.NewRunStore(),
		barStore:         memory.NewBarStore(),
		featureStore:     memory.NewFeatureStore(),
		flipStore:        memory.NewFlipStore(),
		signatureStore:   memory.NewSignatureStore(),
		probabilityStore: memory.NewProbabilityStore(),
		alertParamStore:  memory.NewAlertParamStore(),
	}
}

// createDatabaseStores connects to PostgreSQL and ClickHouse and creates stores.
func createDatabaseStores(ctx context.Context, postgresDSN, clickhouseDSN string) (*allStores, func(), error) {
	// PostgreSQL for relational results
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// ClickHouse for high-volume timeseries
	conn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		runStore:        pgstore.NewRunStore(pool),
		flipStore:       pgstore.NewFlipStore(pool),
		signatureStore:  pgstore.NewSignatureStore(pool),
		alertParamStore: pgstore.NewAlertParamStore(pool),

		barStore:         chstore.NewBarStore(conn),
		featureStore:     chstore.NewFeatureStore(conn),
		probabilityStore: chstore.NewProbabilityStore(conn),
	}

	cleanup := func() {
		conn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// runFixtures runs the reporting pipeline over the canned demo study. The
// fixtures carry a completed run, so the orchestrator is not involved.
func runFixtures(ctx context.Context, outputDir string) error {
	stores := createMemoryStores()

	outputs, err := pipeline.LoadFixtures(ctx,
		stores.runStore,
		stores.barStore,
		stores.featureStore,
		stores.flipStore,
		stores.signatureStore,
		stores.probabilityStore,
		stores.alertParamStore,
	)
	if err != nil {
		return fmt.Errorf("load fixtures: %w", err)
	}

	cfg := config.Default()
	cfg.Symbol = pipeline.FixtureSymbol

	// Fixed clock for deterministic output
	fixedTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := pipeline.NewStudyPipeline(
		stores.runStore,
		stores.flipStore,
		stores.signatureStore,
		stores.alertParamStore,
		stores.probabilityStore,
		&cfg,
		outputDir,
	).WithSufficiencyChecker(
		stores.barStore,
		stores.featureStore,
		stores.flipStore,
		replay.NewRunner(stores.probabilityStore),
		pipeline.DefaultThresholds(),
	).WithClock(func() time.Time { return fixedTime })

	fmt.Println("=== Study Pipeline (fixtures) ===")
	result, err := p.Run(ctx, pipeline.FixtureRunID, pipeline.FixtureSymbol, outputs)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	printResult(result)
	return nil
}

// runStudy executes the full study against the databases and renders the
// outputs for the resulting run.
func runStudy(ctx context.Context, cfg *config.Config, postgresDSN, clickhouseDSN, outputDir, runID string, skipNormalization, verbose bool) error {
	stores, cleanup, err := createDatabaseStores(ctx, postgresDSN, clickhouseDSN)
	if err != nil {
		return err
	}
	defer cleanup()

	// Load the preregistration manifest when configured
	var prereg []domain.Hypothesis
	var preregHash string
	if cfg.Prereg.Path != "" {
		manifest, hash, err := config.LoadManifest(cfg.Prereg.Path)
		if err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
		prereg, err = manifest.Resolve()
		if err != nil {
			return err
		}
		preregHash = hash
	}

	// Phase 1-7: run orchestrator (normalization → detection → study →
	// CPCV → sweep → verification)
	fmt.Println("=== Study Pipeline ===")
	orch := orchestrator.New(orchestrator.Options{
		RunStore:          stores.runStore,
		BarStore:          stores.barStore,
		FeatureStore:      stores.featureStore,
		FlipStore:         stores.flipStore,
		SignatureStore:    stores.signatureStore,
		ProbabilityStore:  stores.probabilityStore,
		AlertParamStore:   stores.alertParamStore,
		Config:            cfg,
		Prereg:            prereg,
		PreregHash:        preregHash,
		RunID:             runID,
		SkipNormalization: skipNormalization,
		Verbose:           verbose,
	})

	result, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	fmt.Printf("Orchestrator completed:\n")
	fmt.Printf("  Run ID:       %s\n", result.RunID)
	fmt.Printf("  Data version: %s\n", result.DataVersion)
	fmt.Printf("  Flips:        %d\n", result.FlipsDetected)
	fmt.Printf("  Hypotheses:   %d (%d validated)\n", result.HypothesesTested, result.Validated)
	fmt.Printf("  CPCV splits:  %d\n", result.SplitsEvaluated)
	fmt.Printf("  OOF samples:  %d\n", result.ProbabilityPoints)
	if len(result.Errors) > 0 {
		fmt.Printf("  Errors: %d\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("    - %s\n", e)
		}
	}

	// Reporting: sufficiency checks, report, signature CSV, decision gate
	fmt.Println("\n=== Reporting ===")
	p := pipeline.NewStudyPipeline(
		stores.runStore,
		stores.flipStore,
		stores.signatureStore,
		stores.alertParamStore,
		stores.probabilityStore,
		cfg,
		outputDir,
	).WithSufficiencyChecker(
		stores.barStore,
		stores.featureStore,
		stores.flipStore,
		replay.NewRunner(stores.probabilityStore),
		pipeline.DefaultThresholds(),
	).WithIntegrityErrors(result.Errors)

	res, err := p.Run(ctx, result.RunID, cfg.Symbol, result.Outputs)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	printResult(res)
	return nil
}

// printResult prints the decision and the files written.
func printResult(res *pipeline.Result) {
	fmt.Println("\nStudy pipeline completed:")
	if res.Decision != nil {
		fmt.Printf("  Decision: %s\n", res.Decision.Decision)
	} else {
		fmt.Println("  Decision: NO-GO (data sufficiency checks failed)")
	}
	for _, f := range res.Files {
		fmt.Printf("  - %s\n", f)
	}
}
