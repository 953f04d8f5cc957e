// Package main provides the unified service that runs all components together:
// - Ingestion (continuous): WebSocket trade feed aggregated into bars
// - Study (scheduled): normalization → detection → study → CPCV → sweep
// - Reporting: STUDY_REPORT.md, signatures.csv, DECISION.md after each study
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"regime-precursor-lab/internal/config"
	"regime-precursor-lab/internal/domain"
	"regime-precursor-lab/internal/ingestion"
	"regime-precursor-lab/internal/marketdata"
	"regime-precursor-lab/internal/observability"
	"regime-precursor-lab/internal/orchestrator"
	"regime-precursor-lab/internal/pipeline"
	"regime-precursor-lab/internal/replay"
	"regime-precursor-lab/internal/storage"
	chstore "regime-precursor-lab/internal/storage/clickhouse"
	"regime-precursor-lab/internal/storage/memory"
	"regime-precursor-lab/internal/storage/migrations"
	pgstore "regime-precursor-lab/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	// Configuration
	wsURL         string
	useMemory     bool
	outputDir     string
	studyInterval time.Duration
	cfg           *config.Config
	prereg        []domain.Hypothesis
	preregHash    string

	// Stores
	stores *allStores

	// Components
	ingestionRunner *ingestion.Runner
	logger          *log.Logger

	// State
	mu           sync.Mutex
	started      time.Time
	lastStudyRun time.Time
	lastRunID    string
	lastDecision string
	studyRunning bool

	// Stats
	studyRuns     int
	studyFailures int
}

// allStores holds all storage implementations.
type allStores struct {
	runStore         storage.RunStore
	barStore         storage.BarStore
	featureStore     storage.FeatureStore
	flipStore        storage.FlipStore
	signatureStore   storage.SignatureStore
	probabilityStore storage.ProbabilityStore
	alertParamStore  storage.AlertParamStore
}

func main() {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Parse flags (env vars as defaults)
	wsURL := flag.String("ws-url", os.Getenv("EXCHANGE_WS_URL"), "Exchange WebSocket endpoint (empty disables live ingestion)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	symbol := flag.String("symbol", os.Getenv("SYMBOL"), "Symbol to ingest and study")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file (defaults apply when empty)")
	preregPath := flag.String("prereg", os.Getenv("PREREG_PATH"), "Preregistration manifest path")
	outputDir := flag.String("output-dir", "output", "Output directory for reports")
	studyInterval := flag.Duration("study-interval", 24*time.Hour, "Study run interval")
	migrate := flag.Bool("migrate", false, "Apply embedded SQL migrations on startup")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of databases")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for health/metrics/status")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Resolve configuration: file over defaults, flags over file
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatalf("Failed to load config: %v", err)
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
		logger.Fatalf("Invalid config: %v", err)
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Load the preregistration manifest when configured
	var prereg []domain.Hypothesis
	var preregHash string
	if cfg.Prereg.Path != "" {
		manifest, hash, err := config.LoadManifest(cfg.Prereg.Path)
		if err != nil {
			logger.Fatalf("Failed to load manifest: %v", err)
		}
		prereg, err = manifest.Resolve()
		if err != nil {
			logger.Fatalf("Failed to resolve manifest: %v", err)
		}
		preregHash = hash
	} else {
		logger.Println("No preregistration manifest configured; no hypothesis can validate")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, *migrate)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Create server
	server := &Server{
		wsURL:         *wsURL,
		useMemory:     *useMemory,
		outputDir:     *outputDir,
		studyInterval: *studyInterval,
		cfg:           &cfg,
		prereg:        prereg,
		preregHash:    preregHash,
		stores:        stores,
		logger:        logger,
		started:       time.Now(),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start HTTP server
	go server.startHTTPServer(*metricsAddr)

	// Run the unified server
	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores, optionally applying the embedded
// SQL migrations first.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory, migrate bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			runStore:         memory.NewRunStore(),
			barStore:         memory.NewBarStore(),
			featureStore:     memory.NewFeatureStore(),
			flipStore:        memory.NewFlipStore(),
			signatureStore:   memory.NewSignatureStore(),
			probabilityStore: memory.NewProbabilityStore(),
			alertParamStore:  memory.NewAlertParamStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}

	// ClickHouse. The migration path also creates the database when absent.
	var conn *chstore.Conn
	if migrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	} else {
		conn, err = chstore.NewConn(ctx, clickhouseDSN)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		// PostgreSQL stores (relational results)
		runStore:        pgstore.NewRunStore(pool),
		flipStore:       pgstore.NewFlipStore(pool),
		signatureStore:  pgstore.NewSignatureStore(pool),
		alertParamStore: pgstore.NewAlertParamStore(pool),

		// ClickHouse stores (high-volume timeseries)
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

// Run starts the unified server with all components.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting unified server...")

	// Create error channel for goroutines
	errCh := make(chan error, 2)

	// Start live ingestion in background when a stream endpoint is set
	if s.wsURL != "" {
		go func() {
			err := s.runIngestion(ctx)
			if err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("ingestion: %w", err)
			}
		}()
	} else {
		s.logger.Println("Live ingestion disabled (no --ws-url)")
	}

	// Start study scheduler in background
	go func() {
		err := s.runStudyScheduler(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("study scheduler: %w", err)
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runIngestion runs continuous live ingestion.
func (s *Server) runIngestion(ctx context.Context) error {
	s.logger.Println("Starting ingestion...")

	stream, err := marketdata.NewWSClient(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer stream.Close()

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		StreamSource: ingestion.NewWSTickSource(stream),
		BarStore:     s.stores.barStore,
		Symbols:      []string{s.cfg.Symbol},
		Logger:       log.New(os.Stdout, "[ingestion] ", log.LstdFlags|log.Lshortfile),
	})

	s.mu.Lock()
	s.ingestionRunner = runner
	s.mu.Unlock()

	// Publish runner counters to Prometheus
	go s.pollRunnerStats(ctx, runner)

	s.logger.Println("Ingestion started")
	return runner.Run(ctx)
}

// pollRunnerStats periodically pushes runner counter deltas to the metrics.
func (s *Server) pollRunnerStats(ctx context.Context, runner *ingestion.Runner) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var prev ingestion.RunnerStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := runner.Stats()
			observability.RecordRunnerDelta(
				stats.TicksBuffered-prev.TicksBuffered,
				stats.BarsWritten-prev.BarsWritten,
				stats.LateTicks-prev.LateTicks,
				stats.DuplicateBars-prev.DuplicateBars,
			)
			if stats.BarsWritten > prev.BarsWritten {
				observability.MarkIngestionSuccess()
			}
			prev = stats
		}
	}
}

// runStudyScheduler runs the study on schedule.
func (s *Server) runStudyScheduler(ctx context.Context) error {
	s.logger.Printf("Starting study scheduler (interval: %v)...", s.studyInterval)

	// Run immediately on start
	s.runStudy(ctx)

	ticker := time.NewTicker(s.studyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runStudy(ctx)
		}
	}
}

// runStudy executes one full study and renders the reports.
func (s *Server) runStudy(ctx context.Context) {
	s.mu.Lock()
	if s.studyRunning {
		s.mu.Unlock()
		s.logger.Println("Study already running, skipping...")
		return
	}
	s.studyRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.studyRunning = false
		s.lastStudyRun = time.Now()
		s.studyRuns++
		s.mu.Unlock()
	}()

	s.logger.Println("Running study...")
	start := time.Now()

	// Create orchestrator
	orch := orchestrator.New(orchestrator.Options{
		RunStore:         s.stores.runStore,
		BarStore:         s.stores.barStore,
		FeatureStore:     s.stores.featureStore,
		FlipStore:        s.stores.flipStore,
		SignatureStore:   s.stores.signatureStore,
		ProbabilityStore: s.stores.probabilityStore,
		AlertParamStore:  s.stores.alertParamStore,
		Config:           s.cfg,
		Prereg:           s.prereg,
		PreregHash:       s.preregHash,
		Verbose:          true,
	})

	result, err := orch.Run(ctx)
	if err != nil {
		s.logger.Printf("Study error: %v", err)
		observability.RecordPipelineRun("orchestrator", "error", time.Since(start).Seconds())
		s.mu.Lock()
		s.studyFailures++
		s.mu.Unlock()
		return
	}

	observability.RecordPipelineRun("orchestrator", "success", time.Since(start).Seconds())
	observability.RecordStudy(result.HypothesesTested, result.HypothesesTested*s.cfg.Study.Permutations)

	s.logger.Printf("Study completed in %v: run %s, %d flips, %d/%d validated",
		time.Since(start), result.RunID, result.FlipsDetected, result.Validated, result.HypothesesTested)

	// Render the report, signature CSV and decision gate
	reportStart := time.Now()
	p := pipeline.NewStudyPipeline(
		s.stores.runStore,
		s.stores.flipStore,
		s.stores.signatureStore,
		s.stores.alertParamStore,
		s.stores.probabilityStore,
		s.cfg,
		s.outputDir,
	).WithSufficiencyChecker(
		s.stores.barStore,
		s.stores.featureStore,
		s.stores.flipStore,
		replay.NewRunner(s.stores.probabilityStore),
		pipeline.DefaultThresholds(),
	).WithIntegrityErrors(result.Errors)

	res, err := p.Run(ctx, result.RunID, s.cfg.Symbol, result.Outputs)
	if err != nil {
		s.logger.Printf("Report generation error: %v", err)
		observability.RecordPipelineRun("report", "error", time.Since(reportStart).Seconds())
		return
	}

	observability.RecordPipelineRun("report", "success", time.Since(reportStart).Seconds())
	observability.RecordReportGenerated()
	observability.MarkPipelineSuccess()

	decisionStr := "NO-GO"
	if res.Decision != nil {
		decisionStr = string(res.Decision.Decision)
	}

	s.mu.Lock()
	s.lastRunID = result.RunID
	s.lastDecision = decisionStr
	s.mu.Unlock()

	s.logger.Printf("Reports generated in %v to %s/ (decision: %s)",
		time.Since(reportStart), s.outputDir, decisionStr)
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string    `json:"status"`
	Symbol        string    `json:"symbol"`
	Uptime        string    `json:"uptime"`
	Started       time.Time `json:"started"`
	LastStudyRun  time.Time `json:"last_study_run,omitempty"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	LastDecision  string    `json:"last_decision,omitempty"`
	StudyRuns     int       `json:"study_runs"`
	StudyFailures int       `json:"study_failures"`
	StudyRunning  bool      `json:"study_running"`
	LiveIngestion bool      `json:"live_ingestion"`
	Storage       string    `json:"storage"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := StatusResponse{
		Status:        "running",
		Symbol:        s.cfg.Symbol,
		Uptime:        time.Since(s.started).String(),
		Started:       s.started,
		LastStudyRun:  s.lastStudyRun,
		LastRunID:     s.lastRunID,
		LastDecision:  s.lastDecision,
		StudyRuns:     s.studyRuns,
		StudyFailures: s.studyFailures,
		StudyRunning:  s.studyRunning,
		LiveIngestion: s.ingestionRunner != nil,
		Storage:       "postgres+clickhouse",
	}
	if s.useMemory {
		resp.Storage = "memory"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
