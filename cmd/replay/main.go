package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"regime-precursor-lab/internal/storage"
	chstore "regime-precursor-lab/internal/storage/clickhouse"
	"regime-precursor-lab/internal/storage/memory"
	pgstore "regime-precursor-lab/internal/storage/postgres"
	"regime-precursor-lab/internal/verification"
)

func main() {
	// Parse flags
	runID := flag.String("run-id", "", "Run identifier to verify (required)")
	symbol := flag.String("symbol", "", "Symbol of the run (default: from the run record)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	// Setup structured logger
	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

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

	// Create stores
	var runStore storage.RunStore = memory.NewRunStore()
	var paramStore storage.AlertParamStore = memory.NewAlertParamStore()
	var probStore storage.ProbabilityStore = memory.NewProbabilityStore()

	if !*useMemory {
		if *postgresDSN == "" || *clickhouseDSN == "" {
			logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
		}

		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()

		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()

		runStore = pgstore.NewRunStore(pool)
		paramStore = pgstore.NewAlertParamStore(pool)
		probStore = chstore.NewProbabilityStore(conn)
	}

	// Resolve the symbol from the run record when omitted
	if *symbol == "" {
		run, err := runStore.GetByID(ctx, *runID)
		if err != nil {
			logger.Fatalf("load run %s: %v", *runID, err)
		}
		*symbol = run.Symbol
	}

	// Replay the stored probability series through the gate twice, batch
	// and sample by sample, and compare the alert streams
	logger.Printf("Verifying gate parity for run %s (%s)", *runID, *symbol)

	verifier := verification.NewParityVerifier(probStore, paramStore)
	result, err := verifier.Verify(ctx, *runID, *symbol)
	if err != nil {
		logger.Fatalf("verify failed: %v", err)
	}

	// Output summary
	if *outputJSON {
		output, _ := json.MarshalIndent(newParitySummary(result), "", "  ")
		fmt.Println(string(output))
	} else {
		printParity(result)
	}

	if !result.Match {
		os.Exit(1)
	}
}

// ParitySummary is the JSON shape of one parity check.
type ParitySummary struct {
	RunID             string           `json:"run_id"`
	EMAWindow         int              `json:"ema_window"`
	Threshold         float64          `json:"threshold"`
	ConsecutiveK      int              `json:"consecutive_k"`
	MinSeparationMin  int              `json:"min_separation_min"`
	Samples           int              `json:"samples"`
	BatchAlerts       int              `json:"batch_alerts"`
	IncrementalAlerts int              `json:"incremental_alerts"`
	Match             bool             `json:"match"`
	Divergences       []DivergenceJSON `json:"divergences,omitempty"`
}

// DivergenceJSON is one rendered field mismatch.
type DivergenceJSON struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// newParitySummary converts a parity result for JSON output.
func newParitySummary(r *verification.ParityResult) ParitySummary {
	s := ParitySummary{
		RunID:             r.RunID,
		EMAWindow:         r.Params.EMAWindow,
		Threshold:         r.Params.Threshold,
		ConsecutiveK:      r.Params.ConsecutiveK,
		MinSeparationMin:  r.Params.MinSeparationMin,
		Samples:           r.Samples,
		BatchAlerts:       r.BatchAlerts,
		IncrementalAlerts: r.IncrementalAlerts,
		Match:             r.Match,
	}
	for _, d := range r.Divergences {
		s.Divergences = append(s.Divergences, DivergenceJSON{
			Field:    d.Field,
			Expected: fmt.Sprintf("%v", d.Expected),
			Actual:   fmt.Sprintf("%v", d.Actual),
		})
	}
	return s
}

// printParity outputs a human-readable parity summary.
func printParity(r *verification.ParityResult) {
	fmt.Println()
	fmt.Println("=== Gate Parity ===")
	fmt.Printf("Run ID:             %s\n", r.RunID)
	fmt.Printf("Operating Point:    ema=%d threshold=%.3f k=%d separation=%dm\n",
		r.Params.EMAWindow, r.Params.Threshold, r.Params.ConsecutiveK, r.Params.MinSeparationMin)
	fmt.Printf("Samples:            %d\n", r.Samples)
	fmt.Printf("Batch Alerts:       %d\n", r.BatchAlerts)
	fmt.Printf("Incremental Alerts: %d\n", r.IncrementalAlerts)
	if r.Match {
		fmt.Printf("Match:              yes\n")
		return
	}

	fmt.Printf("Match:              NO (%d divergences)\n", len(r.Divergences))
	for _, d := range r.Divergences {
		fmt.Printf("  %-24s stored=%v replayed=%v\n", d.Field, d.Expected, d.Actual)
	}
}
