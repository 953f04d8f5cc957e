package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"regime-precursor-lab/internal/ingestion"
	"regime-precursor-lab/internal/marketdata"
	"regime-precursor-lab/internal/observability"
	"regime-precursor-lab/internal/storage"
	chstore "regime-precursor-lab/internal/storage/clickhouse"
	"regime-precursor-lab/internal/storage/memory"
)

func main() {
	// Parse flags
	mode := flag.String("mode", "live", "Ingestion mode: live, backfill, or file")
	symbol := flag.String("symbol", "", "Symbol to ingest (e.g. BTCUSDT)")
	symbols := flag.String("symbols", "", "Comma-separated symbols for live mode (default: --symbol)")
	csvPatterns := flag.String("csv", "", "Comma-separated tick CSV glob patterns for file mode")
	restURL := flag.String("rest-url", "", "Exchange REST API base URL")
	wsURL := flag.String("ws-url", "", "Exchange WebSocket endpoint")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (bars)")
	fromTime := flag.String("from-time", "", "Start time (RFC3339)")
	toTime := flag.String("to-time", "", "End time (RFC3339)")
	resume := flag.Bool("resume", false, "Resume backfill from the last stored minute bar")
	pageSize := flag.Int("page-size", ingestion.DefaultPageSize, "Aggregate trades page size per REST request")
	lagMs := flag.Int64("lag-ms", 5000, "Event-clock lag before a live minute is finalized (ms)")
	flushInterval := flag.Duration("flush-interval", 5*time.Second, "Live buffer flush interval")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of ClickHouse")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *symbol == "" {
		logger.Fatal("--symbol is required")
	}

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal main goroutine completion
	done := make(chan error, 1)

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

	// Run based on mode
	var err error
	switch *mode {
	case "live":
		err = runLive(ctx, logger, *wsURL, *clickhouseDSN, resolveSymbols(*symbols, *symbol), *lagMs, *flushInterval, *useMemory)
	case "backfill":
		err = runBackfill(ctx, logger, *restURL, *clickhouseDSN, *symbol, *fromTime, *toTime, *resume, *pageSize, *useMemory)
	case "file":
		err = runFile(ctx, logger, *csvPatterns, *clickhouseDSN, *symbol, *fromTime, *toTime, *useMemory)
	default:
		logger.Fatalf("Unknown mode: %s", *mode)
	}

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// splitList splits a comma-separated flag into trimmed entries.
func splitList(s string) []string {
	var list []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			list = append(list, p)
		}
	}
	return list
}

// resolveSymbols splits the live symbol list, falling back to the single
// symbol flag.
func resolveSymbols(symbols, symbol string) []string {
	list := splitList(symbols)
	if len(list) == 0 {
		return []string{symbol}
	}
	return list
}

// createBarStore wires the bar store for one mode.
func createBarStore(ctx context.Context, clickhouseDSN string, useMemory bool) (storage.BarStore, func(), error) {
	if useMemory {
		return memory.NewBarStore(), func() {}, nil
	}
	if clickhouseDSN == "" {
		return nil, nil, fmt.Errorf("--clickhouse-dsn is required (use --use-memory for in-memory storage)")
	}

	conn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	return chstore.NewBarStore(conn), func() { conn.Close() }, nil
}

// parseTimeRange parses the optional RFC3339 window flags. An empty from is
// zero; an empty to defaults to now.
func parseTimeRange(fromStr, toStr string) (int64, int64, error) {
	var from, to int64
	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse from-time: %w", err)
		}
		from = t.UnixMilli()
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse to-time: %w", err)
		}
		to = t.UnixMilli()
	} else {
		to = time.Now().UnixMilli()
	}
	return from, to, nil
}

// runLive runs continuous live ingestion over the trade stream.
func runLive(ctx context.Context, logger *log.Logger, wsURL, clickhouseDSN string, symbols []string, lagMs int64, flushInterval time.Duration, useMemory bool) error {
	if wsURL == "" {
		return fmt.Errorf("--ws-url is required for live mode")
	}

	barStore, cleanup, err := createBarStore(ctx, clickhouseDSN, useMemory)
	if err != nil {
		return err
	}
	defer cleanup()

	// Create WebSocket stream
	stream, err := marketdata.NewWSClient(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer stream.Close()

	// Create and run runner
	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		StreamSource:  ingestion.NewWSTickSource(stream),
		BarStore:      barStore,
		Symbols:       symbols,
		LagMs:         lagMs,
		FlushInterval: flushInterval,
		Logger:        logger,
	})

	// Publish runner counters to Prometheus
	go pollRunnerStats(ctx, runner)

	logger.Printf("Starting live ingestion for %v...", symbols)
	return runner.Run(ctx)
}

// pollRunnerStats periodically pushes runner counter deltas to the metrics.
func pollRunnerStats(ctx context.Context, runner *ingestion.Runner) {
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

// runBackfill runs historical trade backfill over the REST API.
func runBackfill(ctx context.Context, logger *log.Logger, restURL, clickhouseDSN, symbol, fromTimeStr, toTimeStr string, resume bool, pageSize int, useMemory bool) error {
	if restURL == "" {
		return fmt.Errorf("--rest-url is required for backfill mode")
	}

	barStore, cleanup, err := createBarStore(ctx, clickhouseDSN, useMemory)
	if err != nil {
		return err
	}
	defer cleanup()

	// Create REST client and source
	client := marketdata.NewClient(restURL)
	source := ingestion.NewRESTTickSource(client, pageSize)
	manager := ingestion.NewManager(ingestion.ManagerOptions{
		Source:   source,
		BarStore: barStore,
	})

	backfiller := ingestion.NewBackfiller(ingestion.BackfillOptions{
		Manager:  manager,
		BarStore: barStore,
		Logger:   logger,
	})

	// Determine the window
	var result *ingestion.BackfillResult
	switch {
	case resume:
		logger.Printf("Resuming backfill for %s from the last stored minute", symbol)
		result, err = backfiller.Resume(ctx, symbol)
	case fromTimeStr != "":
		from, to, perr := parseTimeRange(fromTimeStr, toTimeStr)
		if perr != nil {
			return perr
		}
		logger.Printf("Backfilling %s from %s to %s", symbol,
			time.UnixMilli(from).Format(time.RFC3339), time.UnixMilli(to).Format(time.RFC3339))
		result, err = backfiller.BackfillRange(ctx, symbol, time.UnixMilli(from), time.UnixMilli(to))
	default:
		// Default: last 24 hours
		logger.Println("No time range specified, backfilling last 24 hours")
		result, err = backfiller.BackfillSince(ctx, symbol, time.Now().Add(-24*time.Hour))
	}
	if err != nil {
		return err
	}

	observability.RecordBackfill(result.TicksIngested, result.BarsWritten, result.DuplicatesSkipped, result.Errors)
	if result.BarsWritten > 0 {
		observability.MarkIngestionSuccess()
	}

	logger.Printf("Backfill complete: %d ticks, %d bars, %d chunks skipped, %d errors in %v",
		result.TicksIngested, result.BarsWritten, result.DuplicatesSkipped, result.Errors, result.Duration)
	return nil
}

// runFile ingests ticks from CSV exports.
func runFile(ctx context.Context, logger *log.Logger, csvPatterns, clickhouseDSN, symbol, fromTimeStr, toTimeStr string, useMemory bool) error {
	patterns := splitList(csvPatterns)
	if len(patterns) == 0 {
		return fmt.Errorf("--csv is required for file mode")
	}

	barStore, cleanup, err := createBarStore(ctx, clickhouseDSN, useMemory)
	if err != nil {
		return err
	}
	defer cleanup()

	from, to, err := parseTimeRange(fromTimeStr, toTimeStr)
	if err != nil {
		return err
	}

	manager := ingestion.NewManager(ingestion.ManagerOptions{
		Source:   ingestion.NewCSVTickSource(patterns...),
		BarStore: barStore,
	})

	logger.Printf("Ingesting %s ticks from %v", symbol, patterns)
	result, err := manager.IngestTicks(ctx, symbol, from, to)
	if err != nil {
		return err
	}

	if result.Bars1m > 0 {
		observability.MarkIngestionSuccess()
	}

	logger.Printf("Ingested %d ticks: %d 1s bars, %d 1m bars", result.Ticks, result.Bars1s, result.Bars1m)
	return nil
}
