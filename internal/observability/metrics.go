// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Live ingestion metrics
	TicksBuffered        prometheus.Counter
	BarsWritten          prometheus.Counter
	LateTicksDropped     prometheus.Counter
	DuplicateBarsSkipped prometheus.Counter

	// Backfill metrics
	BackfillTicksIngested prometheus.Counter
	BackfillBarsStored    prometheus.Counter
	BackfillChunksSkipped prometheus.Counter
	BackfillErrors        prometheus.Counter

	// Market data metrics
	RESTCallLatency *prometheus.HistogramVec
	WSReconnects    prometheus.Counter

	// Pipeline metrics
	PipelineRunsTotal *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	HypothesesTested  prometheus.Counter
	PermutationsRun   prometheus.Counter
	ReportsGenerated  prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulPipeline  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "regimelab"
	}

	return &Metrics{
		// Live ingestion metrics
		TicksBuffered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ticks_buffered_total",
			Help:      "Total number of ticks accepted into minute buffers",
		}),
		BarsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "bars_written_total",
			Help:      "Total number of bars persisted from finalized minutes",
		}),
		LateTicksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "late_ticks_dropped_total",
			Help:      "Total number of ticks dropped for arriving after their minute was finalized",
		}),
		DuplicateBarsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicate_bars_skipped_total",
			Help:      "Total number of replayed bar batches skipped as already stored",
		}),

		// Backfill metrics
		BackfillTicksIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "ticks_ingested_total",
			Help:      "Total number of ticks ingested by historical backfill",
		}),
		BackfillBarsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "bars_stored_total",
			Help:      "Total number of bars stored by historical backfill",
		}),
		BackfillChunksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "chunks_skipped_total",
			Help:      "Total number of backfill chunks skipped as already ingested",
		}),
		BackfillErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "errors_total",
			Help:      "Total number of backfill chunk errors",
		}),

		// Market data metrics
		RESTCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "rest_call_latency_seconds",
			Help:      "Exchange REST call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnects",
		}),

		// Pipeline metrics
		PipelineRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by phase and status",
		}, []string{"phase", "status"}),
		PipelineDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"phase"}),
		HypothesesTested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "hypotheses_tested_total",
			Help:      "Total number of signature hypotheses tested",
		}),
		PermutationsRun: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "permutations_run_total",
			Help:      "Total number of permutation draws evaluated",
		}),
		ReportsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "reports_generated_total",
			Help:      "Total number of reports generated",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
		LastSuccessfulPipeline: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_pipeline_timestamp",
			Help:      "Unix timestamp of last successful pipeline run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRunnerDelta adds one stats-poll delta to the live ingestion counters.
// Callers snapshot RunnerStats periodically and pass the per-field change.
func RecordRunnerDelta(ticksBuffered, barsWritten, lateTicks, duplicateBars int64) {
	DefaultMetrics.TicksBuffered.Add(float64(ticksBuffered))
	DefaultMetrics.BarsWritten.Add(float64(barsWritten))
	DefaultMetrics.LateTicksDropped.Add(float64(lateTicks))
	DefaultMetrics.DuplicateBarsSkipped.Add(float64(duplicateBars))
}

// RecordBackfill adds one completed backfill result to the counters.
func RecordBackfill(ticks, bars, chunksSkipped, errs int) {
	DefaultMetrics.BackfillTicksIngested.Add(float64(ticks))
	DefaultMetrics.BackfillBarsStored.Add(float64(bars))
	DefaultMetrics.BackfillChunksSkipped.Add(float64(chunksSkipped))
	DefaultMetrics.BackfillErrors.Add(float64(errs))
}

// RecordRESTLatency records exchange REST call latency.
func RecordRESTLatency(endpoint string, seconds float64) {
	DefaultMetrics.RESTCallLatency.WithLabelValues(endpoint).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordPipelineRun records a pipeline run.
func RecordPipelineRun(phase, status string, durationSeconds float64) {
	DefaultMetrics.PipelineRunsTotal.WithLabelValues(phase, status).Inc()
	DefaultMetrics.PipelineDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordStudy records the size of a completed signature study.
func RecordStudy(hypotheses, permutations int) {
	DefaultMetrics.HypothesesTested.Add(float64(hypotheses))
	DefaultMetrics.PermutationsRun.Add(float64(permutations))
}

// RecordReportGenerated increments the reports generated counter.
func RecordReportGenerated() {
	DefaultMetrics.ReportsGenerated.Inc()
}

// MarkIngestionSuccess sets the last successful ingestion timestamp to now.
func MarkIngestionSuccess() {
	DefaultMetrics.LastSuccessfulIngestion.Set(float64(time.Now().Unix()))
}

// MarkPipelineSuccess sets the last successful pipeline timestamp to now.
func MarkPipelineSuccess() {
	DefaultMetrics.LastSuccessfulPipeline.Set(float64(time.Now().Unix()))
}
