package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RefreshRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perch_refresh_runs_total",
		Help: "Backfill refresh cycles started",
	})
	RefreshIncomplete = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perch_refresh_incomplete_total",
		Help: "Refresh cycles left incomplete by budget or errors",
	})
	PagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_timeline_pages_total",
		Help: "Timeline pages fetched per kind",
	}, []string{"kind"})
	BudgetDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_budget_denied_total",
		Help: "Rate-window budget refusals per call kind",
	}, []string{"kind"})
	RecordsQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_records_queued_total",
		Help: "Classified records pushed to the write queue",
	}, []string{"type"})
	RecordsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perch_records_written_total",
		Help: "Records accepted by the storage collaborator",
	})
	DrainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "perch_drain_duration_seconds",
		Help:    "Write-queue drain duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perch_stream_reconnects_total",
		Help: "Streaming connection attempts after the first",
	})
	StreamEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_stream_events_total",
		Help: "Streaming events received per kind",
	}, []string{"kind"})
	ItemsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perch_items_dropped_total",
		Help: "Malformed feed items dropped",
	})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(
		RefreshRuns, RefreshIncomplete, PagesFetched, BudgetDenied,
		RecordsQueued, RecordsWritten, DrainDuration,
		StreamReconnects, StreamEvents, ItemsDropped,
		CommandRuns, CommandErrors,
	)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveDrainDuration records one drain's duration.
func ObserveDrainDuration(start time.Time) {
	DrainDuration.Observe(time.Since(start).Seconds())
}

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
