package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SyncRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactally_sync_runs_total",
		Help: "Total sync runs",
	})
	SyncErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactally_sync_errors_total",
		Help: "Sync runs aborted by an error",
	})
	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reactally_sync_duration_seconds",
		Help:    "Sync duration seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	})
	EventsUpserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactally_events_upserted_total",
		Help: "Reaction events written to the ledger",
	})
	RemoteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactally_remote_failures_total",
		Help: "Remote calls that failed and were skipped during sync",
	}, []string{"operation"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactally_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactally_api_requests_total",
		Help: "Slack API requests by outcome",
	}, []string{"endpoint", "status"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactally_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactally_command_errors_total",
		Help: "CLI commands that returned an error",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(SyncRuns, SyncErrors, SyncDuration, EventsUpserted, RemoteFailures, APIRetries, APIRequests, CommandRuns, CommandErrors)
}

// StartServer serves /metrics and /health on addr until ctx ends. An empty addr is a no-op.
func StartServer(ctx context.Context, log zerolog.Logger, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

// ObserveSyncDuration records a run duration
func ObserveSyncDuration(start time.Time) {
	SyncDuration.Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

// ObserveAPIRequest counts one finished API call.
func ObserveAPIRequest(endpoint string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	APIRequests.WithLabelValues(endpoint, status).Inc()
}

func IncRemoteFailure(operation string) { RemoteFailures.WithLabelValues(operation).Inc() }

func IncCommandRun(cmd string) { CommandRuns.WithLabelValues(cmd).Inc() }

func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
