// Package metrics provides Prometheus instrumentation for the churn risk pipeline.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// EventsProcessedTotal counts accepted events by type.
	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnwatch",
			Name:      "events_processed_total",
			Help:      "Total events accepted into metric state by event type.",
		},
		[]string{"type"},
	)

	// EventsRejectedTotal counts events dropped at validation.
	EventsRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "churnwatch",
		Name:      "events_rejected_total",
		Help:      "Total events rejected by validation.",
	})

	// EvaluationsTotal counts inference evaluations by result source.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnwatch",
			Name:      "evaluations_total",
			Help:      "Total risk evaluations by the source that produced the insight.",
		},
		[]string{"source"},
	)

	// EvaluationDuration observes evaluation latency by source.
	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "churnwatch",
			Name:      "evaluation_duration_seconds",
			Help:      "Risk evaluation duration in seconds by source.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// BackendFailuresTotal counts inference backend failures by backend and class.
	BackendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnwatch",
			Name:      "backend_failures_total",
			Help:      "Total inference backend failures by backend name and failure class.",
		},
		[]string{"backend", "class"},
	)

	// InsightPersistFailuresTotal counts insight writes that exhausted retries.
	InsightPersistFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "churnwatch",
		Name:      "insight_persist_failures_total",
		Help:      "Total insight persistence attempts that failed after retries.",
	})

	// AlertsTotal counts alert routing outcomes.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnwatch",
			Name:      "alerts_total",
			Help:      "Total alert routing decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// InsightsExpiredTotal counts insights removed by the TTL sweep.
	InsightsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "churnwatch",
		Name:      "insights_expired_total",
		Help:      "Total insights deleted by the retention sweep.",
	})

	// TrackedEntities tracks entities with live metric state.
	TrackedEntities = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnwatch",
		Name:      "tracked_entities",
		Help:      "Number of entities with live aggregate state.",
	})
)

func init() {
	prometheus.MustRegister(
		EventsProcessedTotal,
		EventsRejectedTotal,
		EvaluationsTotal,
		EvaluationDuration,
		BackendFailuresTotal,
		InsightPersistFailuresTotal,
		AlertsTotal,
		InsightsExpiredTotal,
		TrackedEntities,
	)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listener started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
