// Package pipeline ties event ingestion, aggregation, inference, persistence,
// and alert routing into a single processing service.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"churn-risk-alerts/internal/alerting"
	"churn-risk-alerts/internal/events"
	"churn-risk-alerts/internal/inference"
	"churn-risk-alerts/internal/insight"
	"churn-risk-alerts/internal/metrics"
	"churn-risk-alerts/internal/metricstate"
	"churn-risk-alerts/internal/storage"
)

// Windows holds the trailing windows snapshotted for every evaluation.
type Windows struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// DefaultWindows mirrors the aggregation horizons the scoring model expects.
var DefaultWindows = Windows{
	Short:  7 * 24 * time.Hour,
	Medium: 14 * 24 * time.Hour,
	Long:   30 * 24 * time.Hour,
}

// Options configures the pipeline service.
type Options struct {
	Windows Windows
	// Triggers lists the event types that start an evaluation. Other event
	// types only update aggregate state.
	Triggers []events.Type
	// Workers sets the concurrency of Run's event loop.
	Workers int
	// InsightTTL is the retention applied to persisted insights.
	InsightTTL time.Duration
	// PersistAttempts bounds insight write retries.
	PersistAttempts int
	PersistBackoff  time.Duration
}

func (o Options) normalised() Options {
	if o.Windows.Short <= 0 {
		o.Windows.Short = DefaultWindows.Short
	}
	if o.Windows.Medium <= 0 {
		o.Windows.Medium = DefaultWindows.Medium
	}
	if o.Windows.Long <= 0 {
		o.Windows.Long = DefaultWindows.Long
	}
	if len(o.Triggers) == 0 {
		o.Triggers = DefaultTriggers()
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.InsightTTL <= 0 {
		o.InsightTTL = 90 * 24 * time.Hour
	}
	if o.PersistAttempts <= 0 {
		o.PersistAttempts = 3
	}
	if o.PersistBackoff <= 0 {
		o.PersistBackoff = time.Second
	}
	return o
}

// DefaultTriggers returns the event types that warrant a fresh evaluation.
func DefaultTriggers() []events.Type {
	return []events.Type{
		events.TypeSessionCompleted,
		events.TypeSessionCancelled,
		events.TypeIBCallLogged,
		events.TypePaymentFailed,
	}
}

// Result reports what one event caused downstream.
type Result struct {
	Evaluated bool
	Insight   insight.Insight
	Outcome   alerting.Outcome
}

// Service is the event processing pipeline.
type Service struct {
	state        *metricstate.Store
	orchestrator *inference.Orchestrator
	insights     storage.InsightStore
	router       *alerting.Router
	logger       zerolog.Logger
	opts         Options

	triggers map[events.Type]struct{}
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs the pipeline service. insights may be nil when persistence
// is not configured; evaluation and alerting still run.
func New(state *metricstate.Store, orch *inference.Orchestrator, insights storage.InsightStore, router *alerting.Router, logger zerolog.Logger, opts Options) *Service {
	opts = opts.normalised()
	triggers := make(map[events.Type]struct{}, len(opts.Triggers))
	for _, t := range opts.Triggers {
		triggers[t] = struct{}{}
	}
	return &Service{
		state:        state,
		orchestrator: orch,
		insights:     insights,
		router:       router,
		logger:       logger.With().Str("component", "pipeline").Logger(),
		opts:         opts,
		triggers:     triggers,
		sleep:        sleepCtx,
	}
}

// SetSleep overrides the retry delay for tests.
func (s *Service) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	s.sleep = fn
}

// HandleEvent applies one event to aggregate state and, when the event type
// is a trigger, runs a full evaluation. State is committed before any remote
// call so a downstream failure never loses the event.
func (s *Service) HandleEvent(ctx context.Context, ev events.Event) (Result, error) {
	if err := s.state.Apply(ev.EntityID, ev); err != nil {
		metrics.EventsRejectedTotal.Inc()
		return Result{}, fmt.Errorf("apply event: %w", err)
	}
	metrics.EventsProcessedTotal.WithLabelValues(string(ev.Type)).Inc()
	metrics.TrackedEntities.Set(float64(s.state.EntityCount()))

	if _, ok := s.triggers[ev.Type]; !ok {
		return Result{}, nil
	}
	return s.evaluate(ctx, ev)
}

func (s *Service) evaluate(ctx context.Context, ev events.Event) (Result, error) {
	view := s.state.SnapshotWindows(ev.EntityID, s.opts.Windows.Short, s.opts.Windows.Medium, s.opts.Windows.Long)
	pt := predictionTypeFor(ev.Type)

	start := time.Now()
	ins := s.orchestrator.Evaluate(ctx, view, pt)
	metrics.EvaluationsTotal.WithLabelValues(string(ins.Source)).Inc()
	metrics.EvaluationDuration.WithLabelValues(string(ins.Source)).Observe(time.Since(start).Seconds())

	s.persist(ctx, ins)

	outcome, err := s.router.Route(ctx, ins)
	metrics.AlertsTotal.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		s.logger.Error().Err(err).
			Str("entity_id", ins.EntityID).
			Str("outcome", string(outcome)).
			Msg("alert routing failed")
	}

	s.logger.Info().
		Str("entity_id", ins.EntityID).
		Str("prediction_type", string(ins.PredictionType)).
		Str("source", string(ins.Source)).
		Int("risk_score", ins.RiskScore).
		Str("outcome", string(outcome)).
		Msg("event evaluated")

	return Result{Evaluated: true, Insight: ins, Outcome: outcome}, nil
}

// persist writes the insight with bounded retries. Persistence failures are
// logged and counted but never block alerting.
func (s *Service) persist(ctx context.Context, ins insight.Insight) {
	if s.insights == nil {
		return
	}
	var lastErr error
	for attempt := 0; attempt < s.opts.PersistAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, s.opts.PersistBackoff<<(attempt-1)); err != nil {
				break
			}
		}
		if lastErr = s.insights.InsertInsight(ctx, ins, s.opts.InsightTTL); lastErr == nil {
			return
		}
		s.logger.Warn().Err(lastErr).
			Str("entity_id", ins.EntityID).
			Int("attempt", attempt+1).
			Msg("insight persist attempt failed")
	}
	metrics.InsightPersistFailuresTotal.Inc()
	s.logger.Error().Err(lastErr).Str("entity_id", ins.EntityID).Msg("insight dropped after persist retries")
}

// Run consumes events from ch with a bounded worker pool until ctx is done
// or ch is closed.
func (s *Service) Run(ctx context.Context, ch <-chan events.Event) error {
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					if _, err := s.HandleEvent(ctx, ev); err != nil {
						s.logger.Warn().Err(err).
							Str("entity_id", ev.EntityID).
							Str("type", string(ev.Type)).
							Msg("event dropped")
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// SweepExpired deletes insights past their retention and reports parked
// alerts. Driven by the maintenance scheduler.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) error {
	if s.insights == nil {
		return nil
	}
	n, err := s.insights.DeleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep expired insights: %w", err)
	}
	if n > 0 {
		metrics.InsightsExpiredTotal.Add(float64(n))
		s.logger.Info().Int64("deleted", n).Msg("expired insights removed")
	}

	parked, err := s.router.Parked(ctx)
	if err != nil {
		return fmt.Errorf("list parked alerts: %w", err)
	}
	for _, rec := range parked {
		s.logger.Warn().
			Str("dedup_key", rec.DedupKey).
			Str("entity_id", rec.EntityID).
			Str("severity", string(rec.Severity)).
			Time("last_attempted", rec.LastAttempted).
			Msg("alert parked awaiting review")
	}
	return nil
}

func predictionTypeFor(t events.Type) insight.PredictionType {
	switch t {
	case events.TypeIBCallLogged:
		return insight.PredictionSupportEscalation
	case events.TypePaymentFailed:
		return insight.PredictionPaymentRisk
	default:
		return insight.PredictionChurnRisk
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
