// Package inference runs the tiered fallback chain that turns an aggregate
// view into a scored insight: remote backends in configured order, each with
// its own retry budget, bottoming out at the rules engine which cannot fail.
package inference

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"churn-risk-alerts/internal/insight"
	"churn-risk-alerts/internal/metrics"
	"churn-risk-alerts/internal/metricstate"
	"churn-risk-alerts/internal/rules"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
	defaultOverallCap  = 30 * time.Second
)

// RetryPolicy bounds one tier's attempts.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

func (p RetryPolicy) normalised() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = defaultBackoffBase
	}
	return p
}

// Tier pairs a backend with its retry policy. Source stamps the provenance
// of insights the backend produces; it defaults by chain position (first
// tier primary, the rest secondary) when unset.
type Tier struct {
	Backend Backend
	Policy  RetryPolicy
	Source  insight.Source
}

// Orchestrator drives the evaluation state machine. Each evaluation is
// independent; the orchestrator itself holds no per-entity state.
type Orchestrator struct {
	tiers      []Tier
	rules      *rules.Engine
	builder    *insight.Builder
	overallCap time.Duration
	logger     zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator builds the chain. tiers may be empty, in which case every
// evaluation goes straight to the rules engine.
func NewOrchestrator(tiers []Tier, engine *rules.Engine, builder *insight.Builder, overallCap time.Duration, logger zerolog.Logger) *Orchestrator {
	if overallCap <= 0 {
		overallCap = defaultOverallCap
	}
	normalised := make([]Tier, len(tiers))
	for i, t := range tiers {
		source := t.Source
		if source == "" {
			source = defaultTierSource(i)
		}
		normalised[i] = Tier{Backend: t.Backend, Policy: t.Policy.normalised(), Source: source}
	}
	return &Orchestrator{
		tiers:      normalised,
		rules:      engine,
		builder:    builder,
		overallCap: overallCap,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		sleep:      sleepCtx,
	}
}

// SetSleep overrides the backoff sleeper. Test seam.
func (o *Orchestrator) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	o.sleep = sleep
}

// Evaluate runs the chain and always returns an insight: the first tier to
// succeed wins, lower tiers are never consulted afterwards, and exhaustion
// of every remote tier falls through to the rules engine. Total latency is
// capped regardless of how many tiers are attempted.
func (o *Orchestrator) Evaluate(ctx context.Context, view metricstate.EntityView, pt insight.PredictionType) insight.Insight {
	ctx, cancel := context.WithTimeout(ctx, o.overallCap)
	defer cancel()

	for _, tier := range o.tiers {
		raw, err := o.tryTier(ctx, tier, view, pt)
		if err == nil {
			return o.builder.Build(view.EntityID, pt, tier.Source, raw)
		}

		metrics.BackendFailuresTotal.WithLabelValues(tier.Backend.Name(), failureClass(err)).Inc()
		o.logger.Warn().Err(err).
			Str("backend", tier.Backend.Name()).
			Str("entity_id", view.EntityID).
			Msg("inference tier exhausted, escalating")

		if ctx.Err() != nil {
			// Cap hit mid-chain: abandon remaining remote tiers.
			break
		}
	}

	raw := o.rules.Evaluate(view, pt)
	return o.builder.Build(view.EntityID, pt, insight.SourceRules, raw)
}

// tryTier runs one backend with its retry budget. A transient failure
// retries with exponential backoff; a permanent failure escalates at once.
func (o *Orchestrator) tryTier(ctx context.Context, tier Tier, view metricstate.EntityView, pt insight.PredictionType) (insight.RawResult, error) {
	var lastErr error
	for attempt := 0; attempt < tier.Policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := tier.Policy.BackoffBase << (attempt - 1)
			if err := o.sleep(ctx, delay); err != nil {
				return insight.RawResult{}, &TransientError{Backend: tier.Backend.Name(), Err: err}
			}
		}

		raw, err := tier.Backend.Infer(ctx, view, pt)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return insight.RawResult{}, err
		}
		if ctx.Err() != nil {
			return insight.RawResult{}, lastErr
		}

		o.logger.Debug().Err(err).
			Str("backend", tier.Backend.Name()).
			Int("attempt", attempt+1).
			Msg("transient backend failure")
	}
	return insight.RawResult{}, lastErr
}

func failureClass(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

func defaultTierSource(index int) insight.Source {
	if index == 0 {
		return insight.SourcePrimary
	}
	return insight.SourceSecondary
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
