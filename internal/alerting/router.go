package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"churn-risk-alerts/internal/insight"
)

// Outcome describes what the router did with an insight.
type Outcome string

const (
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeSuppressed     Outcome = "suppressed"
	OutcomeDelivered      Outcome = "delivered"
	OutcomeParked         Outcome = "parked"
)

// RouterConfig tunes routing behaviour.
type RouterConfig struct {
	Bands               Bands
	DedupWindow         time.Duration
	MaxDeliveryAttempts int
	RetryDelay          time.Duration
}

// Router classifies severity, deduplicates per (entity, prediction_type)
// and drives sink delivery.
type Router struct {
	cfg      RouterConfig
	store    RecordStore
	notifier Notifier
	logger   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRouter constructs a router.
func NewRouter(cfg RouterConfig, store RecordStore, notifier Notifier, logger zerolog.Logger) *Router {
	if cfg.Bands.Critical <= 0 {
		cfg.Bands = DefaultBands
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Router{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "alert_router").Logger(),
		sleep:    sleepCtx,
	}
}

// SetSleep overrides the delivery-retry sleeper. Test seam.
func (r *Router) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	r.sleep = sleep
}

// Route processes one insight. Info-band insights never notify. A live
// record for the same dedup key suppresses the notification but still bumps
// last_attempted. Sink failures are retried a fixed number of times and
// then parked on the dead-letter list; routing never panics and never drops
// an alert silently.
func (r *Router) Route(ctx context.Context, ins insight.Insight) (Outcome, error) {
	severity := r.cfg.Bands.Classify(ins.RiskScore)
	if severity == SeverityInfo {
		return OutcomeBelowThreshold, nil
	}

	rec := AlertRecord{
		DedupKey:       DedupKey(ins.EntityID, ins.PredictionType),
		EntityID:       ins.EntityID,
		PredictionType: ins.PredictionType,
		Severity:       severity,
		RiskScore:      ins.RiskScore,
	}

	created, err := r.store.CreateOrTouch(ctx, rec, r.cfg.DedupWindow)
	if err != nil {
		// Without the conditional create the at-most-one guarantee is gone;
		// surfacing beats double-notifying.
		return OutcomeSuppressed, fmt.Errorf("alert dedup check: %w", err)
	}
	if !created {
		r.logger.Debug().
			Str("dedup_key", rec.DedupKey).
			Msg("alert suppressed within dedup window")
		return OutcomeSuppressed, nil
	}

	note := Notification{
		Severity:        severity,
		EntityID:        ins.EntityID,
		PredictionType:  ins.PredictionType,
		RiskScore:       ins.RiskScore,
		Explanation:     ins.Explanation,
		Recommendations: ins.Recommendations,
		DedupKey:        rec.DedupKey,
		Timestamp:       ins.Timestamp,
	}

	if err := r.deliver(ctx, note); err != nil {
		r.logger.Error().Err(err).
			Str("dedup_key", rec.DedupKey).
			Msg("alert delivery exhausted, parking for dead-letter collection")
		if markErr := r.store.MarkDelivered(ctx, rec.DedupKey, false); markErr != nil {
			r.logger.Error().Err(markErr).Str("dedup_key", rec.DedupKey).Msg("failed to park alert record")
		}
		return OutcomeParked, nil
	}

	if err := r.store.MarkDelivered(ctx, rec.DedupKey, true); err != nil {
		r.logger.Error().Err(err).Str("dedup_key", rec.DedupKey).Msg("failed to mark alert delivered")
	}
	return OutcomeDelivered, nil
}

func (r *Router) deliver(ctx context.Context, note Notification) error {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxDeliveryAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.cfg.RetryDelay); err != nil {
				return err
			}
		}
		if lastErr = r.notifier.Notify(ctx, note); lastErr == nil {
			return nil
		}
		r.logger.Warn().Err(lastErr).
			Str("dedup_key", note.DedupKey).
			Int("attempt", attempt+1).
			Msg("sink delivery failed")
	}
	return lastErr
}

// Parked exposes the dead-letter list.
func (r *Router) Parked(ctx context.Context) ([]AlertRecord, error) {
	return r.store.ListParked(ctx)
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
