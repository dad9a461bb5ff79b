// Package rules implements the deterministic risk scorer used both as the
// terminal inference fallback and as a sanity cross-check. Scoring is a pure
// function of the aggregate view: no I/O, no failure mode.
package rules

import (
	"fmt"
	"strings"

	"churn-risk-alerts/internal/insight"
	"churn-risk-alerts/internal/metricstate"
)

// ModelVersion identifies the fixed rule set in insight provenance.
const ModelVersion = "rules-v2"

// Signal thresholds. Boundary values are inclusive on the worse side: a
// value exactly at a threshold already counts as risky. Alert-determining,
// do not loosen.
const (
	callVolumeThreshold       = 3
	paymentSuccessThreshold   = 0.9
	tutorConsistencyThreshold = 0.5
	cancellationRateThreshold = 0.3
	lowRatingThreshold        = 3.0

	weightCallVolume     = 30
	weightNoRecentUse    = 30
	weightPaymentFailure = 25
	weightInconsistency  = 20
	weightCancellations  = 10
	weightLowRating      = 10

	// baselineScore reflects irreducible uncertainty when no signal fires.
	baselineScore = 5
)

// RiskResult is the outcome of a rules evaluation.
type RiskResult struct {
	Score           int
	Signals         []string
	Explanation     string
	Recommendations []string
}

// Engine is the always-available rules scorer.
type Engine struct{}

// NewEngine returns the rules engine.
func NewEngine() *Engine { return &Engine{} }

// Score combines the weighted signals into a bounded 0-100 score.
func (e *Engine) Score(view metricstate.EntityView) RiskResult {
	score := 0
	var signals, recs []string

	if view.Medium.IBCalls >= callVolumeThreshold {
		score += weightCallVolume
		signals = append(signals, fmt.Sprintf("%d inbound support calls in %s", view.Medium.IBCalls, windowLabel(view.Medium)))
		recs = append(recs, "Assign a dedicated account manager")
	}

	if view.Short.Sessions == 0 {
		score += weightNoRecentUse
		signals = append(signals, fmt.Sprintf("no sessions in %s (last session %.0f days ago)", windowLabel(view.Short), view.Long.DaysSinceLastSession))
		recs = append(recs, "Send a re-engagement campaign")
	}

	if view.Long.PaymentAttempts > 0 && view.Long.PaymentSuccessRate <= paymentSuccessThreshold {
		score += weightPaymentFailure
		signals = append(signals, fmt.Sprintf("payment success rate at %.0f%%", view.Long.PaymentSuccessRate*100))
		recs = append(recs, "Prompt the customer to update billing information")
	}

	if view.Long.TutorConsistency <= tutorConsistencyThreshold {
		score += weightInconsistency
		signals = append(signals, "low tutor consistency")
		recs = append(recs, "Assign a preferred tutor for a better match")
	}

	if view.Long.CancellationRate() >= cancellationRateThreshold {
		score += weightCancellations
		signals = append(signals, fmt.Sprintf("%d of %d booked sessions cancelled", view.Long.Cancellations, view.Long.Sessions+view.Long.Cancellations))
		recs = append(recs, "Offer scheduling assistance or flexible hours")
	}

	if view.Long.RatedSessions > 0 && view.Long.AvgRating <= lowRatingThreshold {
		score += weightLowRating
		signals = append(signals, fmt.Sprintf("average session rating %.1f", view.Long.AvgRating))
		recs = append(recs, "Review recent session feedback with the tutor")
	}

	if score > 100 {
		score = 100
	}
	if score == 0 {
		score = baselineScore
	}

	explanation := "All signals within acceptable thresholds"
	if len(signals) > 0 {
		explanation = fmt.Sprintf("Rules analysis detected %d signal(s): %s", len(signals), strings.Join(signals, "; "))
	}

	return RiskResult{
		Score:           score,
		Signals:         signals,
		Explanation:     explanation,
		Recommendations: capRecs(recs, 5),
	}
}

// Evaluate adapts a rules score into the raw-result shape consumed by the
// insight builder. It is the guaranteed terminal tier and cannot fail.
func (e *Engine) Evaluate(view metricstate.EntityView, pt insight.PredictionType) insight.RawResult {
	result := e.Score(view)
	recs := result.Recommendations
	if len(recs) == 0 {
		recs = Recommendations(pt)
	}
	return insight.RawResult{
		RiskScore:       float64(result.Score),
		Explanation:     result.Explanation,
		Recommendations: recs,
		ModelUsed:       ModelVersion,
	}
}

// Recommendations returns the canned per-prediction-type set, used whenever
// an evaluation yields no signal-specific actions.
func Recommendations(pt insight.PredictionType) []string {
	switch pt {
	case insight.PredictionSupportEscalation:
		return []string{
			"Review recent support call transcripts",
			"Follow up on unresolved support requests",
		}
	case insight.PredictionPaymentRisk:
		return []string{
			"Retry the failed payment after a grace period",
			"Offer an alternative payment method",
		}
	default:
		return []string{
			"Schedule a proactive check-in call within 48 hours",
			"Continue monitoring engagement trends",
		}
	}
}

func windowLabel(v metricstate.AggregateView) string {
	days := int(v.Window.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}

func capRecs(recs []string, max int) []string {
	if len(recs) > max {
		return recs[:max]
	}
	return recs
}
