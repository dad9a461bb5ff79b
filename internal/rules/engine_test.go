package rules

import (
	"testing"
	"time"

	"churn-risk-alerts/internal/insight"
	"churn-risk-alerts/internal/metricstate"
)

// healthyView carries enough activity that no signal fires.
func healthyView() metricstate.EntityView {
	short := metricstate.AggregateView{
		Window:             7 * 24 * time.Hour,
		Sessions:           3,
		RatedSessions:      3,
		AvgRating:          4.5,
		TutorConsistency:   0.9,
		PaymentSuccessRate: 1.0,
	}
	medium := short
	medium.Window = 14 * 24 * time.Hour
	medium.Sessions = 6
	long := short
	long.Window = 30 * 24 * time.Hour
	long.Sessions = 12
	long.PaymentAttempts = 4

	return metricstate.EntityView{EntityID: "stu_1", Short: short, Medium: medium, Long: long}
}

func TestScoreBaselineWhenHealthy(t *testing.T) {
	result := NewEngine().Score(healthyView())
	if result.Score != baselineScore {
		t.Fatalf("healthy entity should score the baseline %d, got %d", baselineScore, result.Score)
	}
	if len(result.Signals) != 0 {
		t.Fatalf("no signals should fire: %v", result.Signals)
	}
}

func TestScoreCallVolumeBoundaryInclusive(t *testing.T) {
	view := healthyView()
	view.Medium.IBCalls = callVolumeThreshold

	result := NewEngine().Score(view)
	if result.Score != weightCallVolume {
		t.Fatalf("exactly %d calls should fire the call-volume signal, got score %d", callVolumeThreshold, result.Score)
	}

	view.Medium.IBCalls = callVolumeThreshold - 1
	result = NewEngine().Score(view)
	if result.Score != baselineScore {
		t.Fatalf("%d calls should not fire, got score %d", callVolumeThreshold-1, result.Score)
	}
}

func TestScoreHighRiskScenario(t *testing.T) {
	// Three support calls in 14 days, no sessions in 7 days, default tutor
	// consistency: the combination must reach the critical band.
	view := metricstate.EntityView{
		EntityID: "stu_1",
		Short: metricstate.AggregateView{
			Window:               7 * 24 * time.Hour,
			TutorConsistency:     0.5,
			PaymentSuccessRate:   1.0,
			DaysSinceLastSession: 7,
		},
		Medium: metricstate.AggregateView{
			Window:             14 * 24 * time.Hour,
			IBCalls:            3,
			TutorConsistency:   0.5,
			PaymentSuccessRate: 1.0,
		},
		Long: metricstate.AggregateView{
			Window:               30 * 24 * time.Hour,
			TutorConsistency:     0.5,
			PaymentSuccessRate:   1.0,
			DaysSinceLastSession: 30,
		},
	}

	result := NewEngine().Score(view)
	if result.Score < 80 {
		t.Fatalf("high-risk scenario should reach at least 80, got %d", result.Score)
	}
	if len(result.Signals) != 3 {
		t.Fatalf("expected call volume, inactivity and consistency signals, got %v", result.Signals)
	}
}

func TestScoreLowRiskScenario(t *testing.T) {
	// One recent rated session at 4.5: nothing fires, score stays baseline.
	view := healthyView()
	view.Short.Sessions = 1
	view.Medium.Sessions = 1
	view.Long.Sessions = 1

	result := NewEngine().Score(view)
	if result.Score != baselineScore {
		t.Fatalf("low-risk scenario should stay at baseline, got %d", result.Score)
	}
}

func TestScoreClampedAt100(t *testing.T) {
	view := metricstate.EntityView{
		EntityID: "stu_1",
		Short:    metricstate.AggregateView{Window: 7 * 24 * time.Hour},
		Medium:   metricstate.AggregateView{Window: 14 * 24 * time.Hour, IBCalls: 10},
		Long: metricstate.AggregateView{
			Window:          30 * 24 * time.Hour,
			PaymentAttempts: 5, PaymentFailures: 3, PaymentSuccessRate: 0.4,
			Cancellations: 5, Sessions: 2,
			RatedSessions: 2, AvgRating: 2.0,
		},
	}

	result := NewEngine().Score(view)
	if result.Score > 100 {
		t.Fatalf("score must be clamped to 100, got %d", result.Score)
	}
	if result.Score != 100 {
		t.Fatalf("every signal firing should saturate the score, got %d", result.Score)
	}
}

func TestEvaluateProvidesRecommendations(t *testing.T) {
	raw := NewEngine().Evaluate(healthyView(), insight.PredictionChurnRisk)
	if raw.ModelUsed != ModelVersion {
		t.Fatalf("model version mismatch: %s", raw.ModelUsed)
	}
	if len(raw.Recommendations) == 0 {
		t.Fatal("recommendations must never be empty")
	}
}

func TestRecommendationsPerPredictionType(t *testing.T) {
	for _, pt := range []insight.PredictionType{
		insight.PredictionChurnRisk,
		insight.PredictionSupportEscalation,
		insight.PredictionPaymentRisk,
	} {
		if len(Recommendations(pt)) == 0 {
			t.Fatalf("no canned recommendations for %s", pt)
		}
	}
}
