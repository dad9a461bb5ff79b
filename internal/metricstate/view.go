package metricstate

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregateView holds rolling counters recomputed over one trailing window.
// Counters are derived from the stored event list at snapshot time, never
// from pre-computed totals, so window boundaries always agree with the
// events actually retained.
type AggregateView struct {
	EntityID string
	At       time.Time
	Window   time.Duration

	Sessions       int
	Cancellations  int
	LateCancels    int
	IBCalls        int
	Logins         int
	RatedSessions  int
	AvgRating      float64
	UniqueTutors   int
	// TutorConsistency is the share of sessions held with the entity's most
	// frequent tutor. Defaults to 0.5 when no sessions carry a tutor: an
	// empty history is no evidence of a stable match.
	TutorConsistency float64

	PaymentAttempts    int
	PaymentFailures    int
	PaymentSuccessRate float64
	TotalSpend         decimal.Decimal
	AvgTransaction     decimal.Decimal

	// DaysSinceLastSession saturates at the window length when no session
	// falls inside the window.
	DaysSinceLastSession float64
}

// CancellationRate returns cancellations relative to booked sessions.
func (v AggregateView) CancellationRate() float64 {
	total := v.Sessions + v.Cancellations
	if total == 0 {
		return 0
	}
	return float64(v.Cancellations) / float64(total)
}

// SessionVelocity returns sessions per week over the view window.
func (v AggregateView) SessionVelocity() float64 {
	weeks := v.Window.Hours() / (24 * 7)
	if weeks <= 0 {
		return 0
	}
	return float64(v.Sessions) / weeks
}

// EntityView bundles the standard trailing windows used for evaluation.
type EntityView struct {
	EntityID string
	At       time.Time
	Short    AggregateView // 7d by default
	Medium   AggregateView // 14d
	Long     AggregateView // 30d
}
