package metricstate

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"churn-risk-alerts/internal/events"
)

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	s := NewStore(30 * 24 * time.Hour)
	s.SetNow(func() time.Time { return fixedNow })
	return s
}

func sessionAt(ts time.Time, tutorID string, rating float64) events.Event {
	return events.Event{
		EntityID:  "stu_1",
		Type:      events.TypeSessionCompleted,
		Timestamp: ts,
		Payload:   &events.SessionPayload{SessionID: "s", TutorID: tutorID, Rating: rating},
	}
}

func TestApplyRejectsInvalid(t *testing.T) {
	s := newTestStore()
	err := s.Apply("", sessionAt(fixedNow, "tut_1", 4))
	if err == nil {
		t.Fatal("empty entity id should be rejected")
	}
	err = s.Apply("stu_1", events.Event{EntityID: "stu_1", Type: "bogus", Timestamp: fixedNow, Payload: &events.LoginPayload{}})
	if err == nil {
		t.Fatal("unknown type should be rejected")
	}
	if s.Len("stu_1") != 0 {
		t.Fatal("rejected events must not mutate state")
	}
}

func TestApplyPrunesBeyondMaxWindow(t *testing.T) {
	s := newTestStore()

	old := sessionAt(fixedNow.Add(-31*24*time.Hour), "tut_1", 4)
	recent := sessionAt(fixedNow.Add(-24*time.Hour), "tut_1", 4)

	if err := s.Apply("stu_1", old); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Apply("stu_1", recent); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := s.Len("stu_1"); got != 1 {
		t.Fatalf("expected 1 retained event after prune, got %d", got)
	}
}

func TestSnapshotWindowBoundaryInclusive(t *testing.T) {
	s := newTestStore()
	boundary := sessionAt(fixedNow.Add(-7*24*time.Hour), "tut_1", 4)
	if err := s.Apply("stu_1", boundary); err != nil {
		t.Fatalf("apply: %v", err)
	}

	view := s.Snapshot("stu_1", 7*24*time.Hour)
	if view.Sessions != 1 {
		t.Fatalf("event exactly at the boundary should be counted, got %d sessions", view.Sessions)
	}
}

func TestSnapshotMonotonicAcrossWindows(t *testing.T) {
	s := newTestStore()
	for day := 1; day <= 20; day++ {
		ev := sessionAt(fixedNow.Add(-time.Duration(day)*24*time.Hour), fmt.Sprintf("tut_%d", day%3), 4)
		if err := s.Apply("stu_1", ev); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	short := s.Snapshot("stu_1", 7*24*time.Hour)
	medium := s.Snapshot("stu_1", 14*24*time.Hour)
	long := s.Snapshot("stu_1", 30*24*time.Hour)

	if short.Sessions > medium.Sessions || medium.Sessions > long.Sessions {
		t.Fatalf("wider windows must never count less: %d/%d/%d", short.Sessions, medium.Sessions, long.Sessions)
	}
}

func TestSnapshotOutOfOrderEvents(t *testing.T) {
	s := newTestStore()
	later := sessionAt(fixedNow.Add(-1*24*time.Hour), "tut_1", 4)
	earlier := sessionAt(fixedNow.Add(-3*24*time.Hour), "tut_1", 4)

	if err := s.Apply("stu_1", later); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Apply("stu_1", earlier); err != nil {
		t.Fatalf("apply: %v", err)
	}

	view := s.Snapshot("stu_1", 7*24*time.Hour)
	if view.Sessions != 2 {
		t.Fatalf("both events should be counted, got %d", view.Sessions)
	}
}

func TestSnapshotTutorConsistency(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 3; i++ {
		if err := s.Apply("stu_1", sessionAt(fixedNow.Add(-time.Duration(i+1)*24*time.Hour), "tut_a", 4)); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if err := s.Apply("stu_1", sessionAt(fixedNow.Add(-5*24*time.Hour), "tut_b", 4)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	view := s.Snapshot("stu_1", 7*24*time.Hour)
	if view.TutorConsistency != 0.75 {
		t.Fatalf("expected consistency 0.75, got %v", view.TutorConsistency)
	}
	if view.UniqueTutors != 2 {
		t.Fatalf("expected 2 unique tutors, got %d", view.UniqueTutors)
	}
}

func TestSnapshotNoSessionsDefaults(t *testing.T) {
	s := newTestStore()
	view := s.Snapshot("stu_1", 7*24*time.Hour)

	if view.TutorConsistency != 0.5 {
		t.Fatalf("empty history should default consistency to 0.5, got %v", view.TutorConsistency)
	}
	if view.PaymentSuccessRate != 1.0 {
		t.Fatalf("no payments should default success rate to 1.0, got %v", view.PaymentSuccessRate)
	}
	if view.DaysSinceLastSession != 7 {
		t.Fatalf("days since last session should saturate at the window, got %v", view.DaysSinceLastSession)
	}
}

func TestSnapshotPaymentAggregates(t *testing.T) {
	s := newTestStore()
	pay := func(ts time.Time, typ events.Type, amount string, code string) events.Event {
		return events.Event{
			EntityID:  "stu_1",
			Type:      typ,
			Timestamp: ts,
			Payload:   &events.PaymentPayload{PaymentID: "p", Amount: decimal.RequireFromString(amount), FailureCode: code},
		}
	}

	if err := s.Apply("stu_1", pay(fixedNow.Add(-24*time.Hour), events.TypePaymentSucceeded, "50.00", "")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Apply("stu_1", pay(fixedNow.Add(-48*time.Hour), events.TypePaymentSucceeded, "30.00", "")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Apply("stu_1", pay(fixedNow.Add(-72*time.Hour), events.TypePaymentFailed, "30.00", "card_declined")); err != nil {
		t.Fatalf("apply: %v", err)
	}

	view := s.Snapshot("stu_1", 7*24*time.Hour)
	if view.PaymentAttempts != 3 || view.PaymentFailures != 1 {
		t.Fatalf("unexpected payment counters: %d attempts, %d failures", view.PaymentAttempts, view.PaymentFailures)
	}
	if view.PaymentSuccessRate < 0.66 || view.PaymentSuccessRate > 0.67 {
		t.Fatalf("unexpected success rate: %v", view.PaymentSuccessRate)
	}
	if !view.TotalSpend.Equal(decimal.RequireFromString("80.00")) {
		t.Fatalf("unexpected total spend: %s", view.TotalSpend)
	}
	if !view.AvgTransaction.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("unexpected avg transaction: %s", view.AvgTransaction)
	}
}
