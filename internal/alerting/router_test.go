package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-risk-alerts/internal/insight"
)

type fakeNotifier struct {
	failures int
	notes    []Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, note Notification) error {
	if f.failures > 0 {
		f.failures--
		return &SinkError{Err: errors.New("sink down")}
	}
	f.notes = append(f.notes, note)
	return nil
}

func testInsight(score int) insight.Insight {
	return insight.Insight{
		EntityID:        "stu_1",
		Timestamp:       time.Now().UTC(),
		PredictionType:  insight.PredictionChurnRisk,
		RiskScore:       score,
		Explanation:     "test",
		Recommendations: []string{"do something"},
		Source:          insight.SourceRules,
	}
}

func newTestRouter(store RecordStore, notifier Notifier) *Router {
	r := NewRouter(RouterConfig{DedupWindow: time.Minute, MaxDeliveryAttempts: 3, RetryDelay: time.Millisecond}, store, notifier, zerolog.Nop())
	r.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return r
}

func TestRouteBelowThresholdNeverNotifies(t *testing.T) {
	sink := &fakeNotifier{}
	r := newTestRouter(NewMemoryRecordStore(), sink)

	outcome, err := r.Route(context.Background(), testInsight(49))
	require.NoError(t, err)
	assert.Equal(t, OutcomeBelowThreshold, outcome)
	assert.Empty(t, sink.notes)
}

func TestRouteSeverityBands(t *testing.T) {
	cases := []struct {
		score    int
		severity Severity
	}{
		{80, SeverityCritical},
		{95, SeverityCritical},
		{79, SeverityWarning},
		{50, SeverityWarning},
	}

	for _, tc := range cases {
		sink := &fakeNotifier{}
		r := newTestRouter(NewMemoryRecordStore(), sink)

		outcome, err := r.Route(context.Background(), testInsight(tc.score))
		require.NoError(t, err)
		assert.Equal(t, OutcomeDelivered, outcome)
		require.Len(t, sink.notes, 1, "score %d", tc.score)
		assert.Equal(t, tc.severity, sink.notes[0].Severity, "score %d", tc.score)
	}
}

func TestRouteDeduplicatesWithinWindow(t *testing.T) {
	sink := &fakeNotifier{}
	store := NewMemoryRecordStore()
	r := newTestRouter(store, sink)

	outcome, err := r.Route(context.Background(), testInsight(85))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)

	outcome, err = r.Route(context.Background(), testInsight(90))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)

	assert.Len(t, sink.notes, 1, "exactly one notification within the window")

	rec, ok := store.Get(DedupKey("stu_1", insight.PredictionChurnRisk))
	require.True(t, ok)
	assert.Equal(t, 90, rec.RiskScore, "repeat crossing should refresh the recorded score")
}

func TestRouteNotifiesAgainAfterWindow(t *testing.T) {
	sink := &fakeNotifier{}
	store := NewMemoryRecordStore()
	current := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store.SetNow(func() time.Time { return current })
	r := newTestRouter(store, sink)

	_, err := r.Route(context.Background(), testInsight(85))
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	outcome, err := r.Route(context.Background(), testInsight(85))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Len(t, sink.notes, 2)
}

func TestRouteRetriesThenDelivers(t *testing.T) {
	sink := &fakeNotifier{failures: 2}
	r := newTestRouter(NewMemoryRecordStore(), sink)

	outcome, err := r.Route(context.Background(), testInsight(85))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Len(t, sink.notes, 1)
}

func TestRouteParksAfterExhaustedRetries(t *testing.T) {
	sink := &fakeNotifier{failures: 10}
	store := NewMemoryRecordStore()
	r := newTestRouter(store, sink)

	outcome, err := r.Route(context.Background(), testInsight(85))
	require.NoError(t, err)
	assert.Equal(t, OutcomeParked, outcome)

	parked, err := r.Parked(context.Background())
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.False(t, parked[0].Delivered)
	assert.Equal(t, "stu_1", parked[0].EntityID)
}

func TestRouteDifferentPredictionTypesDoNotCollide(t *testing.T) {
	sink := &fakeNotifier{}
	r := newTestRouter(NewMemoryRecordStore(), sink)

	ins := testInsight(85)
	_, err := r.Route(context.Background(), ins)
	require.NoError(t, err)

	ins.PredictionType = insight.PredictionPaymentRisk
	outcome, err := r.Route(context.Background(), ins)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Len(t, sink.notes, 2)
}
