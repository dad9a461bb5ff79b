// Package metricstate keeps per-entity rolling event windows.
//
// The store is the single owner of mutable metric state: all writes for one
// entity are serialised behind that entity's lock, while different entities
// proceed fully in parallel. Events older than the maximum configured window
// are pruned on every mutation, so the retained list is always bounded.
package metricstate

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"churn-risk-alerts/internal/events"
)

// Store is the keyed metric-state store.
type Store struct {
	mu        sync.RWMutex
	entities  map[string]*entityState
	maxWindow time.Duration
	now       func() time.Time
}

type entityState struct {
	mu     sync.Mutex
	events []events.Event
}

// NewStore creates a store that retains events up to maxWindow.
func NewStore(maxWindow time.Duration) *Store {
	if maxWindow <= 0 {
		maxWindow = 30 * 24 * time.Hour
	}
	return &Store{
		entities:  make(map[string]*entityState),
		maxWindow: maxWindow,
		now:       time.Now,
	}
}

// SetNow overrides the clock. Test seam.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) clock() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

func (s *Store) entity(entityID string) *entityState {
	s.mu.RLock()
	st := s.entities[entityID]
	s.mu.RUnlock()
	if st != nil {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st = s.entities[entityID]; st == nil {
		st = &entityState{}
		s.entities[entityID] = st
	}
	return st
}

// Apply appends a validated event to the entity's window and prunes aged
// entries. A malformed event is rejected with *events.ValidationError and
// leaves existing state untouched.
func (s *Store) Apply(entityID string, ev events.Event) error {
	if entityID == "" {
		return &events.ValidationError{Field: "entity_id", Reason: "required"}
	}
	if err := events.Validate(ev); err != nil {
		return err
	}

	st := s.entity(entityID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.events = append(st.events, ev)
	// Events may arrive slightly out of order; keep the list time-sorted so
	// pruning can cut a prefix.
	if n := len(st.events); n > 1 && st.events[n-1].Timestamp.Before(st.events[n-2].Timestamp) {
		sort.SliceStable(st.events, func(i, j int) bool {
			return st.events[i].Timestamp.Before(st.events[j].Timestamp)
		})
	}

	st.prune(s.clock()().Add(-s.maxWindow))
	return nil
}

func (st *entityState) prune(cutoff time.Time) {
	idx := 0
	for idx < len(st.events) && st.events[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		st.events = append(st.events[:0:0], st.events[idx:]...)
	}
}

// EntityCount returns the number of entities with live state.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Len returns the number of retained events for an entity.
func (s *Store) Len(entityID string) int {
	st := s.entity(entityID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.events)
}

// Snapshot recomputes the aggregate view over the trailing window ending now.
// An event exactly at the window boundary is included.
func (s *Store) Snapshot(entityID string, window time.Duration) AggregateView {
	now := s.clock()().UTC()
	if window <= 0 || window > s.maxWindow {
		window = s.maxWindow
	}
	cutoff := now.Add(-window)

	view := AggregateView{
		EntityID:           entityID,
		At:                 now,
		Window:             window,
		TutorConsistency:   0.5,
		PaymentSuccessRate: 1.0,
		TotalSpend:         decimal.Zero,
		AvgTransaction:     decimal.Zero,
	}

	st := s.entity(entityID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var (
		ratingSum    float64
		lastSession  time.Time
		tutorCounts  = make(map[string]int)
		tutorTotal   int
		paymentTotal = decimal.Zero
	)

	for _, ev := range st.events {
		if ev.Timestamp.Before(cutoff) || ev.Timestamp.After(now) {
			continue
		}
		switch p := ev.Payload.(type) {
		case *events.SessionPayload:
			view.Sessions++
			if ev.Timestamp.After(lastSession) {
				lastSession = ev.Timestamp
			}
			if p.TutorID != "" {
				tutorCounts[p.TutorID]++
				tutorTotal++
			}
			if ev.Type == events.TypeSessionCompleted && p.Rating > 0 {
				view.RatedSessions++
				ratingSum += p.Rating
			}
		case *events.CancellationPayload:
			view.Cancellations++
			if p.Late {
				view.LateCancels++
			}
		case *events.CallPayload:
			view.IBCalls++
		case *events.PaymentPayload:
			view.PaymentAttempts++
			if ev.Type == events.TypePaymentFailed {
				view.PaymentFailures++
			} else {
				paymentTotal = paymentTotal.Add(p.Amount)
			}
		case *events.LoginPayload:
			view.Logins++
		}
	}

	if view.RatedSessions > 0 {
		view.AvgRating = ratingSum / float64(view.RatedSessions)
	}

	view.UniqueTutors = len(tutorCounts)
	if tutorTotal > 0 {
		top := 0
		for _, n := range tutorCounts {
			if n > top {
				top = n
			}
		}
		view.TutorConsistency = float64(top) / float64(tutorTotal)
	}

	succeeded := view.PaymentAttempts - view.PaymentFailures
	if view.PaymentAttempts > 0 {
		view.PaymentSuccessRate = float64(succeeded) / float64(view.PaymentAttempts)
		view.TotalSpend = paymentTotal
		if succeeded > 0 {
			view.AvgTransaction = paymentTotal.Div(decimal.NewFromInt(int64(succeeded))).Round(2)
		}
	}

	windowDays := window.Hours() / 24
	view.DaysSinceLastSession = windowDays
	if !lastSession.IsZero() {
		if since := now.Sub(lastSession).Hours() / 24; since < windowDays {
			view.DaysSinceLastSession = since
		}
	}

	return view
}

// SnapshotWindows takes the standard short/medium/long views in one call.
func (s *Store) SnapshotWindows(entityID string, short, medium, long time.Duration) EntityView {
	return EntityView{
		EntityID: entityID,
		At:       s.clock()().UTC(),
		Short:    s.Snapshot(entityID, short),
		Medium:   s.Snapshot(entityID, medium),
		Long:     s.Snapshot(entityID, long),
	}
}
