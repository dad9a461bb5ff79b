// Package simulator generates synthetic marketplace events for load and
// smoke testing the pipeline without a real event source.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"churn-risk-alerts/internal/events"
)

// Options tune the generated traffic shape.
type Options struct {
	// Entities is the number of distinct students events are spread over.
	Entities int
	// EventsPerEntity is how many events each entity receives.
	EventsPerEntity int
	// Pace inserts a pause after every tenth event so downstream sinks are
	// not hammered.
	Pace time.Duration
	// Seed fixes the random stream; zero means time-seeded.
	Seed int64
}

func (o Options) normalised() Options {
	if o.Entities <= 0 {
		o.Entities = 50
	}
	if o.EventsPerEntity <= 0 {
		o.EventsPerEntity = 10
	}
	if o.Pace < 0 {
		o.Pace = 0
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

var subjects = []string{
	"Mathematics", "Physics", "Chemistry", "Biology",
	"English", "History", "Computer Science", "Spanish", "French",
}

var callReasons = []string{
	"scheduling_issue", "technical_problem", "tutor_concern",
	"billing_question", "general_inquiry",
}

var priorities = []string{"low", "medium", "high"}

// Simulator produces random but well-formed events.
type Simulator struct {
	opts   Options
	rng    *rand.Rand
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a simulator.
func New(opts Options, logger zerolog.Logger) *Simulator {
	opts = opts.normalised()
	return &Simulator{
		opts:   opts,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		logger: logger.With().Str("component", "simulator").Logger(),
		now:    time.Now,
	}
}

// SetNow overrides the clock. Test seam.
func (s *Simulator) SetNow(now func() time.Time) {
	s.now = now
}

// Run emits the configured number of events into ch, pacing as it goes,
// until done or ctx is cancelled. ch is not closed; the caller owns it.
func (s *Simulator) Run(ctx context.Context, ch chan<- events.Event) (int, error) {
	total := s.opts.Entities * s.opts.EventsPerEntity
	s.logger.Info().
		Int("entities", s.opts.Entities).
		Int("events_per_entity", s.opts.EventsPerEntity).
		Int("total", total).
		Msg("simulation started")

	sent := 0
	for i := 0; i < total; i++ {
		ev := s.Next()
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case ch <- ev:
			sent++
		}

		if s.opts.Pace > 0 && sent%10 == 0 {
			timer := time.NewTimer(s.opts.Pace)
			select {
			case <-ctx.Done():
				timer.Stop()
				return sent, ctx.Err()
			case <-timer.C:
			}
		}
	}

	s.logger.Info().Int("sent", sent).Msg("simulation complete")
	return sent, nil
}

// Next generates one random event.
func (s *Simulator) Next() events.Event {
	entityID := fmt.Sprintf("stu_%04d", 1000+s.rng.Intn(s.opts.Entities))
	now := s.now().UTC()

	switch s.rng.Intn(8) {
	case 0:
		return events.Event{
			EntityID:  entityID,
			Type:      events.TypeSessionStarted,
			Timestamp: now,
			Payload: &events.SessionPayload{
				SessionID:       s.sessionID(now),
				TutorID:         s.tutorID(),
				Subject:         pick(s.rng, subjects),
				DurationMinutes: pick(s.rng, []int{30, 60, 90}),
			},
		}
	case 1, 2:
		return events.Event{
			EntityID:  entityID,
			Type:      events.TypeSessionCompleted,
			Timestamp: now,
			Payload: &events.SessionPayload{
				SessionID:       s.sessionID(now),
				TutorID:         s.tutorID(),
				Subject:         pick(s.rng, subjects),
				DurationMinutes: 20 + s.rng.Intn(76),
				Rating:          float64(3 + s.rng.Intn(3)),
			},
		}
	case 3:
		return events.Event{
			EntityID:  entityID,
			Type:      events.TypeSessionCancelled,
			Timestamp: now,
			Payload: &events.CancellationPayload{
				SessionID: s.sessionID(now),
				TutorID:   s.tutorID(),
				Reason:    pick(s.rng, []string{"student_request", "tutor_unavailable", "no_show"}),
				Late:      s.rng.Float64() < 0.3,
			},
		}
	case 4:
		return events.Event{
			EntityID:  entityID,
			Type:      events.TypeIBCallLogged,
			Timestamp: now,
			Payload: &events.CallPayload{
				CallID:          fmt.Sprintf("call_%d_%03d", now.UnixMilli(), 100+s.rng.Intn(900)),
				Reason:          pick(s.rng, callReasons),
				DurationSeconds: 60 + s.rng.Intn(541),
				Resolved:        s.rng.Float64() < 0.7,
				Priority:        pick(s.rng, priorities),
			},
		}
	case 5:
		payload := &events.PaymentPayload{
			PaymentID: fmt.Sprintf("pay_%d", now.UnixMilli()),
			Amount:    decimal.NewFromInt(int64(25 + s.rng.Intn(125))),
			Method:    pick(s.rng, []string{"card", "paypal", "bank_transfer"}),
		}
		t := events.TypePaymentSucceeded
		if s.rng.Float64() < 0.15 {
			t = events.TypePaymentFailed
			payload.FailureCode = pick(s.rng, []string{"card_declined", "insufficient_funds", "expired_card"})
		}
		return events.Event{EntityID: entityID, Type: t, Timestamp: now, Payload: payload}
	case 6:
		return events.Event{
			EntityID:  entityID,
			Type:      events.TypeAvailability,
			Timestamp: now,
			Payload: &events.AvailabilityPayload{
				TutorID:            s.tutorID(),
				AvailableHours:     s.rng.Intn(41),
				Subjects:           []string{pick(s.rng, subjects), pick(s.rng, subjects)},
				AcceptsInstantBook: s.rng.Float64() < 0.5,
			},
		}
	default:
		return events.Event{
			EntityID:  entityID,
			Type:      events.TypeLogin,
			Timestamp: now,
			Payload:   &events.LoginPayload{Channel: pick(s.rng, []string{"web", "ios", "android"})},
		}
	}
}

func (s *Simulator) sessionID(now time.Time) string {
	return fmt.Sprintf("sess_%d_%04d", now.UnixMilli(), 1000+s.rng.Intn(9000))
}

func (s *Simulator) tutorID() string {
	return fmt.Sprintf("tut_%03d", 100+s.rng.Intn(900))
}

func pick[T any](rng *rand.Rand, options []T) T {
	return options[rng.Intn(len(options))]
}
