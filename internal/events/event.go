package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the ingested event kinds.
type Type string

const (
	TypeSessionStarted   Type = "session_started"
	TypeSessionCompleted Type = "session_completed"
	TypeSessionCancelled Type = "session_cancelled"
	TypeIBCallLogged     Type = "ib_call_logged"
	TypePaymentSucceeded Type = "payment_succeeded"
	TypePaymentFailed    Type = "payment_failed"
	TypeAvailability     Type = "tutor_availability_updated"
	TypeLogin            Type = "login"
)

// Known reports whether t is a recognised event type.
func (t Type) Known() bool {
	switch t {
	case TypeSessionStarted, TypeSessionCompleted, TypeSessionCancelled,
		TypeIBCallLogged, TypePaymentSucceeded, TypePaymentFailed,
		TypeAvailability, TypeLogin:
		return true
	}
	return false
}

// ValidationError rejects a malformed event at the ingestion boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

// Payload is the tagged-union interface over per-type payload variants.
type Payload interface {
	eventPayload()
}

// SessionPayload carries session start/completion details.
type SessionPayload struct {
	SessionID       string  `json:"session_id"`
	TutorID         string  `json:"tutor_id"`
	Subject         string  `json:"subject"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	Rating          float64 `json:"rating,omitempty"`
}

// CancellationPayload carries a session cancellation.
type CancellationPayload struct {
	SessionID string `json:"session_id"`
	TutorID   string `json:"tutor_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Late      bool   `json:"late,omitempty"`
}

// CallPayload carries an inbound support call.
type CallPayload struct {
	CallID          string `json:"call_id"`
	Reason          string `json:"reason,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Resolved        bool   `json:"resolved,omitempty"`
	Priority        string `json:"priority,omitempty"`
}

// PaymentPayload carries a payment attempt outcome.
type PaymentPayload struct {
	PaymentID   string          `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method,omitempty"`
	FailureCode string          `json:"failure_code,omitempty"`
}

// AvailabilityPayload carries a tutor availability update.
type AvailabilityPayload struct {
	TutorID            string   `json:"tutor_id"`
	AvailableHours     int      `json:"available_hours"`
	Subjects           []string `json:"subjects,omitempty"`
	AcceptsInstantBook bool     `json:"accepts_instant_book,omitempty"`
}

// LoginPayload carries a platform login.
type LoginPayload struct {
	Channel string `json:"channel,omitempty"`
}

func (SessionPayload) eventPayload()      {}
func (CancellationPayload) eventPayload() {}
func (CallPayload) eventPayload()         {}
func (PaymentPayload) eventPayload()      {}
func (AvailabilityPayload) eventPayload() {}
func (LoginPayload) eventPayload()        {}

// Event is the validated envelope handed to the pipeline.
type Event struct {
	EntityID  string
	Type      Type
	Timestamp time.Time
	Payload   Payload
}

type envelope struct {
	EntityID  string          `json:"entity_id"`
	EventType Type            `json:"event_type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Parse decodes and validates a raw ingested event.
func Parse(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, &ValidationError{Field: "body", Reason: err.Error()}
	}

	ts := time.Time{}
	if env.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, env.Timestamp)
		if err != nil {
			return Event{}, &ValidationError{Field: "timestamp", Reason: "not ISO-8601"}
		}
		ts = parsed.UTC()
	}

	ev := Event{
		EntityID:  env.EntityID,
		Type:      env.EventType,
		Timestamp: ts,
	}

	if err := ev.validateEnvelope(); err != nil {
		return Event{}, err
	}

	payload, err := decodePayload(env.EventType, env.Payload)
	if err != nil {
		return Event{}, err
	}
	ev.Payload = payload

	if err := Validate(ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	unmarshal := func(dst Payload) (Payload, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, &ValidationError{Field: "payload", Reason: err.Error()}
		}
		return dst, nil
	}

	switch t {
	case TypeSessionStarted, TypeSessionCompleted:
		return unmarshal(&SessionPayload{})
	case TypeSessionCancelled:
		return unmarshal(&CancellationPayload{})
	case TypeIBCallLogged:
		return unmarshal(&CallPayload{})
	case TypePaymentSucceeded, TypePaymentFailed:
		return unmarshal(&PaymentPayload{})
	case TypeAvailability:
		return unmarshal(&AvailabilityPayload{})
	case TypeLogin:
		return unmarshal(&LoginPayload{})
	default:
		return nil, &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown type %q", t)}
	}
}

func (e Event) validateEnvelope() error {
	if e.EntityID == "" {
		return &ValidationError{Field: "entity_id", Reason: "required"}
	}
	if !e.Type.Known() {
		return &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown type %q", e.Type)}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "required"}
	}
	return nil
}

// Validate checks an already-constructed event, including payload variants.
func Validate(e Event) error {
	if err := e.validateEnvelope(); err != nil {
		return err
	}

	switch p := e.Payload.(type) {
	case nil:
		return &ValidationError{Field: "payload", Reason: "required"}
	case *SessionPayload:
		if p.Rating < 0 || p.Rating > 5 {
			return &ValidationError{Field: "payload.rating", Reason: "must be within [0,5]"}
		}
		if p.DurationMinutes < 0 {
			return &ValidationError{Field: "payload.duration_minutes", Reason: "must not be negative"}
		}
	case *CallPayload:
		if p.DurationSeconds < 0 {
			return &ValidationError{Field: "payload.duration_seconds", Reason: "must not be negative"}
		}
	case *PaymentPayload:
		if p.Amount.IsNegative() {
			return &ValidationError{Field: "payload.amount", Reason: "must not be negative"}
		}
	case *AvailabilityPayload:
		if p.AvailableHours < 0 {
			return &ValidationError{Field: "payload.available_hours", Reason: "must not be negative"}
		}
	}
	return nil
}
