package events

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseSessionCompleted(t *testing.T) {
	raw := []byte(`{
		"entity_id": "stu_1001",
		"event_type": "session_completed",
		"timestamp": "2026-03-01T10:00:00Z",
		"payload": {"session_id": "sess_1", "tutor_id": "tut_200", "subject": "Mathematics", "duration_minutes": 60, "rating": 4.5}
	}`)

	ev, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse should succeed: %v", err)
	}
	if ev.EntityID != "stu_1001" || ev.Type != TypeSessionCompleted {
		t.Fatalf("unexpected envelope: %#v", ev)
	}

	payload, ok := ev.Payload.(*SessionPayload)
	if !ok {
		t.Fatalf("payload should be *SessionPayload, got %T", ev.Payload)
	}
	if payload.Rating != 4.5 || payload.TutorID != "tut_200" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	if !ev.Timestamp.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp not normalised to UTC: %v", ev.Timestamp)
	}
}

func TestParsePaymentAmountDecimal(t *testing.T) {
	raw := []byte(`{
		"entity_id": "stu_1002",
		"event_type": "payment_failed",
		"timestamp": "2026-03-01T10:00:00Z",
		"payload": {"payment_id": "pay_1", "amount": "49.99", "failure_code": "card_declined"}
	}`)

	ev, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse should succeed: %v", err)
	}
	payload := ev.Payload.(*PaymentPayload)
	if !payload.Amount.Equal(decimal.RequireFromString("49.99")) {
		t.Fatalf("amount mismatch: %s", payload.Amount)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		field string
	}{
		{"missing entity", `{"event_type":"login","timestamp":"2026-03-01T10:00:00Z","payload":{}}`, "entity_id"},
		{"unknown type", `{"entity_id":"e","event_type":"bogus","timestamp":"2026-03-01T10:00:00Z","payload":{}}`, "event_type"},
		{"missing timestamp", `{"entity_id":"e","event_type":"login","payload":{}}`, "timestamp"},
		{"bad timestamp", `{"entity_id":"e","event_type":"login","timestamp":"yesterday","payload":{}}`, "timestamp"},
		{"rating out of range", `{"entity_id":"e","event_type":"session_completed","timestamp":"2026-03-01T10:00:00Z","payload":{"session_id":"s","rating":6}}`, "payload.rating"},
		{"negative amount", `{"entity_id":"e","event_type":"payment_succeeded","timestamp":"2026-03-01T10:00:00Z","payload":{"payment_id":"p","amount":"-1"}}`, "payload.amount"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestValidateRequiresPayload(t *testing.T) {
	ev := Event{EntityID: "e", Type: TypeLogin, Timestamp: time.Now()}
	var verr *ValidationError
	if err := Validate(ev); !errors.As(err, &verr) {
		t.Fatalf("nil payload should fail validation, got %v", err)
	}
}
