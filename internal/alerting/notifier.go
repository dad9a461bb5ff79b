package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers notifications to the downstream sink.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// SinkError wraps a delivery failure so callers can distinguish sink
// problems from routing logic errors.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return fmt.Sprintf("notification sink: %v", e.Err) }

func (e *SinkError) Unwrap() error { return e.Err }

// WebhookNotifier posts notifications as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	endpoint  string
	authToken string
	client    *http.Client
	logger    zerolog.Logger
}

// NewWebhookNotifier constructs a webhook sink client.
func NewWebhookNotifier(endpoint, authToken string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		endpoint:  strings.TrimRight(endpoint, "/"),
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "alert_webhook").Logger(),
	}
}

// Notify posts the notification payload and treats any non-2xx answer as a
// sink failure.
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return &SinkError{Err: fmt.Errorf("marshal notification: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return &SinkError{Err: fmt.Errorf("create webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if n.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.authToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return &SinkError{Err: fmt.Errorf("send webhook request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SinkError{Err: fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	}

	n.logger.Info().
		Str("entity_id", note.EntityID).
		Str("severity", string(note.Severity)).
		Str("dedup_key", note.DedupKey).
		Int("risk_score", note.RiskScore).
		Msg("alert delivered")
	return nil
}

var _ Notifier = (*WebhookNotifier)(nil)

// LogNotifier emits notifications as structured log lines. It stands in for
// the webhook sink when no endpoint is configured, which keeps local runs
// and simulations observable without an external receiver.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only sink.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the notification. It never fails.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Warn().
		Str("entity_id", note.EntityID).
		Str("prediction_type", string(note.PredictionType)).
		Str("severity", string(note.Severity)).
		Int("risk_score", note.RiskScore).
		Str("explanation", note.Explanation).
		Strs("recommendations", note.Recommendations).
		Msg("alert")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
