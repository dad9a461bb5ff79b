package inference

import (
	"context"

	"churn-risk-alerts/internal/insight"
	"churn-risk-alerts/internal/metricstate"
)

// Backend is one remote inference tier.
type Backend interface {
	// Name identifies the backend in logs and error classification.
	Name() string
	// Infer produces a raw risk result for the entity view. Failures must be
	// reported as *TransientError or *PermanentError so the orchestrator can
	// decide between retrying and escalating.
	Infer(ctx context.Context, view metricstate.EntityView, pt insight.PredictionType) (insight.RawResult, error)
}
