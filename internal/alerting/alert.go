// Package alerting classifies insight severity, deduplicates alerts per
// entity and prediction type, and delivers notifications to the downstream
// sink with bounded retries and a dead-letter path.
package alerting

import (
	"time"

	"churn-risk-alerts/internal/insight"
)

// Severity grades an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Bands hold the severity thresholds. Non-overlapping: critical wins at its
// threshold, info never notifies.
type Bands struct {
	Critical int
	Warning  int
}

// DefaultBands: critical >= 80, warning >= 50.
var DefaultBands = Bands{Critical: 80, Warning: 50}

// Classify maps a risk score into a severity band.
func (b Bands) Classify(riskScore int) Severity {
	switch {
	case riskScore >= b.Critical:
		return SeverityCritical
	case riskScore >= b.Warning:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// AlertRecord tracks one live alert within the dedup window.
type AlertRecord struct {
	DedupKey       string                 `json:"dedup_key"`
	EntityID       string                 `json:"entity_id"`
	PredictionType insight.PredictionType `json:"prediction_type"`
	Severity       Severity               `json:"severity"`
	RiskScore      int                    `json:"risk_score"`
	FirstSeen      time.Time              `json:"first_seen"`
	LastAttempted  time.Time              `json:"last_attempted"`
	Delivered      bool                   `json:"delivered"`
}

// DedupKey derives the deduplication key for an insight.
func DedupKey(entityID string, pt insight.PredictionType) string {
	return entityID + ":" + string(pt)
}

// Notification is the payload handed to the downstream sink.
type Notification struct {
	Severity        Severity               `json:"severity"`
	EntityID        string                 `json:"entity_id"`
	PredictionType  insight.PredictionType `json:"prediction_type"`
	RiskScore       int                    `json:"risk_score"`
	Explanation     string                 `json:"explanation"`
	Recommendations []string               `json:"recommendations"`
	DedupKey        string                 `json:"dedup_key"`
	Timestamp       time.Time              `json:"timestamp"`
}
