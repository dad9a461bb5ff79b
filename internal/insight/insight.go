// Package insight defines the canonical risk-insight record and the builder
// that normalises heterogeneous backend outputs into it.
package insight

import (
	"math"
	"time"
)

// Source names the inference tier that produced an insight.
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
	SourceRules     Source = "fallback-rules"
)

// PredictionType categorises what an insight predicts.
type PredictionType string

const (
	PredictionChurnRisk         PredictionType = "churn_risk"
	PredictionSupportEscalation PredictionType = "support_escalation"
	PredictionPaymentRisk       PredictionType = "payment_risk"
)

// Confidence constants per tier. The rules engine carries no learned
// calibration, so it reports the lowest fixed confidence.
const (
	ConfidencePrimary   = 0.95
	ConfidenceSecondary = 0.88
	ConfidenceRules     = 0.75
)

// Insight is the immutable record produced once per risk evaluation.
type Insight struct {
	EntityID        string         `json:"entity_id"`
	Timestamp       time.Time      `json:"timestamp"`
	PredictionType  PredictionType `json:"prediction_type"`
	RiskScore       int            `json:"risk_score"`
	Explanation     string         `json:"explanation"`
	Recommendations []string       `json:"recommendations"`
	ModelUsed       string         `json:"model_used"`
	Confidence      float64        `json:"confidence"`
	Source          Source         `json:"source"`
}

// RawResult is the un-normalised output of one inference tier. Shapes and
// units differ per backend; the builder coerces them.
type RawResult struct {
	RiskScore       float64
	Explanation     string
	Recommendations []string
	Confidence      float64
	ModelUsed       string
}

// Builder normalises raw backend output into the canonical insight shape.
type Builder struct {
	fallbackRecs func(PredictionType) []string
	now          func() time.Time
}

// NewBuilder constructs a builder. fallbackRecs supplies the canned
// recommendation set used when a backend produced none; it must never
// return an empty list.
func NewBuilder(fallbackRecs func(PredictionType) []string) *Builder {
	return &Builder{fallbackRecs: fallbackRecs, now: time.Now}
}

// SetNow overrides the clock. Test seam.
func (b *Builder) SetNow(now func() time.Time) { b.now = now }

// Build produces the canonical insight for one evaluation.
func (b *Builder) Build(entityID string, pt PredictionType, source Source, raw RawResult) Insight {
	recs := raw.Recommendations
	if len(recs) == 0 && b.fallbackRecs != nil {
		recs = b.fallbackRecs(pt)
	}
	if len(recs) == 0 {
		recs = []string{"Continue monitoring"}
	}

	return Insight{
		EntityID:        entityID,
		Timestamp:       b.now().UTC(),
		PredictionType:  pt,
		RiskScore:       clampScore(raw.RiskScore),
		Explanation:     raw.Explanation,
		Recommendations: recs,
		ModelUsed:       raw.ModelUsed,
		Confidence:      normaliseConfidence(source, raw.Confidence),
		Source:          source,
	}
}

func clampScore(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	rounded := int(math.Round(score))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func normaliseConfidence(source Source, reported float64) float64 {
	if reported > 0 && reported <= 1 {
		return reported
	}
	switch source {
	case SourcePrimary:
		return ConfidencePrimary
	case SourceSecondary:
		return ConfidenceSecondary
	default:
		return ConfidenceRules
	}
}
