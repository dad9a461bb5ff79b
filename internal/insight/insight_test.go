package insight

import (
	"math"
	"testing"
	"time"
)

func testBuilder() *Builder {
	b := NewBuilder(func(PredictionType) []string {
		return []string{"fallback action"}
	})
	b.SetNow(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) })
	return b
}

func TestBuildClampsScore(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{-10, 0},
		{0, 0},
		{54.4, 54},
		{54.5, 55},
		{100, 100},
		{150, 100},
		{math.NaN(), 0},
	}

	b := testBuilder()
	for _, tc := range cases {
		got := b.Build("stu_1", PredictionChurnRisk, SourceRules, RawResult{RiskScore: tc.in}).RiskScore
		if got != tc.want {
			t.Fatalf("score %v should clamp to %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestBuildConfidenceDefaults(t *testing.T) {
	b := testBuilder()

	cases := []struct {
		source   Source
		reported float64
		want     float64
	}{
		{SourcePrimary, 0, ConfidencePrimary},
		{SourceSecondary, 0, ConfidenceSecondary},
		{SourceRules, 0, ConfidenceRules},
		{SourcePrimary, 0.5, 0.5},
		{SourceSecondary, 1.7, ConfidenceSecondary},
		{SourceRules, -0.2, ConfidenceRules},
	}

	for _, tc := range cases {
		got := b.Build("stu_1", PredictionChurnRisk, tc.source, RawResult{Confidence: tc.reported}).Confidence
		if got != tc.want {
			t.Fatalf("source %s reported %v: expected %v, got %v", tc.source, tc.reported, tc.want, got)
		}
	}
}

func TestBuildFallbackRecommendations(t *testing.T) {
	b := testBuilder()

	ins := b.Build("stu_1", PredictionChurnRisk, SourcePrimary, RawResult{RiskScore: 10})
	if len(ins.Recommendations) != 1 || ins.Recommendations[0] != "fallback action" {
		t.Fatalf("empty backend recommendations should use the fallback set, got %v", ins.Recommendations)
	}

	ins = b.Build("stu_1", PredictionChurnRisk, SourcePrimary, RawResult{
		RiskScore:       10,
		Recommendations: []string{"keep this"},
	})
	if len(ins.Recommendations) != 1 || ins.Recommendations[0] != "keep this" {
		t.Fatalf("backend recommendations should be preserved, got %v", ins.Recommendations)
	}

	noFallback := NewBuilder(nil)
	ins = noFallback.Build("stu_1", PredictionChurnRisk, SourceRules, RawResult{})
	if len(ins.Recommendations) == 0 {
		t.Fatal("recommendations must never be empty")
	}
}

func TestBuildStampsProvenance(t *testing.T) {
	b := testBuilder()
	ins := b.Build("stu_1", PredictionPaymentRisk, SourceSecondary, RawResult{RiskScore: 42, ModelUsed: "gen-1"})

	if ins.EntityID != "stu_1" || ins.PredictionType != PredictionPaymentRisk {
		t.Fatalf("identity fields wrong: %#v", ins)
	}
	if ins.Source != SourceSecondary || ins.ModelUsed != "gen-1" {
		t.Fatalf("provenance fields wrong: %#v", ins)
	}
	if ins.Timestamp.IsZero() {
		t.Fatal("timestamp must be stamped")
	}
}
