package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"churn-risk-alerts/internal/insight"
	"churn-risk-alerts/internal/metricstate"
)

// PredictorOptions parameterise the primary prediction backend.
type PredictorOptions struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Predictor calls the specialised prediction endpoint. The endpoint accepts
// one CSV feature row and answers a multi-task prediction vector:
// first-session success, session velocity, 14d churn, 30d churn, health.
type Predictor struct {
	opts   PredictorOptions
	client *http.Client
	logger zerolog.Logger
}

// NewPredictor constructs the primary backend.
func NewPredictor(opts PredictorOptions, logger zerolog.Logger) *Predictor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Model == "" {
		opts.Model = "marketplace-health-v1"
	}
	return &Predictor{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "predictor_backend").Logger(),
	}
}

// Name implements Backend.
func (p *Predictor) Name() string { return "predictor" }

type predictionResponse struct {
	Predictions [][]float64 `json:"predictions"`
}

// Infer implements Backend.
func (p *Predictor) Infer(ctx context.Context, view metricstate.EntityView, pt insight.PredictionType) (insight.RawResult, error) {
	if p.opts.Endpoint == "" {
		return insight.RawResult{}, &PermanentError{Backend: p.Name(), Err: errors.New("endpoint not configured")}
	}

	body := featureCSV(view)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint, strings.NewReader(body))
	if err != nil {
		return insight.RawResult{}, &PermanentError{Backend: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return insight.RawResult{}, classifyRequestError(p.Name(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return insight.RawResult{}, &TransientError{Backend: p.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return insight.RawResult{}, classifyHTTPStatus(p.Name(), resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed predictionResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return insight.RawResult{}, &PermanentError{Backend: p.Name(), Err: fmt.Errorf("decode predictions: %w", err)}
	}
	if len(parsed.Predictions) == 0 || len(parsed.Predictions[0]) < 5 {
		return insight.RawResult{}, &PermanentError{Backend: p.Name(), Err: errors.New("prediction vector too short")}
	}

	vec := parsed.Predictions[0]
	pred := prediction{
		FirstSessionSuccess: vec[0],
		SessionVelocity:     vec[1],
		ChurnRisk14d:        vec[2],
		ChurnRisk30d:        vec[3],
		HealthScore:         vec[4],
	}

	return insight.RawResult{
		RiskScore:       pred.riskScore(pt),
		Explanation:     pred.explain(view, pt),
		Recommendations: pred.recommend(view),
		ModelUsed:       p.opts.Model,
	}, nil
}

type prediction struct {
	FirstSessionSuccess float64
	SessionVelocity     float64
	ChurnRisk14d        float64
	ChurnRisk30d        float64
	HealthScore         float64
}

func (pr prediction) riskScore(pt insight.PredictionType) float64 {
	switch pt {
	case insight.PredictionPaymentRisk, insight.PredictionSupportEscalation:
		// Health is the broader signal for non-churn predictions.
		return 100 - pr.HealthScore
	default:
		churn := pr.ChurnRisk14d
		if pr.ChurnRisk30d > churn {
			churn = pr.ChurnRisk30d
		}
		return churn * 100
	}
}

func (pr prediction) explain(view metricstate.EntityView, pt insight.PredictionType) string {
	b := strings.Builder{}
	churn := pr.ChurnRisk14d
	if pr.ChurnRisk30d > churn {
		churn = pr.ChurnRisk30d
	}
	fmt.Fprintf(&b, "Model predicts %.0f%% churn probability. ", churn*100)
	if pr.ChurnRisk14d > 0.5 {
		b.WriteString("High risk of churning within 14 days. ")
	} else if pr.ChurnRisk30d > 0.5 {
		b.WriteString("Elevated risk of churning within 30 days. ")
	}
	fmt.Fprintf(&b, "Session velocity: %.2f/week, health score: %.0f/100.", pr.SessionVelocity, pr.HealthScore)
	if pt == insight.PredictionSupportEscalation && view.Medium.IBCalls > 0 {
		fmt.Fprintf(&b, " %d inbound support calls in the last 14 days.", view.Medium.IBCalls)
	}
	return b.String()
}

func (pr prediction) recommend(view metricstate.EntityView) []string {
	var recs []string
	if pr.ChurnRisk14d > 0.6 {
		recs = append(recs, "Schedule a proactive check-in call within 48 hours")
		if view.Short.Sessions == 0 {
			recs = append(recs, "Send a re-engagement campaign")
		}
		if view.Medium.IBCalls >= 2 {
			recs = append(recs, "Assign a dedicated account manager")
		}
	}
	if pr.SessionVelocity < 0.5 {
		recs = append(recs, "Offer scheduling assistance or flexible hours")
	}
	if view.Long.PaymentAttempts > 0 && view.Long.PaymentSuccessRate < 0.9 {
		recs = append(recs, "Prompt the customer to update billing information")
	}
	if pr.FirstSessionSuccess < 0.5 {
		recs = append(recs, "Provide onboarding support before the next session")
	}
	if len(recs) > 5 {
		recs = recs[:5]
	}
	return recs
}

// featureCSV flattens the entity view into the fixed feature row the
// prediction endpoint was trained on. Order is part of the model contract.
func featureCSV(view metricstate.EntityView) string {
	short, medium, long := view.Short, view.Medium, view.Long

	fields := []string{
		strconv.Itoa(short.Sessions),
		strconv.Itoa(medium.Sessions),
		strconv.Itoa(long.Sessions),
		formatFloat(short.SessionVelocity()),
		formatFloat(medium.SessionVelocity()),
		formatFloat(long.SessionVelocity()),
		formatFloat(long.DaysSinceLastSession),
		formatFloat(long.AvgRating),
		strconv.Itoa(short.IBCalls),
		strconv.Itoa(medium.IBCalls),
		formatFloat(float64(medium.IBCalls) / 14.0),
		formatFloat(long.CancellationRate()),
		strconv.Itoa(long.LateCancels),
		formatFloat(long.PaymentSuccessRate),
		strconv.Itoa(long.PaymentFailures),
		long.AvgTransaction.StringFixed(2),
		long.TotalSpend.StringFixed(2),
		formatFloat(long.TutorConsistency),
		strconv.Itoa(long.UniqueTutors),
		strconv.Itoa(short.Logins),
	}
	return strings.Join(fields, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

var _ Backend = (*Predictor)(nil)
