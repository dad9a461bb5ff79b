package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"churn-risk-alerts/internal/insight"
	"churn-risk-alerts/internal/metricstate"
)

// ExplainerOptions parameterise the generative explainer backend.
type ExplainerOptions struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Explainer calls a general-purpose generative model with a structured
// prompt and extracts a JSON risk assessment from the completion text.
type Explainer struct {
	opts   ExplainerOptions
	client *http.Client
	logger zerolog.Logger
}

// NewExplainer constructs the secondary backend.
func NewExplainer(opts ExplainerOptions, logger zerolog.Logger) *Explainer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.3
	}
	return &Explainer{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "explainer_backend").Logger(),
	}
}

// Name implements Backend.
func (e *Explainer) Name() string { return "explainer" }

type completionRequest struct {
	Model       string              `json:"model,omitempty"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
	Messages    []completionMessage `json:"messages"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

type assessment struct {
	RiskScore       float64  `json:"risk_score"`
	Explanation     string   `json:"explanation"`
	Recommendations []string `json:"recommendations"`
}

// Completions wrap JSON in prose or markdown fences; take the outermost
// object.
var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// Infer implements Backend.
func (e *Explainer) Infer(ctx context.Context, view metricstate.EntityView, pt insight.PredictionType) (insight.RawResult, error) {
	if e.opts.Endpoint == "" {
		return insight.RawResult{}, &PermanentError{Backend: e.Name(), Err: errors.New("endpoint not configured")}
	}

	reqPayload := completionRequest{
		Model:       e.opts.Model,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
		Messages: []completionMessage{
			{Role: "user", Content: buildPrompt(view, pt)},
		},
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return insight.RawResult{}, &PermanentError{Backend: e.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return insight.RawResult{}, &PermanentError{Backend: e.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.opts.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return insight.RawResult{}, classifyRequestError(e.Name(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return insight.RawResult{}, &TransientError{Backend: e.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return insight.RawResult{}, classifyHTTPStatus(e.Name(), resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var completion completionResponse
	if err := json.Unmarshal(payload, &completion); err != nil {
		return insight.RawResult{}, &PermanentError{Backend: e.Name(), Err: fmt.Errorf("decode completion: %w", err)}
	}
	if len(completion.Content) == 0 {
		return insight.RawResult{}, &PermanentError{Backend: e.Name(), Err: errors.New("empty completion")}
	}

	parsed, err := parseAssessment(completion.Content[0].Text)
	if err != nil {
		return insight.RawResult{}, &PermanentError{Backend: e.Name(), Err: err}
	}

	return insight.RawResult{
		RiskScore:       parsed.RiskScore,
		Explanation:     parsed.Explanation,
		Recommendations: parsed.Recommendations,
		ModelUsed:       e.opts.Model,
	}, nil
}

func parseAssessment(text string) (assessment, error) {
	match := jsonObjectRe.FindString(text)
	if match == "" {
		return assessment{}, errors.New("completion contains no JSON object")
	}
	var parsed assessment
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return assessment{}, fmt.Errorf("parse assessment: %w", err)
	}
	if parsed.Explanation == "" {
		return assessment{}, errors.New("assessment missing explanation")
	}
	return parsed, nil
}

func buildPrompt(view metricstate.EntityView, pt insight.PredictionType) string {
	b := strings.Builder{}
	switch pt {
	case insight.PredictionSupportEscalation:
		b.WriteString("Analyze this customer's support-call pattern and predict escalation risk:\n\n")
	case insight.PredictionPaymentRisk:
		b.WriteString("Analyze this customer's payment history and predict payment risk:\n\n")
	default:
		b.WriteString("Analyze this customer's behavior and predict churn risk:\n\n")
	}

	fmt.Fprintf(&b, "Customer ID: %s\n", view.EntityID)
	fmt.Fprintf(&b, "Sessions (7 days): %d\n", view.Short.Sessions)
	fmt.Fprintf(&b, "Sessions (30 days): %d\n", view.Long.Sessions)
	fmt.Fprintf(&b, "Days since last session: %.0f\n", view.Long.DaysSinceLastSession)
	fmt.Fprintf(&b, "Support calls (14 days): %d\n", view.Medium.IBCalls)
	fmt.Fprintf(&b, "Payment success rate (30 days): %.2f\n", view.Long.PaymentSuccessRate)
	fmt.Fprintf(&b, "Cancellation rate (30 days): %.2f\n", view.Long.CancellationRate())
	if view.Long.RatedSessions > 0 {
		fmt.Fprintf(&b, "Average session rating: %.1f\n", view.Long.AvgRating)
	}

	b.WriteString(`
Provide a JSON response with:
1. "risk_score": a number between 0-100
2. "explanation": a clear explanation of the concerning patterns
3. "recommendations": an array of 2-3 specific interventions

Format your response as valid JSON only, no additional text.`)
	return b.String()
}

var _ Backend = (*Explainer)(nil)
