package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"churn-risk-alerts/internal/insight"
)

// Export renders insight history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	pt := insight.PredictionType(opts.PredictionType)
	switch pt {
	case insight.PredictionChurnRisk, insight.PredictionSupportEscalation, insight.PredictionPaymentRisk:
	default:
		return errors.New("unknown prediction type: " + opts.PredictionType)
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	insights, err := store.ListByTypeBetween(ctx, pt, from, to)
	if err != nil {
		return err
	}
	if len(insights) == 0 {
		a.Logger.Info().Msg("no insights found for export window")
		return nil
	}

	downsampled := downsampleInsights(insights, opts.MaxPoints)
	a.Logger.Info().Int("total", len(insights)).Int("exported", len(downsampled)).Msg("exporting insights")

	if opts.CSVPath != "" {
		if err := writeInsightsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeInsightsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleInsights(insights []insight.Insight, max int) []insight.Insight {
	if max <= 0 || len(insights) <= max {
		return insights
	}

	result := make([]insight.Insight, 0, max)
	step := float64(len(insights)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(insights) {
			idx = len(insights) - 1
		}
		result = append(result, insights[idx])
	}
	return result
}

func writeInsightsCSV(path string, insights []insight.Insight) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "entity_id", "prediction_type", "risk_score", "confidence", "source", "model_used", "explanation", "recommendations"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, ins := range insights {
		record := []string{
			ins.Timestamp.Format(time.RFC3339),
			ins.EntityID,
			string(ins.PredictionType),
			strconv.Itoa(ins.RiskScore),
			strconv.FormatFloat(ins.Confidence, 'f', 2, 64),
			string(ins.Source),
			ins.ModelUsed,
			ins.Explanation,
			strings.Join(ins.Recommendations, "; "),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeInsightsPNG(path string, insights []insight.Insight) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(insights))
	scores := make([]float64, len(insights))
	confidence := make([]float64, len(insights))

	for i, ins := range insights {
		x[i] = ins.Timestamp
		scores[i] = float64(ins.RiskScore)
		confidence[i] = ins.Confidence * 100
	}

	scoreFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Risk score",
			ValueFormatter: scoreFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Risk score",
				XValues: x,
				YValues: scores,
			},
			chart.TimeSeries{
				Name:    "Confidence (%)",
				XValues: x,
				YValues: confidence,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
