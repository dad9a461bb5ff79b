package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"churn-risk-alerts/internal/alerting"
	"churn-risk-alerts/internal/config"
	"churn-risk-alerts/internal/events"
	"churn-risk-alerts/internal/inference"
	"churn-risk-alerts/internal/insight"
	"churn-risk-alerts/internal/metrics"
	"churn-risk-alerts/internal/metricstate"
	"churn-risk-alerts/internal/pipeline"
	"churn-risk-alerts/internal/rules"
	"churn-risk-alerts/internal/scheduler"
	"churn-risk-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, storage.Config{
		DSN:             a.Config.Database.DSN,
		MaxOpenConns:    a.Config.Database.MaxOpenConns,
		MaxIdleConns:    a.Config.Database.MaxIdleConns,
		ConnMaxLifetime: a.Config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newRecordStore() (alerting.RecordStore, func(), error) {
	if a.Config.Redis.Addr == "" {
		return alerting.NewMemoryRecordStore(), nil, nil
	}
	store, err := alerting.NewRedisRecordStore(alerting.RedisConfig{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

// newNotifier picks the alert sink. Webhook delivery requires alerting to be
// enabled with an endpoint; otherwise alerts still route but land in the log.
func (a *App) newNotifier() alerting.Notifier {
	wh := a.Config.Alerting.Webhook
	if !a.Config.Alerting.Enabled || wh.Endpoint == "" {
		return alerting.NewLogNotifier(a.Logger)
	}
	return alerting.NewWebhookNotifier(wh.Endpoint, wh.AuthToken, wh.Timeout, a.Logger)
}

func (a *App) newOrchestrator() *inference.Orchestrator {
	policy := inference.RetryPolicy{
		MaxAttempts: a.Config.Inference.Retry.MaxAttempts,
		BackoffBase: a.Config.Inference.Retry.BackoffBase,
	}

	var tiers []inference.Tier
	if a.Config.Inference.Primary.Enabled {
		p := a.Config.Inference.Primary
		tiers = append(tiers, inference.Tier{
			Backend: inference.NewPredictor(inference.PredictorOptions{
				Endpoint: p.Endpoint,
				Model:    p.Model,
				Timeout:  p.Timeout,
			}, a.Logger),
			Policy: policy,
			Source: insight.SourcePrimary,
		})
	}
	if a.Config.Inference.Secondary.Enabled {
		s := a.Config.Inference.Secondary
		tiers = append(tiers, inference.Tier{
			Backend: inference.NewExplainer(inference.ExplainerOptions{
				Endpoint:    s.Endpoint,
				APIKey:      s.APIKey,
				Model:       s.Model,
				Temperature: s.Temperature,
				MaxTokens:   s.MaxTokens,
				Timeout:     s.Timeout,
			}, a.Logger),
			Policy: policy,
			Source: insight.SourceSecondary,
		})
	}

	builder := insight.NewBuilder(rules.Recommendations)
	return inference.NewOrchestrator(tiers, rules.NewEngine(), builder, a.Config.Inference.OverallTimeout, a.Logger)
}

func (a *App) newPipeline(insights storage.InsightStore, records alerting.RecordStore) *pipeline.Service {
	router := alerting.NewRouter(alerting.RouterConfig{
		Bands: alerting.Bands{
			Critical: a.Config.Alerting.CriticalScore,
			Warning:  a.Config.Alerting.WarningScore,
		},
		DedupWindow:         a.Config.Alerting.DedupWindow,
		MaxDeliveryAttempts: a.Config.Alerting.DeliveryAttempts,
		RetryDelay:          a.Config.Alerting.RetryDelay,
	}, records, a.newNotifier(), a.Logger)

	state := metricstate.NewStore(a.Config.Pipeline.LongWindow)

	triggers := make([]events.Type, 0, len(a.Config.Pipeline.TriggerEvents))
	for _, name := range a.Config.Pipeline.TriggerEvents {
		triggers = append(triggers, events.Type(name))
	}

	return pipeline.New(state, a.newOrchestrator(), insights, router, a.Logger, pipeline.Options{
		Windows: pipeline.Windows{
			Short:  a.Config.Pipeline.ShortWindow,
			Medium: a.Config.Pipeline.MediumWindow,
			Long:   a.Config.Pipeline.LongWindow,
		},
		Triggers:        triggers,
		Workers:         a.Config.Pipeline.Workers,
		InsightTTL:      a.Config.Insights.TTL,
		PersistAttempts: a.Config.Insights.PersistAttempts,
		PersistBackoff:  a.Config.Insights.PersistBackoff,
	})
}

// RunOptions configure the run command.
type RunOptions struct {
	// EventsPath points at an NDJSON event file; "-" or empty reads stdin.
	EventsPath string
}

// Run executes the long-running pipeline service: events stream in as NDJSON,
// the maintenance loop sweeps retention, and metrics are exposed if enabled.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; insight persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, closeRecords, err := a.newRecordStore()
	if err != nil {
		return err
	}
	if closeRecords != nil {
		defer closeRecords()
	}

	var insights storage.InsightStore
	if store != nil {
		insights = store
	}
	svc := a.newPipeline(insights, records)

	if a.Config.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, a.Config.Metrics.Addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Maintenance.Interval,
		AlignToStart: a.Config.Maintenance.AlignToTick,
		StartupDelay: a.Config.Maintenance.StartupDelay,
	}, a.Logger)
	go func() {
		err := sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
			return svc.SweepExpired(ctx, time.Now().UTC())
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("maintenance loop terminated")
		}
	}()

	source, closeSource, err := openEventSource(opts.EventsPath)
	if err != nil {
		return err
	}
	if closeSource != nil {
		defer closeSource()
	}

	ch := make(chan events.Event, a.Config.Pipeline.Workers*4)
	go func() {
		defer close(ch)
		a.readEvents(ctx, source, ch)
	}()

	a.Logger.Info().Msg("starting pipeline service")
	err = svc.Run(ctx, ch)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}

	a.Logger.Info().Msg("pipeline stopped")
	return nil
}

func openEventSource(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open event source: %w", err)
	}
	return file, func() { file.Close() }, nil
}

// readEvents parses NDJSON lines into events. Malformed lines are counted
// and skipped; the stream keeps flowing.
func (a *App) readEvents(ctx context.Context, r io.Reader, ch chan<- events.Event) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := events.Parse(line)
		if err != nil {
			metrics.EventsRejectedTotal.Inc()
			a.Logger.Warn().Err(err).Msg("malformed event skipped")
			continue
		}
		select {
		case <-ctx.Done():
			return
		case ch <- ev:
		}
	}
	if err := scanner.Err(); err != nil {
		a.Logger.Error().Err(err).Msg("event source read failed")
	}
}

// ExportOptions hold parameters for exporting insight history.
type ExportOptions struct {
	From           *time.Time
	To             *time.Time
	PredictionType string
	PNGPath        string
	CSVPath        string
	MaxPoints      int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	EntityID string
	Limit    int
}

// SimulateOptions configure the simulate command.
type SimulateOptions struct {
	Entities        int
	EventsPerEntity int
	Seed            int64
}
