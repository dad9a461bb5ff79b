package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Name != "churnwatch" {
		t.Errorf("app.name = %q, want churnwatch", cfg.App.Name)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("pipeline.workers = %d, want 4", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.ShortWindow != 168*time.Hour {
		t.Errorf("pipeline.short_window = %v, want 168h", cfg.Pipeline.ShortWindow)
	}
	if cfg.Pipeline.LongWindow != 720*time.Hour {
		t.Errorf("pipeline.long_window = %v, want 720h", cfg.Pipeline.LongWindow)
	}
	if len(cfg.Pipeline.TriggerEvents) != 4 {
		t.Errorf("trigger_events = %v, want 4 entries", cfg.Pipeline.TriggerEvents)
	}
	if cfg.Alerting.CriticalScore != 80 || cfg.Alerting.WarningScore != 50 {
		t.Errorf("bands = %d/%d, want 80/50", cfg.Alerting.CriticalScore, cfg.Alerting.WarningScore)
	}
	if cfg.Alerting.DedupWindow != 5*time.Minute {
		t.Errorf("dedup_window = %v, want 5m", cfg.Alerting.DedupWindow)
	}
	if cfg.Insights.TTL != 2160*time.Hour {
		t.Errorf("insights.ttl = %v, want 2160h", cfg.Insights.TTL)
	}
	if cfg.Inference.OverallTimeout != 30*time.Second {
		t.Errorf("inference.overall_timeout = %v, want 30s", cfg.Inference.OverallTimeout)
	}
	if cfg.Alerting.Enabled {
		t.Error("alerting.enabled should default to false")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
app:
  environment: production
pipeline:
  workers: 8
  short_window: 72h
alerting:
  enabled: true
  dedup_window: 10m
  webhook:
    endpoint: https://hooks.example.com/churn
    auth_token: secret
inference:
  primary:
    enabled: true
    endpoint: http://predictor:8080
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Environment != "production" {
		t.Errorf("environment = %q", cfg.App.Environment)
	}
	if cfg.Pipeline.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.ShortWindow != 72*time.Hour {
		t.Errorf("short_window = %v, want 72h", cfg.Pipeline.ShortWindow)
	}
	// Unset keys keep their defaults.
	if cfg.Pipeline.MediumWindow != 336*time.Hour {
		t.Errorf("medium_window = %v, want default 336h", cfg.Pipeline.MediumWindow)
	}
	if !cfg.Alerting.Enabled || cfg.Alerting.Webhook.Endpoint != "https://hooks.example.com/churn" {
		t.Errorf("alerting = %+v", cfg.Alerting)
	}
	if cfg.Alerting.DedupWindow != 10*time.Minute {
		t.Errorf("dedup_window = %v, want 10m", cfg.Alerting.DedupWindow)
	}
	if !cfg.Inference.Primary.Enabled || cfg.Inference.Primary.Endpoint != "http://predictor:8080" {
		t.Errorf("primary = %+v", cfg.Inference.Primary)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHURNWATCH_PIPELINE_WORKERS", "16")
	t.Setenv("CHURNWATCH_DATABASE_DSN", "postgres://env/db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.Workers != 16 {
		t.Errorf("workers = %d, want 16 from env", cfg.Pipeline.Workers)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Errorf("dsn = %q, want env value", cfg.Database.DSN)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Pipeline.Workers = 0 },
			wantErr: "pipeline.workers",
		},
		{
			name:    "window out of order",
			mutate:  func(c *Config) { c.Pipeline.MediumWindow = c.Pipeline.LongWindow + time.Hour },
			wantErr: "ordered",
		},
		{
			name:    "critical below warning",
			mutate:  func(c *Config) { c.Alerting.CriticalScore = 40 },
			wantErr: "critical_score",
		},
		{
			name: "alerting enabled without webhook",
			mutate: func(c *Config) {
				c.Alerting.Enabled = true
				c.Alerting.Webhook.Endpoint = ""
			},
			wantErr: "webhook.endpoint",
		},
		{
			name: "primary enabled without endpoint",
			mutate: func(c *Config) {
				c.Inference.Primary.Enabled = true
				c.Inference.Primary.Endpoint = ""
			},
			wantErr: "inference.primary.endpoint",
		},
		{
			name:    "non-positive ttl",
			mutate:  func(c *Config) { c.Insights.TTL = 0 },
			wantErr: "insights.ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Errorf("ResolveMaxPoints(0) = %d, want 500", got)
	}
	if got := cfg.ResolveMaxPoints(42); got != 42 {
		t.Errorf("ResolveMaxPoints(42) = %d, want 42", got)
	}
}
