// Package logging builds the process-wide zerolog logger. Components derive
// tagged sub-loggers from it; log output goes to stderr so command output
// (show, export, sweep) keeps stdout to itself.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
	Caller     bool   `mapstructure:"caller"`
}

// NewLogger constructs a zerolog logger from config. Unknown levels fall
// back to info.
func NewLogger(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	builder := zerolog.New(writerFor(cfg.Format)).Level(level).With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}
	return builder.Logger()
}

func writerFor(format string) io.Writer {
	if strings.EqualFold(format, "console") {
		return zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	return os.Stderr
}
