// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName is attached to every log line emitted through Logger.
const ServiceName = "ai-voice-dialogue-service"

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	// Set time format
	zerolog.TimeFieldFormat = cfg.TimeFormat

	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format. Logs go to stderr so CLI output stays clean.
	var output io.Writer = os.Stderr
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	}

	// Set global logger
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Logger returns the global logger tagged with the service name.
func Logger() zerolog.Logger {
	return log.With().Str("service", ServiceName).Logger()
}

// WithSession returns a logger with conversation session context.
func WithSession(sessionId string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionId).
		Logger()
}

// WithStage returns a logger with pipeline stage context.
func WithStage(sessionId, stage string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionId).
		Str("stage", stage).
		Logger()
}

// WithTurn returns a logger with turn context.
func WithTurn(sessionId, stage, turnId string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionId).
		Str("stage", stage).
		Str("turnId", turnId).
		Logger()
}

// WithBackend returns a logger for a backend provider.
func WithBackend(kind, provider string) zerolog.Logger {
	return log.With().
		Str("component", kind).
		Str("provider", provider).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}
