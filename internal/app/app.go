// Package app wires configuration, backends and the dialogue pipeline into
// a runnable service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-dialogue-service/internal/config"
	"ai-voice-dialogue-service/internal/events"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/audio"
	"ai-voice-dialogue-service/internal/service/latency"
	"ai-voice-dialogue-service/internal/service/pipeline"
	"ai-voice-dialogue-service/internal/service/session"
	"ai-voice-dialogue-service/internal/service/tts"
)

// Devices are the local audio endpoints. They are supplied by the caller so
// that this package does not depend on audio hardware libraries.
type Devices struct {
	Microphone audio.Source
	Player     tts.Player
}

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Pipeline  *pipeline.Orchestrator
	Publisher *events.Publisher
	Sessions  *session.Manager
	Metrics   *latency.Store
}

// New constructs a new Application from the provided configuration. It
// fails with an error wrapping backend.ErrConfiguration when the
// configuration or the device set cannot support the selected providers.
func New(cfg *config.Config, devices Devices) (*Application, error) {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sttBackend, err := newSTT(cfg)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg)
	if err != nil {
		return nil, err
	}
	synth, err := newSynthesizer(cfg, devices.Player)
	if err != nil {
		return nil, err
	}
	source, err := newSource(cfg, devices.Microphone)
	if err != nil {
		return nil, err
	}

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicTurns:   cfg.Kafka.TopicTurns,
		TopicControl: cfg.Kafka.TopicControl,
		Principal:    cfg.Kafka.Principal,
	})
	a.Sessions = session.NewManager(cfg.Storage.SessionsDir())
	a.Metrics = latency.NewStore(cfg.Storage.MetricsDir())

	opts := []pipeline.Option{
		pipeline.WithSessionManager(a.Sessions),
		pipeline.WithCollector(latency.NewCollector(a.Metrics)),
		pipeline.WithPublisher(a.Publisher),
		pipeline.WithLogger(logging.WithComponent("pipeline")),
	}
	if source != nil {
		opts = append(opts, pipeline.WithSource(source))
	}

	a.Pipeline, err = pipeline.New(cfg.PipelineConfig(), sttBackend, gen, synth, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	appLogger.Info().
		Str("stt", cfg.STT.Provider).
		Str("ai", cfg.AI.Provider).
		Str("tts", cfg.TTS.Provider).
		Str("audioSource", cfg.Audio.Source).
		Msg("AI voice dialogue application created")
	return a, nil
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = a.Cfg.Observability.LogLevel
	logCfg.Format = a.Cfg.Observability.LogFormat
	logging.Init(logCfg)

	a.Logger = logging.Logger().With().
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", logCfg.Format).
		Msg("Logger setup completed")
}

// Start starts the dialogue pipeline.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("projectPath", a.Cfg.Service.ProjectPath).
		Msg("AI voice dialogue service starting")

	return a.Pipeline.Start(ctx, a.Cfg.Service.ProjectPath)
}

// Shutdown stops the pipeline and releases the publisher. ctx bounds the
// pipeline's own join deadline.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("AI voice dialogue service shutting down")

	err := a.Pipeline.Stop(ctx)
	if perr := a.Publisher.Close(); perr != nil {
		log.Error().Err(perr).Msg("Failed to close publisher")
	}
	if err != nil {
		shutdownLogger.Error().Err(err).Msg("Pipeline stopped with errors")
	}
	return err
}
