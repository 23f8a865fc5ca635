package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/rs/zerolog/log"

	grpcapi "ai-voice-dialogue-service/internal/api/grpc"
	"ai-voice-dialogue-service/internal/app"
	"ai-voice-dialogue-service/internal/config"
	httpapi "ai-voice-dialogue-service/internal/http"
	"ai-voice-dialogue-service/internal/observability"
	"ai-voice-dialogue-service/internal/observability/metrics"
	"ai-voice-dialogue-service/internal/service/audio/device"
	"ai-voice-dialogue-service/internal/service/pipeline"
)

func main() {
	cfg := config.Load()

	var devices app.Devices
	if cfg.Audio.Source == "microphone" {
		devices.Microphone = device.NewMicrophone(cfg.Audio.SampleRate, cfg.Audio.FramesPerBuffer)
	}
	var speaker *device.Speaker
	if cfg.TTS.Provider != "mock" {
		speaker = device.NewSpeaker(cfg.TTS.SampleRateHz, cfg.Audio.PlaybackBuffer)
		devices.Player = speaker
	}

	application, err := app.New(cfg, devices)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	obs := observability.NewServer(":"+cfg.Service.MetricsPort, application.Pipeline.IsRunning)
	obs.Start()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application.Pipeline),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP API server error")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	healthServer := grpcapi.NewServer(metrics.DefaultMetrics)
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start pipeline")
	}
	go healthServer.Track(ctx, application.Pipeline.Done())

	if cfg.Service.Interactive {
		go watchKeyboard(ctx, stop, application.Pipeline)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case <-application.Pipeline.Done():
		log.Warn().Err(application.Pipeline.Err()).Msg("Pipeline stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exitCode := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		exitCode = 1
	}
	if application.Pipeline.Err() != nil {
		exitCode = 1
	}
	if speaker != nil {
		speaker.Close()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP API server shutdown failed")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Observability server shutdown failed")
	}
	healthServer.Shutdown(shutdownCtx)

	log.Info().Int("exitCode", exitCode).Msg("Service stopped")
	os.Exit(exitCode)
}

// watchKeyboard interrupts playback on the space bar and stops the service
// on Ctrl+C or q. The terminal is in raw mode while it runs.
func watchKeyboard(ctx context.Context, stop context.CancelFunc, p *pipeline.Orchestrator) {
	keys, err := keyboard.GetKeys(10)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open keyboard")
		return
	}
	defer func() { _ = keyboard.Close() }()

	log.Info().Msg("Press SPACE to interrupt, q to quit")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-keys:
			if !ok {
				return
			}
			if ev.Err != nil {
				log.Error().Err(ev.Err).Msg("Keyboard error")
				return
			}
			switch {
			case ev.Key == keyboard.KeySpace:
				if p.HandleInterruption(pipeline.SourceManual) {
					log.Info().Msg("Manual interruption")
				}
			case ev.Key == keyboard.KeyCtrlC, ev.Rune == 'q':
				stop()
				return
			}
		}
	}
}
