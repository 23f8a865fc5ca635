package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	"ai-voice-dialogue-service/internal/config"
	"ai-voice-dialogue-service/internal/service/backend"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, v := range []string{"STT_PROVIDER", "AI_PROVIDER", "TTS_PROVIDER", "KAFKA_ENABLED", "PROJECT_PATH"} {
		t.Setenv(v, "")
	}
	t.Setenv("AUDIO_SOURCE", "none")
	t.Setenv("STORAGE_DIR", t.TempDir())
	return config.Load()
}

func TestNew_MockProviders(t *testing.T) {
	a, err := New(testConfig(t), Devices{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status := a.Pipeline.Status()
	if !status.IsRunning {
		t.Error("pipeline should be running after Start")
	}
	for kind, want := range map[string]string{"stt": "mock", "ai": "mock", "tts": "mock"} {
		if got := status.BackendStatus[kind]["provider"]; got != want {
			t.Errorf("%s provider = %v, want %s", kind, got, want)
		}
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if a.Pipeline.IsRunning() {
		t.Error("pipeline should be stopped after Shutdown")
	}
}

func TestNew_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"microphone without device", func(c *config.Config) { c.Audio.Source = "microphone" }},
		{"google tts without player", func(c *config.Config) { c.TTS.Provider = "google" }},
		{"elevenlabs tts without player", func(c *config.Config) {
			c.TTS.Provider = "elevenlabs"
			c.TTS.ElevenLabsAPIKey = "xi-key"
		}},
		{"gemini without key", func(c *config.Config) { c.AI.Provider = "gemini"; c.AI.GoogleAPIKey = "" }},
		{"unknown provider", func(c *config.Config) { c.STT.Provider = "vosk" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(cfg)

			if _, err := New(cfg, Devices{}); !errors.Is(err, backend.ErrConfiguration) {
				t.Errorf("New() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestNew_CloudProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Provider = "gemini"
	cfg.AI.GoogleAPIKey = "g-key"
	cfg.AI.GeminiModel = "gemini-2.5-pro"

	gen, err := newGenerator(cfg)
	if err != nil {
		t.Fatalf("newGenerator() error = %v", err)
	}
	if gen.Name() != "gemini" || gen.Status()["model"] != "gemini-2.5-pro" {
		t.Errorf("unexpected generator %s %v", gen.Name(), gen.Status())
	}

	cfg.TTS.Provider = "elevenlabs"
	cfg.TTS.ElevenLabsAPIKey = "xi-key"
	cfg.TTS.ElevenLabsVoiceID = "voice-1"
	synth, err := newSynthesizer(cfg, silentPlayer{})
	if err != nil {
		t.Fatalf("newSynthesizer() error = %v", err)
	}
	if synth.Name() != "elevenlabs" || synth.Status()["voice"] != "voice-1" {
		t.Errorf("unexpected synthesizer %s %v", synth.Name(), synth.Status())
	}
}

type silentPlayer struct{}

func (silentPlayer) Play(context.Context, []byte, string, int) error { return nil }
func (silentPlayer) Stop()                                           {}

func TestProviders_MatchConfig(t *testing.T) {
	known := map[string][]string{
		"stt": config.STTProviders,
		"ai":  config.AIProviders,
		"tts": config.TTSProviders,
	}

	seen := map[string]int{}
	for _, p := range Providers() {
		names, ok := known[p.Kind]
		if !ok {
			t.Errorf("unknown provider kind %q", p.Kind)
			continue
		}
		if !slices.Contains(names, p.Name) {
			t.Errorf("provider %s/%s is not accepted by the configuration", p.Kind, p.Name)
		}
		seen[p.Kind]++
	}
	for kind, names := range known {
		if seen[kind] != len(names) {
			t.Errorf("%s: described %d providers, configuration accepts %d", kind, seen[kind], len(names))
		}
	}
}
