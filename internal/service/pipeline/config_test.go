package pipeline

import (
	"errors"
	"testing"
	"time"

	"ai-voice-dialogue-service/internal/service/backend"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, false},
		{"vad rate mismatch", func(c *Config) { c.VAD.SampleRate = 8000 }, false},
		{"44.1kHz capture", func(c *Config) { c.SampleRate = 44100; c.VAD.SampleRate = 44100 }, false},
		{"48kHz capture", func(c *Config) { c.SampleRate = 48000; c.VAD.SampleRate = 48000 }, true},
		{"25ms vad frame", func(c *Config) { c.VAD.FrameDuration = 25 * time.Millisecond }, false},
		{"20ms vad frame", func(c *Config) { c.VAD.FrameDuration = 20 * time.Millisecond }, true},
		{"zero vad frame", func(c *Config) { c.VAD.FrameDuration = 0 }, false},
		{"empty transcript queue", func(c *Config) { c.TranscriptQueueSize = 0 }, false},
		{"no retries", func(c *Config) { c.MaxRetries = 0 }, false},
		{"cap below base", func(c *Config) { c.BackoffCap = time.Millisecond }, false},
		{"no join timeout", func(c *Config) { c.JoinTimeout = 0 }, false},
		{"no poll interval", func(c *Config) { c.PollInterval = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, backend.ErrConfiguration) {
				t.Errorf("Validate() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{40, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := cfg.backoff(tt.retries); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.retries, got, tt.want)
		}
	}
}
