package pipeline

import (
	"time"

	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/vad"
)

// Config holds orchestrator tuning.
type Config struct {
	SampleRate int
	VAD        vad.Config
	// RingSeconds is how much captured audio the ring buffer holds.
	RingSeconds float64

	TranscriptQueueSize int
	ResponseQueueSize   int
	EventQueueSize      int
	// PollInterval bounds how long a stage waits on an empty queue before
	// re-checking for shutdown.
	PollInterval time.Duration

	// MaxRetries is the number of consecutive capture failures after which
	// the pipeline stops.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// JoinTimeout is the single deadline for backends and workers to stop.
	JoinTimeout    time.Duration
	PublishTimeout time.Duration
}

// DefaultConfig returns the standard 16 kHz configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		VAD:                 vad.DefaultConfig(),
		RingSeconds:         5,
		TranscriptQueueSize: 4,
		ResponseQueueSize:   4,
		EventQueueSize:      64,
		PollInterval:        500 * time.Millisecond,
		MaxRetries:          3,
		BackoffBase:         time.Second,
		BackoffCap:          10 * time.Second,
		JoinTimeout:         5 * time.Second,
		PublishTimeout:      2 * time.Second,
	}
}

// Validate checks the configuration before any goroutine is spawned.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return backend.ConfigError("sample rate must be positive, got %d", c.SampleRate)
	case c.VAD.SampleRate != c.SampleRate:
		return backend.ConfigError("vad sample rate %d does not match pipeline sample rate %d", c.VAD.SampleRate, c.SampleRate)
	case c.RingSeconds <= 0:
		return backend.ConfigError("ring buffer duration must be positive")
	case c.TranscriptQueueSize < 1 || c.ResponseQueueSize < 1 || c.EventQueueSize < 1:
		return backend.ConfigError("queue sizes must be at least 1")
	case c.PollInterval <= 0:
		return backend.ConfigError("poll interval must be positive")
	case c.MaxRetries < 1:
		return backend.ConfigError("max retries must be at least 1, got %d", c.MaxRetries)
	case c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase:
		return backend.ConfigError("backoff base %s and cap %s are invalid", c.BackoffBase, c.BackoffCap)
	case c.JoinTimeout <= 0:
		return backend.ConfigError("join timeout must be positive")
	case c.PublishTimeout <= 0:
		return backend.ConfigError("publish timeout must be positive")
	}
	if err := vad.ValidFrame(c.SampleRate, c.VAD.FrameDuration); err != nil {
		return backend.ConfigError("%v", err)
	}
	return nil
}

// backoff returns min(BackoffBase * 2^retries, BackoffCap).
func (c Config) backoff(retries int) time.Duration {
	d := c.BackoffBase
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= c.BackoffCap {
			return c.BackoffCap
		}
	}
	return min(d, c.BackoffCap)
}
