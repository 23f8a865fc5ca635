// Package mock provides a synthesis backend that produces silent audio and
// simulates playback time.
package mock

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/tts"
)

// Name is the provider name of the mock backend.
const Name = "mock"

// Config controls simulated synthesis and playback.
type Config struct {
	SampleRate     int
	SynthesisDelay time.Duration // Time to produce each chunk
	SentenceLength time.Duration // Playback duration of each chunk
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		SynthesisDelay: 20 * time.Millisecond,
		SentenceLength: 200 * time.Millisecond,
	}
}

// Synthesizer implements tts.Backend with one silent chunk per sentence.
type Synthesizer struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	initialized bool
	interrupt   chan struct{}
	played      []models.AudioChunk
	failNext    error

	playing   atomic.Bool
	requests  atomic.Int64
	stopCalls atomic.Int64
}

// New creates a new mock synthesizer.
func New(cfg Config) *Synthesizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Synthesizer{
		cfg:       cfg,
		logger:    logging.WithBackend("tts", Name),
		interrupt: make(chan struct{}),
	}
}

// Name returns the provider name.
func (s *Synthesizer) Name() string { return Name }

// Initialize marks the backend ready.
func (s *Synthesizer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

// FailNext makes the next StreamAudio yield err.
func (s *Synthesizer) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// StreamAudio yields one chunk of silence per sentence of text.
func (s *Synthesizer) StreamAudio(ctx context.Context, text string) iter.Seq2[models.AudioChunk, error] {
	return func(yield func(models.AudioChunk, error) bool) {
		s.mu.Lock()
		if !s.initialized {
			s.mu.Unlock()
			yield(models.AudioChunk{}, backend.ErrNotInitialized)
			return
		}
		failure := s.failNext
		s.failNext = nil
		s.mu.Unlock()

		s.requests.Add(1)
		if failure != nil {
			yield(models.AudioChunk{}, failure)
			return
		}

		sentences := tts.SplitSentences(text)
		samples := int(int64(s.cfg.SampleRate) * int64(s.cfg.SentenceLength) / int64(time.Second))
		for i := range sentences {
			if s.cfg.SynthesisDelay > 0 {
				select {
				case <-ctx.Done():
					yield(models.AudioChunk{}, ctx.Err())
					return
				case <-time.After(s.cfg.SynthesisDelay):
				}
			}
			chunk := models.AudioChunk{
				Data:     make([]byte, samples*2),
				IsFirst:  i == 0,
				IsFinal:  i == len(sentences)-1,
				Duration: s.cfg.SentenceLength,
				Format:   tts.FormatPCM16,
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// PlayChunk waits for the chunk's duration.
func (s *Synthesizer) PlayChunk(ctx context.Context, chunk models.AudioChunk) error {
	s.mu.Lock()
	interrupt := s.interrupt
	s.mu.Unlock()

	s.playing.Store(true)
	defer s.playing.Store(false)

	timer := time.NewTimer(chunk.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-interrupt:
		return backend.ErrStreamAborted
	case <-timer.C:
	}

	s.mu.Lock()
	s.played = append(s.played, chunk)
	s.mu.Unlock()
	return nil
}

// StopPlayback releases every blocked PlayChunk call.
func (s *Synthesizer) StopPlayback() {
	s.stopCalls.Add(1)
	s.mu.Lock()
	close(s.interrupt)
	s.interrupt = make(chan struct{})
	s.mu.Unlock()
}

// Played returns the chunks that finished playing.
func (s *Synthesizer) Played() []models.AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AudioChunk(nil), s.played...)
}

// Stop releases resources.
func (s *Synthesizer) Stop() error {
	s.StopPlayback()
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	return nil
}

// Status returns a snapshot of backend state.
func (s *Synthesizer) Status() backend.Status {
	s.mu.Lock()
	initialized := s.initialized
	played := len(s.played)
	s.mu.Unlock()

	return backend.Status{
		"provider":       Name,
		"initialized":    initialized,
		"is_playing":     s.playing.Load(),
		"requests":       s.requests.Load(),
		"chunks_played":  played,
		"playback_stops": s.stopCalls.Load(),
	}
}
