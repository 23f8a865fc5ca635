// Package whisperkit provides an STT backend that transcribes utterances
// with the local whisperkit-cli binary.
package whisperkit

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"iter"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/audio"
	"ai-voice-dialogue-service/internal/service/backend"
)

// Name is the provider name of the WhisperKit backend.
const Name = "whisperkit"

// Config holds WhisperKit configuration.
type Config struct {
	Path            string // whisperkit-cli binary
	Model           string
	ComputeUnits    string
	VADChunking     bool // Pass --chunking-strategy vad
	SampleRate      int
	EnergyThreshold float64       // RMS in [0, 1] that counts as voiced
	SilenceDuration time.Duration // Trailing silence that ends an utterance
	MinUtterance    time.Duration // Voiced audio required to transcribe
	MaxUtterance    time.Duration
	TempDir         string
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Path:            "whisperkit-cli",
		Model:           "large-v3_turbo",
		ComputeUnits:    "cpuAndNeuralEngine",
		VADChunking:     true,
		SampleRate:      16000,
		EnergyThreshold: 0.01,
		SilenceDuration: 600 * time.Millisecond,
		MinUtterance:    250 * time.Millisecond,
		MaxUtterance:    15 * time.Second,
	}
}

// Adapter implements stt.Backend and stt.AudioConsumer.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	seg         *segmenter
	utterances  chan []int16
	stopCh      chan struct{}
	initialized bool

	transcribed atomic.Int64
	dropped     atomic.Int64
	failures    atomic.Int64
}

// New creates a new WhisperKit backend.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: logging.WithBackend("stt", Name),
		seg: newSegmenter(cfg.SampleRate, cfg.EnergyThreshold,
			cfg.SilenceDuration, cfg.MinUtterance, cfg.MaxUtterance),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return Name }

// Initialize checks that the CLI is runnable.
func (a *Adapter) Initialize(ctx context.Context) error {
	path, err := exec.LookPath(a.cfg.Path)
	if err != nil {
		return backend.NewInitError(Name, fmt.Errorf("whisperkit-cli not found at %s: %w", a.cfg.Path, err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.seg.reset()
	a.utterances = make(chan []int16, 4)
	a.stopCh = make(chan struct{})
	a.initialized = true

	a.logger.Info().
		Str("path", path).
		Str("model", a.cfg.Model).
		Str("computeUnits", a.cfg.ComputeUnits).
		Msg("WhisperKit initialized")
	return nil
}

// Feed segments audio and queues completed utterances for transcription.
func (a *Adapter) Feed(frame []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return
	}

	utt := a.seg.push(frame)
	if utt == nil {
		return
	}
	select {
	case a.utterances <- utt:
	default:
		a.dropped.Add(1)
		a.logger.Warn().Int("samples", len(utt)).Msg("Transcription backlog full, dropping utterance")
	}
}

// StreamTranscripts transcribes queued utterances one at a time.
func (a *Adapter) StreamTranscripts(ctx context.Context) iter.Seq2[models.Transcript, error] {
	return func(yield func(models.Transcript, error) bool) {
		a.mu.Lock()
		if !a.initialized {
			a.mu.Unlock()
			yield(models.Transcript{}, backend.ErrNotInitialized)
			return
		}
		utterances := a.utterances
		stopCh := a.stopCh
		a.mu.Unlock()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case utt := <-utterances:
				start := time.Now()
				text, err := a.transcribe(ctx, utt)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					a.failures.Add(1)
					yield(models.Transcript{}, backend.NewTransientError(Name, "transcribe", err))
					return
				}
				if text == "" {
					continue
				}
				a.transcribed.Add(1)
				lag := time.Since(start)
				if !yield(models.Transcript{
					Text:          text,
					Timestamp:     time.Now(),
					IsFinal:       true,
					IsSpeechStart: true,
					Latency:       &lag,
				}, nil) {
					return
				}
			}
		}
	}
}

func (a *Adapter) args(audioPath string) []string {
	args := []string{
		"transcribe",
		"--audio-path", audioPath,
		"--model", a.cfg.Model,
		"--audio-encoder-compute-units", a.cfg.ComputeUnits,
		"--text-decoder-compute-units", a.cfg.ComputeUnits,
	}
	if a.cfg.VADChunking {
		args = append(args, "--chunking-strategy", "vad")
	}
	return args
}

// transcribe writes samples to a temporary WAV file and runs the CLI on it.
func (a *Adapter) transcribe(ctx context.Context, samples []int16) (string, error) {
	f, err := os.CreateTemp(a.cfg.TempDir, "utterance-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if err := audio.WriteWAV(f, samples, a.cfg.SampleRate, 1); err != nil {
		f.Close()
		return "", fmt.Errorf("write wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.cfg.Path, a.args(f.Name())...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("whisperkit-cli: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	text := parseOutput(stdout.Bytes())
	a.logger.Debug().
		Int("samples", len(samples)).
		Str("text", text).
		Msg("Utterance transcribed")
	return text, nil
}

// parseOutput joins the non-empty lines printed by the CLI.
func parseOutput(out []byte) string {
	var parts []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

// Stop ends the active stream and discards buffered audio.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		close(a.stopCh)
	}
	a.initialized = false
	a.seg.reset()
	return nil
}

// Status returns a snapshot of backend state.
func (a *Adapter) Status() backend.Status {
	a.mu.Lock()
	initialized := a.initialized
	a.mu.Unlock()

	return backend.Status{
		"provider":      Name,
		"initialized":   initialized,
		"model":         a.cfg.Model,
		"compute_units": a.cfg.ComputeUnits,
		"vad_enabled":   a.cfg.VADChunking,
		"transcribed":   a.transcribed.Load(),
		"dropped":       a.dropped.Load(),
		"failures":      a.failures.Load(),
	}
}
