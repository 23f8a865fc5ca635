// Package mock provides a mock STT backend for running the pipeline without
// a microphone model or cloud credentials.
// It plays a script of utterances with progressive partial transcripts and
// exactly one final transcript per utterance, then waits for injected input.
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
)

// Name is the provider name of the mock backend.
const Name = "mock"

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Can you", "Can you explain", "Can you explain what"},
		Final:      "Can you explain what this function does",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Wait", "Wait stop"},
		Final:      "Wait stop for a second",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"How do I", "How do I run", "How do I run the tests"},
		Final:      "How do I run the tests in this project",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// Config controls the simulated script.
type Config struct {
	Utterances    []SimulatedUtterance
	PartialDelay  time.Duration // Gap between partials of one utterance
	UtteranceGap  time.Duration // Gap between utterances
	Loop          bool          // Replay the script forever
	ProcessingLag time.Duration // Reported as transcript latency
}

// DefaultConfig returns a script-free configuration that only emits
// injected transcripts.
func DefaultConfig() Config {
	return Config{
		PartialDelay:  50 * time.Millisecond,
		UtteranceGap:  2 * time.Second,
		ProcessingLag: 120 * time.Millisecond,
	}
}

type injected struct {
	transcript models.Transcript
	err        error
}

// Adapter implements stt.Backend with scripted and injected transcripts.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger
	inject chan injected

	mu          sync.Mutex
	initialized bool
	stopCh      chan struct{}
	stopped     bool
	initErr     error

	initCount   atomic.Int64
	streamCount atomic.Int64
	framesFed   atomic.Int64
	emitted     atomic.Int64
}

// New creates a new mock STT backend.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: logging.WithBackend("stt", Name),
		inject: make(chan injected, 16),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return Name }

// FailInitialize makes the next Initialize calls return err. Pass nil to clear.
func (a *Adapter) FailInitialize(err error) {
	a.mu.Lock()
	a.initErr = err
	a.mu.Unlock()
}

// Initialize prepares a fresh stream.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.initCount.Add(1)
	if a.initErr != nil {
		return backend.NewInitError(Name, a.initErr)
	}
	a.stopCh = make(chan struct{})
	a.stopped = false
	a.initialized = true
	return nil
}

// Say queues a final transcript for the active or next stream.
func (a *Adapter) Say(text string) {
	now := time.Now()
	lag := a.cfg.ProcessingLag
	a.inject <- injected{transcript: models.Transcript{
		Text:          text,
		Timestamp:     now,
		IsFinal:       true,
		IsSpeechStart: true,
		Latency:       &lag,
	}}
}

// SpeechStart queues an empty speech-start marker.
func (a *Adapter) SpeechStart() {
	a.inject <- injected{transcript: models.Transcript{
		Timestamp:     time.Now(),
		IsSpeechStart: true,
	}}
}

// Fail queues an error that ends the active stream.
func (a *Adapter) Fail(err error) {
	a.inject <- injected{err: err}
}

// Feed counts audio frames pushed by the capture stage.
func (a *Adapter) Feed(frame []int16) {
	a.framesFed.Add(1)
}

// StreamTranscripts plays the script and then yields injected transcripts
// until the context is cancelled or Stop is called.
func (a *Adapter) StreamTranscripts(ctx context.Context) iter.Seq2[models.Transcript, error] {
	return func(yield func(models.Transcript, error) bool) {
		a.mu.Lock()
		if !a.initialized {
			a.mu.Unlock()
			yield(models.Transcript{}, backend.ErrNotInitialized)
			return
		}
		stopCh := a.stopCh
		a.mu.Unlock()

		a.streamCount.Add(1)

		wait := func(d time.Duration) bool {
			if d <= 0 {
				return true
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return false
			case <-stopCh:
				return false
			case <-timer.C:
				return true
			}
		}

		emit := func(t models.Transcript) bool {
			a.emitted.Add(1)
			return yield(t, nil)
		}

		for {
			for _, utt := range a.cfg.Utterances {
				if !a.playUtterance(utt, wait, emit) {
					return
				}
				if !wait(a.cfg.UtteranceGap) {
					return
				}
			}
			if !a.cfg.Loop || len(a.cfg.Utterances) == 0 {
				break
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case in := <-a.inject:
				if in.err != nil {
					a.logger.Debug().Err(in.err).Msg("Injected stream failure")
					yield(models.Transcript{}, in.err)
					return
				}
				if !emit(in.transcript) {
					return
				}
			}
		}
	}
}

func (a *Adapter) playUtterance(utt SimulatedUtterance, wait func(time.Duration) bool, emit func(models.Transcript) bool) bool {
	for i, partial := range utt.Partials {
		if !wait(a.cfg.PartialDelay) {
			return false
		}
		if !emit(models.Transcript{
			Text:          partial,
			Timestamp:     time.Now(),
			IsSpeechStart: i == 0,
		}) {
			return false
		}
	}

	if !wait(a.cfg.PartialDelay) {
		return false
	}
	confidence := utt.Confidence
	lag := a.cfg.ProcessingLag
	return emit(models.Transcript{
		Text:          utt.Final,
		Timestamp:     time.Now(),
		IsFinal:       true,
		IsSpeechStart: len(utt.Partials) == 0,
		Confidence:    &confidence,
		Latency:       &lag,
	})
}

// Stop ends the active stream. It is safe to call more than once.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil && !a.stopped {
		close(a.stopCh)
		a.stopped = true
	}
	a.initialized = false
	return nil
}

// Status returns a snapshot of backend state.
func (a *Adapter) Status() backend.Status {
	a.mu.Lock()
	initialized := a.initialized
	a.mu.Unlock()

	return backend.Status{
		"provider":    Name,
		"initialized": initialized,
		"initializes": a.initCount.Load(),
		"streams":     a.streamCount.Load(),
		"frames_fed":  a.framesFed.Load(),
		"emitted":     a.emitted.Load(),
	}
}

// Initializations returns how many times Initialize was called.
func (a *Adapter) Initializations() int64 {
	return a.initCount.Load()
}
