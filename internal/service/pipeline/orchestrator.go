// Package pipeline runs the capture, generation and synthesis stages of a
// spoken dialogue and handles barge-in across them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/observability/metrics"
	"ai-voice-dialogue-service/internal/service/audio"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/interruption"
	"ai-voice-dialogue-service/internal/service/latency"
	"ai-voice-dialogue-service/internal/service/llm"
	"ai-voice-dialogue-service/internal/service/session"
	"ai-voice-dialogue-service/internal/service/stage"
	"ai-voice-dialogue-service/internal/service/stt"
	"ai-voice-dialogue-service/internal/service/tts"
	"ai-voice-dialogue-service/internal/service/vad"
)

// Interruption sources.
const (
	SourceVAD        = "vad"
	SourceTranscript = "transcript"
	SourceManual     = "manual"
)

// Queue names used in logs and metrics.
const (
	queueTranscript = "transcript"
	queueResponse   = "response"
	queueEvents     = "events"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("pipeline is already running")

	errStreamEnded = errors.New("transcript stream ended")
)

// EventPublisher receives turn and interruption events.
type EventPublisher interface {
	PublishTurn(ctx context.Context, event models.TurnEvent) error
	PublishInterruption(ctx context.Context, event models.InterruptionEvent) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSource sets the audio source feeding the ring buffer. Without one the
// frame worker is not started and barge-in relies on transcripts.
func WithSource(src audio.Source) Option {
	return func(o *Orchestrator) { o.source = src }
}

// WithSessionManager sets where sessions are created and saved.
func WithSessionManager(m *session.Manager) Option {
	return func(o *Orchestrator) { o.sessions = m }
}

// WithCollector sets the latency collector.
func WithCollector(c *latency.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithPublisher sets the event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClassifier sets the frame classifier used by the voice activity detector.
func WithClassifier(c vad.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

type worker struct {
	name string
	done chan struct{}
}

type transcriptItem struct {
	transcript models.Transcript
	epoch      uint64
	turnID     string
}

type responseItem struct {
	chunk        models.ResponseChunk
	transcriptAt time.Time
	epoch        uint64
	turnID       string
}

type pendingEvent struct {
	turn         *models.TurnEvent
	interruption *models.InterruptionEvent
}

// Orchestrator wires the three backends into a running dialogue loop.
//
// Start and Stop are serialized. Everything else may be called from any
// goroutine while the pipeline runs.
type Orchestrator struct {
	cfg        Config
	stt        stt.Backend
	gen        llm.Backend
	tts        tts.Backend
	source     audio.Source
	sessions   *session.Manager
	collector  *latency.Collector
	publisher  EventPublisher
	classifier vad.Classifier
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	coordinator *interruption.Coordinator
	detector    *vad.Detector
	ring        *audio.RingBuffer
	turns       *stage.TurnGenerator
	capture     *stage.Lifecycle
	generation  *stage.Lifecycle
	synthesis   *stage.Lifecycle

	transcripts *Queue[transcriptItem]
	responses   *Queue[responseItem]
	events      *Queue[pendingEvent]

	running    atomic.Bool
	speaking   atomic.Bool
	errorCount atomic.Int64
	lastTurn   atomic.Value // string

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu        sync.Mutex
	cancel    context.CancelFunc
	session   *session.Session
	fatal     error
	done      chan struct{}
	workers   []worker
	callbacks []interruption.CallbackID
}

// New creates an orchestrator. It fails with an error wrapping
// backend.ErrConfiguration when cfg is invalid.
func New(cfg Config, sttBackend stt.Backend, gen llm.Backend, synth tts.Backend, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sttBackend == nil || gen == nil || synth == nil {
		return nil, backend.ConfigError("all three backends are required")
	}

	done := make(chan struct{})
	close(done)

	o := &Orchestrator{
		cfg:         cfg,
		stt:         sttBackend,
		gen:         gen,
		tts:         synth,
		logger:      logging.WithComponent("pipeline"),
		metrics:     metrics.DefaultMetrics,
		coordinator: interruption.NewCoordinator(),
		ring:        audio.NewRingBufferForDuration(cfg.SampleRate, cfg.RingSeconds),
		turns:       stage.NewTurnGenerator(),
		capture:     stage.NewLifecycle("capture"),
		generation:  stage.NewLifecycle("generation"),
		synthesis:   stage.NewLifecycle("synthesis"),
		transcripts: NewQueue[transcriptItem](queueTranscript, cfg.TranscriptQueueSize),
		responses:   NewQueue[responseItem](queueResponse, cfg.ResponseQueueSize),
		events:      NewQueue[pendingEvent](queueEvents, cfg.EventQueueSize),
		done:        done,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sessions == nil {
		o.sessions = session.NewManager("")
	}
	if o.collector == nil {
		o.collector = latency.NewCollector(nil)
	}
	o.detector = vad.New(cfg.VAD, o.classifier)
	o.lastTurn.Store("")
	return o, nil
}

// Start initializes the backends, opens a session and spawns the stage
// workers. projectPath may be empty, in which case the session is not
// persisted.
func (o *Orchestrator) Start(ctx context.Context, projectPath string) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if o.running.Load() {
		return ErrAlreadyRunning
	}

	if err := o.initBackends(ctx); err != nil {
		return err
	}

	sess, err := o.sessions.Create(projectPath)
	if err != nil {
		o.stopBackends()
		return fmt.Errorf("create session: %w", err)
	}
	sess.SetMetadata("stt_provider", o.stt.Name())
	sess.SetMetadata("ai_provider", o.gen.Name())
	sess.SetMetadata("tts_provider", o.tts.Name())
	o.collector.Start(sess.ID)

	o.coordinator.Reset()
	o.detector.Reset()
	o.ring.Reset()
	o.transcripts.Drain()
	o.responses.Drain()
	o.events.Drain()
	o.errorCount.Store(0)
	o.speaking.Store(false)
	o.lastTurn.Store("")
	for _, l := range []*stage.Lifecycle{o.capture, o.generation, o.synthesis} {
		// A lifecycle left active by a failed run is stopped first.
		l.Stop()
		_ = l.Start()
	}

	// The run outlives the caller's context; Stop ends it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger := logging.WithSession(sess.ID)

	if o.source != nil {
		if err := o.source.Start(runCtx, audio.RingSink(o.ring, logger)); err != nil {
			cancel()
			o.stopBackends()
			return backend.NewInitError(o.source.Name(), err)
		}
	}

	stopGeneration := o.coordinator.Register(func() error {
		o.gen.StopStreaming()
		return nil
	})

	o.mu.Lock()
	o.cancel = cancel
	o.session = sess
	o.fatal = nil
	o.done = make(chan struct{})
	o.workers = nil
	o.callbacks = []interruption.CallbackID{stopGeneration}
	o.mu.Unlock()

	o.running.Store(true)
	o.metrics.SetRunning(true)

	o.spawn(runCtx, "capture", o.runCapture)
	if o.source != nil {
		o.spawn(runCtx, "capture-frames", o.runFrames)
	}
	o.spawn(runCtx, "generation", o.runGeneration)
	o.spawn(runCtx, "synthesis", o.runSynthesis)
	o.spawn(runCtx, "events", o.runEvents)

	logger.Info().
		Str("stt", o.stt.Name()).
		Str("ai", o.gen.Name()).
		Str("tts", o.tts.Name()).
		Str("projectPath", projectPath).
		Msg("Pipeline started")
	return nil
}

func (o *Orchestrator) initBackends(ctx context.Context) error {
	type initializer struct {
		name string
		init func(context.Context) error
		stop func() error
	}
	steps := []initializer{
		{o.stt.Name(), o.stt.Initialize, o.stt.Stop},
		{o.gen.Name(), o.gen.Initialize, o.gen.Stop},
		{o.tts.Name(), o.tts.Initialize, o.tts.Stop},
	}

	for i, step := range steps {
		err := step.init(ctx)
		if err == nil {
			continue
		}
		for _, started := range steps[:i] {
			if serr := started.stop(); serr != nil {
				o.logger.Warn().Err(serr).Str("backend", started.name).Msg("Failed to stop backend after init failure")
			}
		}
		if !backend.IsFatal(err) {
			err = backend.NewInitError(step.name, err)
		}
		o.logger.Error().Err(err).Str("backend", step.name).Msg("Backend initialization failed")
		return err
	}
	return nil
}

func (o *Orchestrator) stopBackends() {
	for _, stop := range []func() error{o.stt.Stop, o.gen.Stop, o.tts.Stop} {
		if err := stop(); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to stop backend")
		}
	}
}

func (o *Orchestrator) spawn(ctx context.Context, name string, fn func(context.Context)) {
	w := worker{name: name, done: make(chan struct{})}
	o.mu.Lock()
	o.workers = append(o.workers, w)
	o.mu.Unlock()

	go func() {
		defer close(w.done)
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error().
					Str("worker", name).
					Interface("panic", p).
					Msg("Worker panicked")
				o.fail(fmt.Errorf("worker %s panicked: %v", name, p))
			}
		}()
		fn(ctx)
	}()
}

// Stop ends the run. It is idempotent. Backends and workers share one
// JoinTimeout deadline; anything still running afterwards is logged and
// abandoned.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if !o.running.CompareAndSwap(true, false) {
		return nil
	}

	o.mu.Lock()
	cancel := o.cancel
	workers := append([]worker(nil), o.workers...)
	sess := o.session
	done := o.done
	callbacks := o.callbacks
	o.callbacks = nil
	o.mu.Unlock()

	logger := logging.WithSession(sess.ID)
	logger.Info().Msg("Stopping pipeline")

	cancel()
	o.coordinator.Trigger()

	joinCtx, joinCancel := context.WithTimeout(ctx, o.cfg.JoinTimeout)
	defer joinCancel()

	stops := []struct {
		name string
		stop func() error
	}{
		{"stt", o.stt.Stop},
		{"ai", o.gen.Stop},
		{"tts", o.tts.Stop},
	}
	if o.source != nil {
		stops = append(stops, struct {
			name string
			stop func() error
		}{"audio", o.source.Stop})
	}

	var waits []worker
	for _, s := range stops {
		w := worker{name: "backend:" + s.name, done: make(chan struct{})}
		go func() {
			defer close(w.done)
			if err := s.stop(); err != nil {
				logger.Warn().Err(err).Str("backend", s.name).Msg("Backend stop failed")
			}
		}()
		waits = append(waits, w)
	}
	waits = append(waits, workers...)

	leaked := 0
	for _, w := range waits {
		select {
		case <-w.done:
		case <-joinCtx.Done():
			leaked++
			logger.Warn().Str("worker", w.name).Msg("Worker did not stop before deadline, abandoning")
		}
	}

	for _, id := range callbacks {
		o.coordinator.Unregister(id)
	}
	o.coordinator.Wait()
	o.coordinator.Reset()
	o.setSpeaking(false)
	for _, l := range []*stage.Lifecycle{o.capture, o.generation, o.synthesis} {
		l.Stop()
	}

	var errs []error
	o.collector.End()
	if err := o.collector.Save(); err != nil {
		logger.Error().Err(err).Msg("Failed to save metrics")
		errs = append(errs, fmt.Errorf("save metrics: %w", err))
	}
	sess.Close()
	if err := o.sessions.Save(sess); err != nil {
		logger.Error().Err(err).Msg("Failed to save session")
		errs = append(errs, fmt.Errorf("save session: %w", err))
	}

	o.metrics.SetRunning(false)
	close(done)

	summary := o.collector.Summary()
	logger.Info().
		Int("leakedWorkers", leaked).
		Int("interactions", summary.TotalInteractions).
		Int("interruptions", summary.Interruptions).
		Int("errors", summary.TotalErrors).
		Msg("Pipeline stopped")
	return errors.Join(errs...)
}

// fail marks the run as failed and stops it in the background.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	first := o.fatal == nil
	if first {
		o.fatal = err
	}
	o.mu.Unlock()
	if !first {
		return
	}

	o.metrics.RecordFatal()
	o.logger.Error().Err(err).Msg("Unrecoverable pipeline error, stopping")
	go func() {
		if serr := o.Stop(context.Background()); serr != nil {
			o.logger.Error().Err(serr).Msg("Error during fatal shutdown")
		}
	}()
}

// HandleInterruption stops assistant output: it drains pending responses,
// stops playback and waits for the coordinator callbacks, which cancel
// generation. It reports false when not running or when another
// interruption is already being handled.
func (o *Orchestrator) HandleInterruption(source string) bool {
	if !o.running.Load() {
		return false
	}
	if !o.coordinator.Trigger() {
		return false
	}

	turnID, _ := o.lastTurn.Load().(string)
	logger := logging.WithTurn(o.SessionID(), "interruption", turnID)

	o.metrics.RecordInterruption(source)
	o.collector.RecordInterruption()

	if n := o.responses.Drain(); n > 0 {
		o.metrics.RecordQueueDrop(queueResponse, "interrupted", n)
	}
	o.metrics.SetQueueDepth(queueResponse, 0)

	wasSpeaking := o.speaking.Load()
	if wasSpeaking {
		o.tts.StopPlayback()
		o.setSpeaking(false)
	}
	o.coordinator.Wait()

	o.emit(pendingEvent{interruption: &models.InterruptionEvent{
		EventType: models.EventTypeInterruption,
		SessionID: o.SessionID(),
		TurnID:    turnID,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
	}})

	o.coordinator.Reset()

	logger.Info().
		Str("source", source).
		Bool("wasSpeaking", wasSpeaking).
		Uint64("epoch", o.coordinator.Epoch()).
		Msg("Interruption handled")
	return true
}

// Done returns a channel closed when the current run ends, whether by Stop
// or by an unrecoverable error. Before the first Start it is already closed.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Err returns the error that ended the last run, if it failed.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fatal
}

// IsRunning reports whether a run is active.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// IsSpeaking reports whether assistant audio is playing.
func (o *Orchestrator) IsSpeaking() bool {
	return o.speaking.Load()
}

// Session returns the session of the current or last run.
func (o *Orchestrator) Session() *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// SessionID returns the ID of the current or last session.
func (o *Orchestrator) SessionID() string {
	if s := o.Session(); s != nil {
		return s.ID
	}
	return ""
}

// Collector returns the latency collector.
func (o *Orchestrator) Collector() *latency.Collector {
	return o.collector
}

func (o *Orchestrator) setSpeaking(speaking bool) {
	o.speaking.Store(speaking)
	o.metrics.SetSpeaking(speaking)
}

// isStale reports whether work captured at epoch was overtaken by an
// interruption.
func (o *Orchestrator) isStale(epoch uint64) bool {
	return o.coordinator.Epoch() != epoch
}

func (o *Orchestrator) recordBackendError(stageName string, err error) {
	o.errorCount.Add(1)
	o.metrics.RecordBackendError(stageName, errorType(err))
	o.collector.RecordError(stageName, err.Error())
}

func errorType(err error) string {
	switch {
	case backend.IsFatal(err):
		return "init"
	case backend.IsTransient(err):
		return "transient"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, backend.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, errStreamEnded):
		return "stream_ended"
	default:
		return "unknown"
	}
}

func (o *Orchestrator) emit(ev pendingEvent) {
	if o.publisher == nil {
		return
	}
	if _, dropped := o.events.PushDropOldest(ev); dropped {
		o.metrics.RecordQueueDrop(queueEvents, "overflow", 1)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
