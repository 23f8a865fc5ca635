package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/audio"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/latency"
	"ai-voice-dialogue-service/internal/service/session"
	"ai-voice-dialogue-service/internal/service/stt"
)

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// runCapture consumes the transcript stream. A failed or exhausted stream
// is retried with backoff until MaxRetries consecutive failures.
func (o *Orchestrator) runCapture(ctx context.Context) {
	logger := logging.WithStage(o.SessionID(), "capture")

	for {
		err := o.consumeTranscripts(ctx, logger)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errStreamEnded
		}
		if !o.retryCapture(ctx, logger, err) {
			return
		}
	}
}

func (o *Orchestrator) consumeTranscripts(ctx context.Context, logger zerolog.Logger) error {
	healthy := false
	for t, err := range o.stt.StreamTranscripts(ctx) {
		if err != nil {
			return err
		}
		if !healthy {
			o.capture.Recover()
			healthy = true
		}

		if t.IsSpeechStart && o.speaking.Load() {
			logger.Info().Msg("Speech detected while speaking")
			o.HandleInterruption(SourceTranscript)
		}
		if !t.IsFinal || strings.TrimSpace(t.Text) == "" {
			continue
		}
		o.enqueueTranscript(t, logger)
	}
	return nil
}

// retryCapture records a capture failure, waits out the backoff and
// re-initializes the speech backend. It returns false when the stage gives
// up or the run ends.
func (o *Orchestrator) retryCapture(ctx context.Context, logger zerolog.Logger, err error) bool {
	for {
		o.recordBackendError("stt", err)
		retries, rerr := o.capture.Retry(err)
		if rerr != nil {
			return false
		}
		if retries >= o.cfg.MaxRetries {
			logger.Error().Err(err).Int("retries", retries).Msg("Capture failed too many times")
			o.capture.Fail(err)
			o.fail(err)
			return false
		}

		delay := o.cfg.backoff(retries)
		logger.Warn().
			Err(err).
			Int("retries", retries).
			Dur("backoff", delay).
			Msg("Capture failed, retrying")
		if !sleepCtx(ctx, delay) {
			return false
		}

		o.metrics.RecordBackendRetry("stt")
		if serr := o.stt.Stop(); serr != nil {
			logger.Warn().Err(serr).Msg("Failed to stop speech backend before retry")
		}
		if err = o.stt.Initialize(ctx); err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
}

func (o *Orchestrator) enqueueTranscript(t models.Transcript, logger zerolog.Logger) {
	sess := o.Session()
	turnID := o.turns.Next(sess.ID)
	o.lastTurn.Store(turnID)

	item := transcriptItem{transcript: t, epoch: o.coordinator.Epoch(), turnID: turnID}
	if old, dropped := o.transcripts.PushDropOldest(item); dropped {
		logger.Warn().
			Str("turnId", turnID).
			Str("droppedTurnId", old.turnID).
			Msg("Transcript queue full, dropping oldest")
		o.metrics.RecordQueueDrop(queueTranscript, "overflow", 1)
	}
	o.metrics.SetQueueDepth(queueTranscript, o.transcripts.Len())

	sess.AddUserMessage(t.Text)
	o.collector.RecordInteraction()
	if t.Latency != nil {
		o.collector.RecordLatency(latency.StageSTT, ms(*t.Latency))
	}

	logger.Info().Str("turnId", turnID).Str("text", t.Text).Msg("User turn")
	o.emit(pendingEvent{turn: &models.TurnEvent{
		EventType:      models.EventTypeUserTurn,
		SessionID:      sess.ID,
		ConversationID: sess.ConversationID,
		TurnID:         turnID,
		Role:           string(session.RoleUser),
		Text:           t.Text,
		Timestamp:      t.Timestamp.UnixMilli(),
	}})
}

// runFrames pulls fixed-size frames from the ring buffer, classifies them
// and forwards them to the speech backend when it accepts audio.
func (o *Orchestrator) runFrames(ctx context.Context) {
	logger := logging.WithStage(o.SessionID(), "capture-frames")
	frameSize := o.cfg.VAD.FrameSize()
	consumer, _ := o.stt.(stt.AudioConsumer)

	interval := o.cfg.VAD.FrameDuration / 2
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make([]float32, 0, frameSize)
	var lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			pending = append(pending, o.ring.Read(frameSize-len(pending))...)
			if len(pending) < frameSize {
				break
			}
			o.processFrame(pending, consumer, logger)
			pending = pending[:0]
		}

		if d := o.ring.Dropped(); d > lastDropped {
			o.metrics.RecordAudioDropped(d - lastDropped)
			lastDropped = d
		}
	}
}

func (o *Orchestrator) processFrame(frame []float32, consumer stt.AudioConsumer, logger zerolog.Logger) {
	speechStart := o.detector.Process(frame)
	o.metrics.RecordFrame(speechStart)

	if consumer != nil {
		consumer.Feed(audio.FloatToInt16(frame))
	}
	if speechStart && o.speaking.Load() {
		logger.Info().Msg("Voice activity detected while speaking")
		o.HandleInterruption(SourceVAD)
	}
}

// runGeneration turns queued transcripts into complete replies.
func (o *Orchestrator) runGeneration(ctx context.Context) {
	logger := logging.WithStage(o.SessionID(), "generation")

	for {
		item, ok := o.transcripts.Pop(ctx, o.cfg.PollInterval)
		if ctx.Err() != nil {
			return
		}
		if !ok {
			continue
		}
		o.metrics.SetQueueDepth(queueTranscript, o.transcripts.Len())

		if o.isStale(item.epoch) {
			logger.Debug().Str("turnId", item.turnID).Msg("Dropping transcript from before interruption")
			o.metrics.RecordQueueDrop(queueTranscript, "stale", 1)
			continue
		}

		result := o.generate(ctx, item)
		o.metrics.RecordTurn("ai", result.Outcome.String())
	}
}

func (o *Orchestrator) generate(ctx context.Context, item transcriptItem) backend.Result {
	sess := o.Session()
	logger := logging.WithTurn(sess.ID, "generation", item.turnID)
	start := time.Now()
	var firstLatency float64

	aborted := func() bool {
		return o.isStale(item.epoch) || ctx.Err() != nil
	}

	for chunk, err := range o.gen.StreamResponse(ctx, item.transcript.Text) {
		if err != nil {
			if backend.IsAborted(err) || aborted() {
				logger.Info().Msg("Response aborted")
				return backend.Aborted()
			}
			logger.Error().Err(err).Msg("Response generation failed")
			o.recordBackendError("ai", err)
			return backend.Failed(err)
		}
		if aborted() {
			o.gen.StopStreaming()
			logger.Info().Msg("Response aborted")
			return backend.Aborted()
		}

		if chunk.IsFirst {
			firstLatency = ms(time.Since(start))
			o.collector.RecordLatency(latency.StageAI, firstLatency)
			logger.Debug().Float64("latencyMs", firstLatency).Msg("First response chunk")
		}
		if !chunk.IsFinal {
			continue
		}

		resp := responseItem{
			chunk:        chunk,
			transcriptAt: item.transcript.Timestamp,
			epoch:        item.epoch,
			turnID:       item.turnID,
		}
		if old, dropped := o.responses.PushDropOldest(resp); dropped {
			logger.Warn().Str("droppedTurnId", old.turnID).Msg("Response queue full, dropping oldest")
			o.metrics.RecordQueueDrop(queueResponse, "overflow", 1)
		}
		o.metrics.SetQueueDepth(queueResponse, o.responses.Len())

		sess.AddAssistantMessage(chunk.FullText)
		logger.Info().Str("text", chunk.FullText).Msg("Assistant turn")
		o.emit(pendingEvent{turn: &models.TurnEvent{
			EventType:      models.EventTypeAssistantTurn,
			SessionID:      sess.ID,
			ConversationID: sess.ConversationID,
			TurnID:         item.turnID,
			Role:           string(session.RoleAssistant),
			Text:           chunk.FullText,
			Timestamp:      time.Now().UnixMilli(),
			LatencyMs:      firstLatency,
		}})
		return backend.Completed()
	}

	if aborted() {
		return backend.Aborted()
	}
	err := backend.NewTransientError(o.gen.Name(), "stream response", errStreamEnded)
	logger.Error().Err(err).Msg("Response ended without a final chunk")
	o.recordBackendError("ai", err)
	return backend.Failed(err)
}

// runSynthesis speaks queued replies.
func (o *Orchestrator) runSynthesis(ctx context.Context) {
	logger := logging.WithStage(o.SessionID(), "synthesis")

	for {
		item, ok := o.responses.Pop(ctx, o.cfg.PollInterval)
		if ctx.Err() != nil {
			return
		}
		if !ok {
			continue
		}
		o.metrics.SetQueueDepth(queueResponse, o.responses.Len())

		if o.isStale(item.epoch) {
			logger.Debug().Str("turnId", item.turnID).Msg("Dropping response from before interruption")
			o.metrics.RecordQueueDrop(queueResponse, "stale", 1)
			continue
		}

		result := o.synthesize(ctx, item)
		o.metrics.RecordTurn("tts", result.Outcome.String())
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, item responseItem) backend.Result {
	logger := logging.WithTurn(o.SessionID(), "synthesis", item.turnID)
	start := time.Now()

	o.setSpeaking(true)
	defer o.setSpeaking(false)

	// Playback also yields while an interruption is still being handled.
	aborted := func() bool {
		return o.coordinator.IsTriggered() || o.isStale(item.epoch) || ctx.Err() != nil
	}

	for chunk, err := range o.tts.StreamAudio(ctx, item.chunk.FullText) {
		if err != nil {
			if backend.IsAborted(err) || aborted() {
				return backend.Aborted()
			}
			logger.Error().Err(err).Msg("Speech synthesis failed")
			o.recordBackendError("tts", err)
			return backend.Failed(err)
		}
		if aborted() {
			logger.Info().Msg("Playback interrupted")
			return backend.Aborted()
		}

		if chunk.IsFirst {
			now := time.Now()
			o.collector.RecordLatency(latency.StageTTS, ms(now.Sub(start)))
			if !item.transcriptAt.IsZero() {
				o.collector.RecordLatency(latency.StageEndToEnd, ms(now.Sub(item.transcriptAt)))
			}
		}

		if err := o.tts.PlayChunk(ctx, chunk); err != nil {
			if backend.IsAborted(err) || aborted() {
				logger.Info().Msg("Playback interrupted")
				return backend.Aborted()
			}
			logger.Error().Err(err).Msg("Playback failed")
			o.recordBackendError("tts", err)
			return backend.Failed(err)
		}
		if aborted() {
			logger.Info().Msg("Playback interrupted")
			return backend.Aborted()
		}
	}
	return backend.Completed()
}

// runEvents publishes queued events off the stage goroutines. Events still
// queued at shutdown are flushed within PublishTimeout.
func (o *Orchestrator) runEvents(ctx context.Context) {
	if o.publisher == nil {
		<-ctx.Done()
		return
	}

	for ctx.Err() == nil {
		if ev, ok := o.events.Pop(ctx, o.cfg.PollInterval); ok {
			o.publish(context.WithoutCancel(ctx), ev)
		}
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PublishTimeout)
	defer cancel()
	for flushCtx.Err() == nil {
		ev, ok := o.events.TryPop()
		if !ok {
			return
		}
		o.publish(flushCtx, ev)
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev pendingEvent) {
	pubCtx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
	defer cancel()

	var err error
	switch {
	case ev.turn != nil:
		err = o.publisher.PublishTurn(pubCtx, *ev.turn)
	case ev.interruption != nil:
		err = o.publisher.PublishInterruption(pubCtx, *ev.interruption)
	}
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to publish event")
	}
}
