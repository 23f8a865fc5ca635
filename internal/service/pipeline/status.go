package pipeline

import (
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/stage"
	"ai-voice-dialogue-service/internal/service/vad"
)

// QueueDepths reports pending items per inter-stage queue.
type QueueDepths struct {
	Transcript int `json:"transcript"`
	Response   int `json:"response"`
}

// Status is a point-in-time snapshot of the pipeline. It shares no memory
// with the orchestrator.
type Status struct {
	IsRunning     bool                      `json:"is_running"`
	IsSpeaking    bool                      `json:"is_speaking"`
	SessionID     string                    `json:"session_id,omitempty"`
	QueueDepths   QueueDepths               `json:"queue_depths"`
	ErrorCount    int64                     `json:"error_count"`
	StageRetries  map[string]int            `json:"stage_retries"`
	Stages        map[string]string         `json:"stages"`
	Fatal         string                    `json:"fatal,omitempty"`
	Epoch         uint64                    `json:"interruption_epoch"`
	AudioDropped  uint64                    `json:"audio_samples_dropped"`
	VAD           vad.Stats                 `json:"vad"`
	BackendStatus map[string]backend.Status `json:"backend_status"`

	// SinceInterruptionMs is unset until the first interruption.
	SinceInterruptionMs *int64 `json:"ms_since_interruption,omitempty"`
}

// Status returns a snapshot of the pipeline state.
func (o *Orchestrator) Status() Status {
	lifecycles := []*stage.Lifecycle{o.capture, o.generation, o.synthesis}
	s := Status{
		IsRunning:  o.running.Load(),
		IsSpeaking: o.speaking.Load(),
		SessionID:  o.SessionID(),
		QueueDepths: QueueDepths{
			Transcript: o.transcripts.Len(),
			Response:   o.responses.Len(),
		},
		ErrorCount:   o.errorCount.Load(),
		StageRetries: make(map[string]int, len(lifecycles)),
		Stages:       make(map[string]string, len(lifecycles)),
		Epoch:        o.coordinator.Epoch(),
		AudioDropped: o.ring.Dropped(),
		VAD:          o.detector.Stats(),
		BackendStatus: map[string]backend.Status{
			"stt": o.stt.Status(),
			"ai":  o.gen.Status(),
			"tts": o.tts.Status(),
		},
	}
	if since, ok := o.coordinator.SinceLastTrigger(); ok {
		ms := since.Milliseconds()
		s.SinceInterruptionMs = &ms
	}
	for _, l := range lifecycles {
		s.StageRetries[l.Name()] = l.Retries()
		s.Stages[l.Name()] = l.State().String()
	}
	if err := o.Err(); err != nil {
		s.Fatal = err.Error()
	}
	return s
}
