// Package stt defines the interface for Speech-to-Text backends.
package stt

import (
	"context"
	"iter"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/service/backend"
)

// Backend is a streaming speech recognizer (WhisperKit, Google, mock).
type Backend interface {
	// Name returns the provider name used in logs and metrics.
	Name() string

	// Initialize prepares the backend. A failure is wrapped in backend.InitError.
	Initialize(ctx context.Context) error

	// StreamTranscripts yields transcripts until ctx is cancelled, Stop is
	// called or the underlying stream fails. A yielded error ends the stream.
	StreamTranscripts(ctx context.Context) iter.Seq2[models.Transcript, error]

	// Stop ends any active stream and releases resources.
	Stop() error

	// Status returns a snapshot of backend state.
	Status() backend.Status
}

// AudioConsumer is implemented by backends that recognize audio pushed from
// the capture stage rather than reading a device themselves.
type AudioConsumer interface {
	// Feed hands one frame of 16-bit mono PCM to the backend. It must not block.
	Feed(frame []int16)
}
