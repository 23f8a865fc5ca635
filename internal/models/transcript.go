// Package models defines the data structures passed between pipeline stages.
package models

import "time"

// Transcript is a recognized user utterance produced by a speech backend.
// It is consumed exactly once by the generation stage.
type Transcript struct {
	Text          string
	Timestamp     time.Time
	IsFinal       bool
	IsSpeechStart bool
	Confidence    *float64
	// Latency is the backend-reported processing time, when known.
	Latency *time.Duration
}

// ResponseChunk is one piece of a streamed model reply.
// FullText is only set on the final chunk.
type ResponseChunk struct {
	Text     string
	IsFirst  bool
	IsFinal  bool
	FullText string
}

// AudioChunk is one piece of synthesized speech ready for playback.
type AudioChunk struct {
	Data     []byte
	IsFirst  bool
	IsFinal  bool
	Duration time.Duration
	// Format is the encoding of Data, e.g. "pcm_s16le" or "mp3".
	Format string
}
