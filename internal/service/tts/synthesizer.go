// Package tts defines the interface for text-to-speech backends.
package tts

import (
	"context"
	"iter"
	"strings"
	"unicode"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/service/backend"
)

// Audio formats carried in models.AudioChunk.Format.
const (
	FormatPCM16 = "pcm_s16le"
	FormatMP3   = "mp3"
)

// Backend synthesizes and plays speech (Google, mock).
type Backend interface {
	// Name returns the provider name used in logs and metrics.
	Name() string

	// Initialize prepares the backend. A failure is wrapped in backend.InitError.
	Initialize(ctx context.Context) error

	// StreamAudio yields playable chunks for text. The last chunk has
	// IsFinal set. A yielded error ends the stream.
	StreamAudio(ctx context.Context, text string) iter.Seq2[models.AudioChunk, error]

	// PlayChunk blocks until chunk has played, StopPlayback is called or ctx
	// is done.
	PlayChunk(ctx context.Context, chunk models.AudioChunk) error

	// StopPlayback cuts off audio immediately.
	StopPlayback()

	// Stop releases resources.
	Stop() error

	// Status returns a snapshot of backend state.
	Status() backend.Status
}

// Player plays encoded audio on an output device.
type Player interface {
	Play(ctx context.Context, data []byte, format string, sampleRate int) error
	Stop()
}

// SplitSentences breaks text at sentence-ending punctuation so synthesis of
// the first sentence can start before the rest. Whitespace-only pieces are
// dropped.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Keep "3.5" and "e.g." style periods inside the sentence
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}
