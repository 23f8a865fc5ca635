// Package llm defines the interface for response generation backends.
package llm

import (
	"context"
	"iter"
	"strings"
	"sync"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/service/backend"
)

// DefaultSystemPrompt keeps replies short enough to speak.
const DefaultSystemPrompt = "You are a helpful voice assistant. Keep responses brief and conversational. " +
	"Avoid markdown, lists and code blocks since every reply is read aloud."

// Backend streams a reply to one user utterance (Claude, OpenAI, mock).
type Backend interface {
	// Name returns the provider name used in logs and metrics.
	Name() string

	// Initialize prepares the backend. A failure is wrapped in backend.InitError.
	Initialize(ctx context.Context) error

	// StreamResponse yields reply chunks. The last chunk has IsFinal set and
	// carries FullText. A yielded error ends the stream.
	StreamResponse(ctx context.Context, text string) iter.Seq2[models.ResponseChunk, error]

	// StopStreaming aborts the active response. The stream ends with
	// backend.ErrStreamAborted.
	StopStreaming()

	// Stop releases resources.
	Stop() error

	// Status returns a snapshot of backend state.
	Status() backend.Status
}

// Message is one entry of the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is a bounded, concurrency-safe conversation history.
type History struct {
	mu       sync.Mutex
	messages []Message
	max      int
}

// NewHistory keeps at most max messages; max <= 0 keeps everything.
func NewHistory(max int) *History {
	return &History{max: max}
}

// Add appends a message, evicting the oldest beyond the limit.
func (h *History) Add(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, Message{Role: role, Content: content})
	if h.max > 0 && len(h.messages) > h.max {
		h.messages = append([]Message(nil), h.messages[len(h.messages)-h.max:]...)
	}
}

// Messages returns a copy of the history.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Clear drops every message.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// Assembler turns streamed text deltas into ResponseChunks.
type Assembler struct {
	full strings.Builder
	sent bool
}

// Next returns the chunk for delta. IsFirst is set on the first call only.
func (a *Assembler) Next(delta string) models.ResponseChunk {
	a.full.WriteString(delta)
	chunk := models.ResponseChunk{Text: delta, IsFirst: !a.sent}
	a.sent = true
	return chunk
}

// Final returns the closing chunk carrying the full reply.
func (a *Assembler) Final() models.ResponseChunk {
	return models.ResponseChunk{IsFinal: true, FullText: a.full.String()}
}

// Text returns the reply accumulated so far.
func (a *Assembler) Text() string {
	return a.full.String()
}
