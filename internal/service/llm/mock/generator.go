// Package mock provides a scripted generation backend.
package mock

import (
	"context"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/llm"
)

// Name is the provider name of the mock backend.
const Name = "mock"

// Config controls the scripted replies.
type Config struct {
	// Replies maps an exact user utterance to the chunks streamed back.
	Replies map[string][]string
	// ChunkDelay is the pause before each chunk.
	ChunkDelay time.Duration
	// Hang makes StreamResponse block after the first chunk until aborted.
	Hang bool
}

// DefaultConfig returns a configuration that echoes the user word by word.
func DefaultConfig() Config {
	return Config{ChunkDelay: 30 * time.Millisecond}
}

// Generator implements llm.Backend with canned replies.
type Generator struct {
	cfg     Config
	logger  zerolog.Logger
	history *llm.History

	mu          sync.Mutex
	initialized bool
	abort       chan struct{}
	failNext    error

	streaming atomic.Bool
	requests  atomic.Int64
	aborts    atomic.Int64
}

// New creates a new mock generator.
func New(cfg Config) *Generator {
	return &Generator{
		cfg:     cfg,
		logger:  logging.WithBackend("ai", Name),
		history: llm.NewHistory(0),
	}
}

// Name returns the provider name.
func (g *Generator) Name() string { return Name }

// Initialize marks the backend ready.
func (g *Generator) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized = true
	return nil
}

// FailNext makes the next StreamResponse yield err.
func (g *Generator) FailNext(err error) {
	g.mu.Lock()
	g.failNext = err
	g.mu.Unlock()
}

// chunksFor returns the scripted reply, or an echo split into words.
func (g *Generator) chunksFor(text string) []string {
	if chunks, ok := g.cfg.Replies[text]; ok {
		return chunks
	}
	words := strings.Fields("I heard you say " + text)
	chunks := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		chunks[i] = w
	}
	return chunks
}

// StreamResponse streams the reply for text chunk by chunk.
func (g *Generator) StreamResponse(ctx context.Context, text string) iter.Seq2[models.ResponseChunk, error] {
	return func(yield func(models.ResponseChunk, error) bool) {
		g.mu.Lock()
		if !g.initialized {
			g.mu.Unlock()
			yield(models.ResponseChunk{}, backend.ErrNotInitialized)
			return
		}
		abort := make(chan struct{})
		g.abort = abort
		failure := g.failNext
		g.failNext = nil
		g.mu.Unlock()

		g.requests.Add(1)
		g.streaming.Store(true)
		defer g.streaming.Store(false)

		if failure != nil {
			yield(models.ResponseChunk{}, failure)
			return
		}

		g.history.Add("user", text)
		pause := func(d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-abort:
				return backend.ErrStreamAborted
			case <-timer.C:
				return nil
			}
		}

		var asm llm.Assembler
		for _, chunk := range g.chunksFor(text) {
			if err := pause(g.cfg.ChunkDelay); err != nil {
				yield(models.ResponseChunk{}, err)
				return
			}
			if !yield(asm.Next(chunk), nil) {
				return
			}
			if g.cfg.Hang {
				select {
				case <-ctx.Done():
					yield(models.ResponseChunk{}, ctx.Err())
				case <-abort:
					yield(models.ResponseChunk{}, backend.ErrStreamAborted)
				}
				return
			}
		}

		g.history.Add("assistant", asm.Text())
		yield(asm.Final(), nil)
	}
}

// StopStreaming aborts the active response.
func (g *Generator) StopStreaming() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.abort != nil {
		close(g.abort)
		g.abort = nil
		g.aborts.Add(1)
	}
}

// Stop releases resources.
func (g *Generator) Stop() error {
	g.StopStreaming()
	g.mu.Lock()
	g.initialized = false
	g.mu.Unlock()
	return nil
}

// Status returns a snapshot of backend state.
func (g *Generator) Status() backend.Status {
	g.mu.Lock()
	initialized := g.initialized
	g.mu.Unlock()

	return backend.Status{
		"provider":       Name,
		"initialized":    initialized,
		"is_streaming":   g.streaming.Load(),
		"requests":       g.requests.Load(),
		"aborts":         g.aborts.Load(),
		"history_length": g.history.Len(),
	}
}
