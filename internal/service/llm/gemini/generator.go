// Package gemini provides a generation backend on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/llm"
)

// Name is the provider name of the Gemini backend.
const Name = "gemini"

// History roles, shared with the other backends.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// Config holds Gemini configuration.
type Config struct {
	APIKey       string
	Model        string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	MaxHistory   int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Model:        "gemini-2.5-flash",
		SystemPrompt: llm.DefaultSystemPrompt,
		Temperature:  0.7,
		MaxTokens:    300,
		MaxHistory:   20,
	}
}

type streamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// Generator implements llm.Backend using streamed content generation.
type Generator struct {
	cfg     Config
	logger  zerolog.Logger
	history *llm.History

	mu     sync.Mutex
	stream streamFunc
	cancel context.CancelFunc

	streaming atomic.Bool
	aborted   atomic.Bool
	requests  atomic.Int64
	failures  atomic.Int64
}

// New creates a new Gemini generator.
func New(cfg Config) *Generator {
	return &Generator{
		cfg:     cfg,
		logger:  logging.WithBackend("ai", Name),
		history: llm.NewHistory(cfg.MaxHistory),
	}
}

// Name returns the provider name.
func (g *Generator) Name() string { return Name }

// Initialize creates the API client.
func (g *Generator) Initialize(ctx context.Context) error {
	if g.cfg.APIKey == "" {
		return backend.NewInitError(Name, errors.New("API key is required"))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return backend.NewInitError(Name, err)
	}

	g.mu.Lock()
	g.stream = client.Models.GenerateContentStream
	g.mu.Unlock()

	g.logger.Info().Str("model", g.cfg.Model).Msg("Gemini generator initialized")
	return nil
}

func (g *Generator) contents(text string) []*genai.Content {
	var contents []*genai.Content
	for _, m := range g.history.Messages() {
		role := genai.Role(genai.RoleUser)
		if m.Role == roleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(text, genai.RoleUser))
}

func (g *Generator) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.cfg.SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens:   int32(g.cfg.MaxTokens),
	}
}

// StreamResponse streams the generated reply for text.
func (g *Generator) StreamResponse(ctx context.Context, text string) iter.Seq2[models.ResponseChunk, error] {
	return func(yield func(models.ResponseChunk, error) bool) {
		g.mu.Lock()
		stream := g.stream
		if stream == nil {
			g.mu.Unlock()
			yield(models.ResponseChunk{}, backend.ErrNotInitialized)
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		g.cancel = cancel
		g.aborted.Store(false)
		g.mu.Unlock()
		defer cancel()

		g.requests.Add(1)
		g.streaming.Store(true)
		defer g.streaming.Store(false)

		var asm llm.Assembler
		for resp, err := range stream(ctx, g.cfg.Model, g.contents(text), g.generateConfig()) {
			if err != nil {
				yield(models.ResponseChunk{}, g.streamError(err))
				return
			}
			if g.aborted.Load() {
				yield(models.ResponseChunk{}, backend.ErrStreamAborted)
				return
			}
			delta := resp.Text()
			if delta == "" {
				continue
			}
			if !yield(asm.Next(delta), nil) {
				return
			}
		}

		g.history.Add(roleUser, text)
		g.history.Add(roleAssistant, asm.Text())
		yield(asm.Final(), nil)
	}
}

func (g *Generator) streamError(err error) error {
	if g.aborted.Load() {
		return backend.ErrStreamAborted
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	g.failures.Add(1)
	g.logger.Warn().Err(err).Msg("Gemini stream failed")
	return backend.NewTransientError(Name, "generate", err)
}

// StopStreaming cancels the in-flight request.
func (g *Generator) StopStreaming() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.aborted.Store(true)
		g.cancel()
		g.cancel = nil
	}
}

// Stop releases resources.
func (g *Generator) Stop() error {
	g.StopStreaming()
	g.mu.Lock()
	g.stream = nil
	g.mu.Unlock()
	return nil
}

// Status returns a snapshot of backend state.
func (g *Generator) Status() backend.Status {
	g.mu.Lock()
	initialized := g.stream != nil
	g.mu.Unlock()

	return backend.Status{
		"provider":       Name,
		"initialized":    initialized,
		"model":          g.cfg.Model,
		"is_streaming":   g.streaming.Load(),
		"requests":       g.requests.Load(),
		"failures":       g.failures.Load(),
		"history_length": g.history.Len(),
	}
}
