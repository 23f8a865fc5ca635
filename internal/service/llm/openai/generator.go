// Package openai provides a generation backend on the OpenAI chat
// completions streaming API.
package openai

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/llm"
)

// Name is the provider name of the OpenAI backend.
const Name = "openai"

// Config holds OpenAI configuration.
type Config struct {
	APIKey       string
	BaseURL      string // Empty uses the public API
	Model        string
	SystemPrompt string
	MaxTokens    int
	MaxHistory   int // Messages kept for context
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Model:        goopenai.GPT4oMini,
		SystemPrompt: llm.DefaultSystemPrompt,
		MaxTokens:    300,
		MaxHistory:   20,
	}
}

// Generator implements llm.Backend using streamed chat completions.
type Generator struct {
	cfg     Config
	logger  zerolog.Logger
	history *llm.History

	mu     sync.Mutex
	client *goopenai.Client
	cancel context.CancelFunc

	streaming atomic.Bool
	aborted   atomic.Bool
	requests  atomic.Int64
	failures  atomic.Int64
}

// New creates a new OpenAI generator.
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

	clientCfg := goopenai.DefaultConfig(g.cfg.APIKey)
	if g.cfg.BaseURL != "" {
		clientCfg.BaseURL = g.cfg.BaseURL
	}

	g.mu.Lock()
	g.client = goopenai.NewClientWithConfig(clientCfg)
	g.mu.Unlock()

	g.logger.Info().Str("model", g.cfg.Model).Msg("OpenAI generator initialized")
	return nil
}

func (g *Generator) messages(text string) []goopenai.ChatCompletionMessage {
	msgs := []goopenai.ChatCompletionMessage{{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: g.cfg.SystemPrompt,
	}}
	for _, m := range g.history.Messages() {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: text,
	})
}

// StreamResponse streams the completion for text.
func (g *Generator) StreamResponse(ctx context.Context, text string) iter.Seq2[models.ResponseChunk, error] {
	return func(yield func(models.ResponseChunk, error) bool) {
		g.mu.Lock()
		client := g.client
		if client == nil {
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

		stream, err := client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
			Model:     g.cfg.Model,
			Messages:  g.messages(text),
			MaxTokens: g.cfg.MaxTokens,
			Stream:    true,
		})
		if err != nil {
			yield(models.ResponseChunk{}, g.streamError("create stream", err))
			return
		}
		defer stream.Close()

		var asm llm.Assembler
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(models.ResponseChunk{}, g.streamError("recv", err))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(asm.Next(resp.Choices[0].Delta.Content), nil) {
				return
			}
		}

		g.history.Add(goopenai.ChatMessageRoleUser, text)
		g.history.Add(goopenai.ChatMessageRoleAssistant, asm.Text())
		yield(asm.Final(), nil)
	}
}

// streamError classifies a stream failure. Cancellation by StopStreaming is
// an abort, not an error.
func (g *Generator) streamError(op string, err error) error {
	if g.aborted.Load() {
		return backend.ErrStreamAborted
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	g.failures.Add(1)
	g.logger.Warn().Err(err).Str("op", op).Msg("OpenAI stream failed")
	return backend.NewTransientError(Name, op, err)
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
	g.client = nil
	g.mu.Unlock()
	return nil
}

// Status returns a snapshot of backend state.
func (g *Generator) Status() backend.Status {
	g.mu.Lock()
	initialized := g.client != nil
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
