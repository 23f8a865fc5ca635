// Package claude provides a generation backend that drives the Claude CLI
// as a long-lived subprocess speaking newline-delimited stream-json.
package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/llm"
)

// Name is the provider name of the Claude backend.
const Name = "claude"

// Config holds Claude CLI configuration.
type Config struct {
	Path         string
	SystemPrompt string
	ExtraArgs    []string
	Timeout      time.Duration // Maximum wait for the next output line
	StopGrace    time.Duration // Wait for exit after closing stdin before killing
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Path:         "claude",
		SystemPrompt: llm.DefaultSystemPrompt,
		Timeout:      30 * time.Second,
		StopGrace:    2 * time.Second,
	}
}

// inputMessage is written to the CLI's stdin, one per line.
type inputMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// streamEvent is one line of CLI output.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	Error json.RawMessage `json:"error"`
}

// process is one running CLI instance.
type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	quit  chan struct{}
	done  chan struct{}
	err   error // exit status, valid after done is closed
}

// Generator implements llm.Backend on top of the Claude CLI.
type Generator struct {
	cfg     Config
	logger  zerolog.Logger
	history *llm.History

	mu    sync.Mutex
	proc  *process
	abort chan struct{}
	// stale counts aborted responses whose remaining output must be skipped.
	stale int

	streaming atomic.Bool
	requests  atomic.Int64
	failures  atomic.Int64
	skipped   atomic.Int64
	restarts  atomic.Int64
}

// New creates a new Claude generator.
func New(cfg Config) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Generator{
		cfg:     cfg,
		logger:  logging.WithBackend("ai", Name),
		history: llm.NewHistory(0),
	}
}

// Name returns the provider name.
func (g *Generator) Name() string { return Name }

// Initialize spawns the CLI and sends the system prompt.
func (g *Generator) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.proc != nil {
		return nil
	}
	return g.spawnLocked()
}

// spawnLocked starts a CLI process and makes it current. g.mu must be held.
func (g *Generator) spawnLocked() error {
	args := append([]string{"--output-format", "stream-json"}, g.cfg.ExtraArgs...)
	cmd := exec.Command(g.cfg.Path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return backend.NewInitError(Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return backend.NewInitError(Name, err)
	}
	if err := cmd.Start(); err != nil {
		return backend.NewInitError(Name, fmt.Errorf("start %s: %w", g.cfg.Path, err))
	}

	p := &process{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 64),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.read(stdout)

	if err := writeMessage(stdin, inputMessage{Type: "system", Content: g.cfg.SystemPrompt}); err != nil {
		p.kill()
		return backend.NewInitError(Name, fmt.Errorf("send system prompt: %w", err))
	}

	g.proc = p
	g.stale = 0
	g.logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("path", g.cfg.Path).
		Msg("Claude subprocess started")
	return nil
}

// restartLocked replaces a dead process. g.mu must be held.
func (g *Generator) restartLocked(old *process) error {
	old.kill()
	g.proc = nil
	g.restarts.Add(1)
	g.logger.Warn().Err(old.err).Msg("Claude subprocess exited, restarting")
	return g.spawnLocked()
}

// restartError reports a failed restart as a turn failure. The spawn error
// is flattened so it is not mistaken for a startup failure.
func restartError(err error) error {
	return backend.NewTransientError(Name, "restart", fmt.Errorf("%v", err))
}

// restart replaces old unless another request already did.
func (g *Generator) restart(old *process) (*process, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.proc != old {
		if g.proc == nil {
			return nil, backend.ErrNotInitialized
		}
		return g.proc, nil
	}
	if err := g.restartLocked(old); err != nil {
		return nil, err
	}
	return g.proc, nil
}

// read forwards stdout lines until the process exits or quit is closed.
func (p *process) read(stdout io.Reader) {
	defer close(p.done)
	defer close(p.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		select {
		case p.lines <- scanner.Text():
		case <-p.quit:
			io.Copy(io.Discard, stdout)
			p.err = p.cmd.Wait()
			return
		}
	}
	p.err = p.cmd.Wait()
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) kill() {
	close(p.quit)
	p.stdin.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	<-p.done
}

func writeMessage(w io.Writer, msg inputMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

var (
	// errProcessExited means the CLI died before producing any reply output.
	errProcessExited = errors.New("process exited")
	// errConsumerStopped means the caller stopped iterating.
	errConsumerStopped = errors.New("consumer stopped")
)

// StreamResponse sends text to the CLI and streams the reply. A process that
// has exited is restarted once before the turn fails.
func (g *Generator) StreamResponse(ctx context.Context, text string) iter.Seq2[models.ResponseChunk, error] {
	return func(yield func(models.ResponseChunk, error) bool) {
		g.mu.Lock()
		p := g.proc
		if p == nil {
			g.mu.Unlock()
			yield(models.ResponseChunk{}, backend.ErrNotInitialized)
			return
		}
		if p.exited() {
			if err := g.restartLocked(p); err != nil {
				g.mu.Unlock()
				g.failures.Add(1)
				yield(models.ResponseChunk{}, restartError(err))
				return
			}
			p = g.proc
		}
		abort := make(chan struct{})
		g.abort = abort
		g.mu.Unlock()

		g.requests.Add(1)
		g.streaming.Store(true)
		defer g.streaming.Store(false)

		var asm llm.Assembler
		err := g.converse(ctx, p, abort, text, &asm, yield)
		if errors.Is(err, errProcessExited) {
			if p, err = g.restart(p); err == nil {
				err = g.converse(ctx, p, abort, text, &asm, yield)
			} else if !errors.Is(err, backend.ErrNotInitialized) {
				g.failures.Add(1)
				err = restartError(err)
			}
			if errors.Is(err, errProcessExited) {
				g.failures.Add(1)
				err = backend.NewTransientError(Name, "stream", err)
			}
		}

		g.history.Add("user", text)
		switch {
		case err == nil:
			g.history.Add("assistant", asm.Text())
			yield(asm.Final(), nil)
		case errors.Is(err, errConsumerStopped):
		default:
			yield(models.ResponseChunk{}, err)
		}
	}
}

// converse writes one user message to p and yields reply chunks into asm
// until the reply ends. It returns nil when the reply completed and
// errProcessExited when p died before any output.
func (g *Generator) converse(ctx context.Context, p *process, abort <-chan struct{}, text string,
	asm *llm.Assembler, yield func(models.ResponseChunk, error) bool) error {
	if err := writeMessage(p.stdin, inputMessage{Type: "user", Content: text}); err != nil {
		return fmt.Errorf("%w: write: %v", errProcessExited, err)
	}

	complete := false
	defer func() {
		if !complete {
			g.markStale()
		}
	}()

	timer := time.NewTimer(g.cfg.Timeout)
	defer timer.Stop()

	emitted := false
	emit := func(delta string) bool {
		emitted = true
		return yield(asm.Next(delta), nil)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-abort:
			return backend.ErrStreamAborted
		case <-timer.C:
			g.failures.Add(1)
			return backend.NewTransientError(Name, "stream",
				fmt.Errorf("response timeout after %s", g.cfg.Timeout))
		case line, ok := <-p.lines:
			if !ok {
				complete = true
				if !emitted {
					return fmt.Errorf("%w: %v", errProcessExited, p.err)
				}
				g.failures.Add(1)
				return backend.NewTransientError(Name, "stream",
					fmt.Errorf("process exited: %v", p.err))
			}
			timer.Reset(g.cfg.Timeout)

			var ev streamEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				g.logger.Warn().Str("line", line).Msg("Invalid JSON from Claude")
				continue
			}
			if g.skipStale(ev.Type) {
				continue
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Text == "" {
					continue
				}
				if !emit(ev.Delta.Text) {
					return errConsumerStopped
				}
			case "assistant":
				for _, c := range ev.Message.Content {
					if c.Type != "text" || c.Text == "" {
						continue
					}
					if !emit(c.Text) {
						return errConsumerStopped
					}
				}
			case "message_stop", "result":
				complete = true
				return nil
			case "error":
				complete = true
				g.failures.Add(1)
				g.logger.Error().RawJSON("error", nonEmpty(ev.Error)).Msg("Claude error")
				return backend.NewTransientError(Name, "stream",
					fmt.Errorf("claude error: %s", ev.Error))
			}
		}
	}
}

func nonEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// markStale records that the current response will not be read to its end.
func (g *Generator) markStale() {
	g.mu.Lock()
	g.stale++
	g.mu.Unlock()
}

// skipStale reports whether an event belongs to an abandoned response.
func (g *Generator) skipStale(eventType string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stale == 0 {
		return false
	}
	if eventType == "message_stop" || eventType == "result" || eventType == "error" {
		g.stale--
	}
	g.skipped.Add(1)
	return true
}

// StopStreaming abandons the active response. Its remaining output is
// skipped by the next request.
func (g *Generator) StopStreaming() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.abort != nil {
		close(g.abort)
		g.abort = nil
	}
}

// Stop closes stdin and waits for the CLI to exit, killing it after StopGrace.
func (g *Generator) Stop() error {
	g.StopStreaming()

	g.mu.Lock()
	p := g.proc
	g.proc = nil
	g.mu.Unlock()
	if p == nil {
		return nil
	}

	close(p.quit)
	p.stdin.Close()
	select {
	case <-p.done:
	case <-time.After(g.cfg.StopGrace):
		g.logger.Warn().Msg("Claude did not exit, killing process")
		p.cmd.Process.Kill()
		<-p.done
	}

	var exitErr *exec.ExitError
	if p.err != nil && !errors.As(p.err, &exitErr) {
		return p.err
	}
	g.logger.Info().Msg("Claude subprocess stopped")
	return nil
}

// Status returns a snapshot of backend state.
func (g *Generator) Status() backend.Status {
	g.mu.Lock()
	alive := g.proc != nil && !g.proc.exited()
	g.mu.Unlock()

	return backend.Status{
		"provider":       Name,
		"process_alive":  alive,
		"is_streaming":   g.streaming.Load(),
		"requests":       g.requests.Load(),
		"failures":       g.failures.Load(),
		"skipped_lines":  g.skipped.Load(),
		"restarts":       g.restarts.Load(),
		"history_length": g.history.Len(),
	}
}
