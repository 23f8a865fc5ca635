// Package elevenlabs provides an ElevenLabs streaming text-to-speech backend
// with local playback.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/tts"
)

// Name is the provider name of the ElevenLabs backend.
const Name = "elevenlabs"

// DefaultBaseURL is the public ElevenLabs API.
const DefaultBaseURL = "https://api.elevenlabs.io/v1"

// Config holds ElevenLabs configuration.
type Config struct {
	APIKey          string
	BaseURL         string
	VoiceID         string
	ModelID         string
	OutputFormat    string // mp3_<rate>_<kbps> or pcm_<rate>
	Stability       float64
	SimilarityBoost float64
	Style           float64
	Speed           float64
	SpeakerBoost    bool
	ChunkDuration   time.Duration // PCM playback granularity
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		VoiceID:         "pNInz6obpgDQGcFmaJgB",
		ModelID:         "eleven_flash_v2_5",
		OutputFormat:    "mp3_22050_32",
		Stability:       0.5,
		SimilarityBoost: 0.8,
		Speed:           1.0,
		SpeakerBoost:    true,
		ChunkDuration:   200 * time.Millisecond,
	}
}

// parseFormat maps an output format to the playback format and sample rate.
func parseFormat(outputFormat string) (format string, sampleRate int, err error) {
	parts := strings.Split(outputFormat, "_")
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("invalid output format %q", outputFormat)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return "", 0, fmt.Errorf("invalid sample rate in output format %q", outputFormat)
	}
	switch parts[0] {
	case "pcm":
		return tts.FormatPCM16, rate, nil
	case "mp3":
		return tts.FormatMP3, rate, nil
	}
	return "", 0, fmt.Errorf("unsupported output format %q", outputFormat)
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesizer implements tts.Backend. Each sentence is one streaming request.
// PCM output is played in ChunkDuration pieces as it arrives; MP3 output is
// buffered per sentence so the decoder sees whole frames.
type Synthesizer struct {
	cfg    Config
	player tts.Player
	logger zerolog.Logger
	format string
	rate   int

	mu     sync.Mutex
	client *http.Client

	stops      atomic.Int64
	playing    atomic.Bool
	sentences  atomic.Int64
	bytesTotal atomic.Int64
}

// New creates a new ElevenLabs synthesizer playing through player.
func New(cfg Config, player tts.Player) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = 200 * time.Millisecond
	}
	return &Synthesizer{
		cfg:    cfg,
		player: player,
		logger: logging.WithBackend("tts", Name),
	}
}

// Name returns the provider name.
func (s *Synthesizer) Name() string { return Name }

// Initialize validates configuration and prepares the HTTP client.
func (s *Synthesizer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return backend.NewInitError(Name, errors.New("no audio player configured"))
	}
	if s.cfg.APIKey == "" {
		return backend.NewInitError(Name, errors.New("API key is required"))
	}
	format, rate, err := parseFormat(s.cfg.OutputFormat)
	if err != nil {
		return backend.NewInitError(Name, err)
	}
	s.format, s.rate = format, rate
	if s.client == nil {
		s.client = &http.Client{}
	}

	s.logger.Info().
		Str("voice", s.cfg.VoiceID).
		Str("model", s.cfg.ModelID).
		Str("output_format", s.cfg.OutputFormat).
		Msg("ElevenLabs TTS initialized")
	return nil
}

func (s *Synthesizer) newRequest(ctx context.Context, text string) (*http.Request, error) {
	body, err := json.Marshal(speechRequest{
		Text:    text,
		ModelID: s.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       s.cfg.Stability,
			SimilarityBoost: s.cfg.SimilarityBoost,
			Style:           s.cfg.Style,
			UseSpeakerBoost: s.cfg.SpeakerBoost,
			Speed:           s.cfg.Speed,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s",
		strings.TrimRight(s.cfg.BaseURL, "/"), url.PathEscape(s.cfg.VoiceID), url.QueryEscape(s.cfg.OutputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")
	return req, nil
}

// statusError classifies a non-2xx response. Rate limits and server errors
// are worth retrying; anything else is a request the API will keep refusing.
func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return backend.NewTransientError(Name, "synthesize", err)
	}
	return fmt.Errorf("%s synthesize: %w", Name, err)
}

// StreamAudio synthesizes text sentence by sentence.
func (s *Synthesizer) StreamAudio(ctx context.Context, text string) iter.Seq2[models.AudioChunk, error] {
	return func(yield func(models.AudioChunk, error) bool) {
		s.mu.Lock()
		client := s.client
		s.mu.Unlock()
		if client == nil {
			yield(models.AudioChunk{}, backend.ErrNotInitialized)
			return
		}

		sentences := tts.SplitSentences(text)
		first := true
		emit := func(data []byte, final bool) bool {
			chunk := models.AudioChunk{
				Data:     data,
				IsFirst:  first,
				IsFinal:  final,
				Duration: s.duration(data),
				Format:   s.format,
			}
			first = false
			return yield(chunk, nil)
		}

		for i, sentence := range sentences {
			if !s.streamSentence(ctx, client, sentence, i == len(sentences)-1, emit, yield) {
				return
			}
		}
	}
}

// streamSentence requests one sentence and emits its audio. It returns false
// when the stream ended, either by error or because the consumer stopped.
func (s *Synthesizer) streamSentence(ctx context.Context, client *http.Client, sentence string, last bool,
	emit func([]byte, bool) bool, yield func(models.AudioChunk, error) bool) bool {
	fail := func(op string, err error) bool {
		if ctx.Err() != nil {
			yield(models.AudioChunk{}, ctx.Err())
			return false
		}
		if backend.IsTransient(err) {
			yield(models.AudioChunk{}, err)
			return false
		}
		yield(models.AudioChunk{}, backend.NewTransientError(Name, op, err))
		return false
	}

	req, err := s.newRequest(ctx, sentence)
	if err != nil {
		yield(models.AudioChunk{}, err)
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail("request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := statusError(resp)
		if backend.IsTransient(err) {
			return fail("synthesize", err)
		}
		yield(models.AudioChunk{}, err)
		return false
	}
	s.sentences.Add(1)

	if s.format == tts.FormatMP3 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fail("read", err)
		}
		s.bytesTotal.Add(int64(len(data)))
		return emit(data, last)
	}

	// PCM: emit each ChunkDuration piece as soon as it is complete. The
	// final piece of a sentence is held back so IsFinal can be set on it.
	size := s.chunkBytes()
	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			s.bytesTotal.Add(int64(n))
			pending = append(pending, buf[:n]...)
			for len(pending) > size {
				piece := make([]byte, size)
				copy(piece, pending[:size])
				pending = pending[size:]
				if !emit(piece, false) {
					return false
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fail("read", rerr)
		}
	}
	// Drop a trailing half sample.
	pending = pending[:len(pending)&^1]
	if len(pending) == 0 {
		if last {
			return emit(nil, true)
		}
		return true
	}
	return emit(pending, last)
}

func (s *Synthesizer) chunkBytes() int {
	size := int(int64(s.rate)*int64(s.cfg.ChunkDuration)/int64(time.Second)) * 2
	if size <= 0 {
		return 4096
	}
	return size
}

func (s *Synthesizer) duration(data []byte) time.Duration {
	if s.format != tts.FormatPCM16 || s.rate <= 0 {
		return 0
	}
	return time.Duration(int64(len(data)/2) * int64(time.Second) / int64(s.rate))
}

// PlayChunk plays chunk through the configured player.
func (s *Synthesizer) PlayChunk(ctx context.Context, chunk models.AudioChunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}
	stopsBefore := s.stops.Load()
	s.playing.Store(true)
	defer s.playing.Store(false)

	err := s.player.Play(ctx, chunk.Data, chunk.Format, s.rate)
	if s.stops.Load() != stopsBefore {
		return backend.ErrStreamAborted
	}
	if err != nil && ctx.Err() == nil {
		return backend.NewTransientError(Name, "play", fmt.Errorf("play chunk: %w", err))
	}
	return err
}

// StopPlayback cuts off the device immediately.
func (s *Synthesizer) StopPlayback() {
	s.stops.Add(1)
	s.player.Stop()
}

// Stop stops playback and releases idle connections.
func (s *Synthesizer) Stop() error {
	if s.player != nil {
		s.StopPlayback()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
	}
	return nil
}

// Status returns a snapshot of backend state.
func (s *Synthesizer) Status() backend.Status {
	s.mu.Lock()
	initialized := s.client != nil
	s.mu.Unlock()

	return backend.Status{
		"provider":       Name,
		"initialized":    initialized,
		"voice":          s.cfg.VoiceID,
		"model":          s.cfg.ModelID,
		"output_format":  s.cfg.OutputFormat,
		"is_playing":     s.playing.Load(),
		"sentences":      s.sentences.Load(),
		"audio_bytes":    s.bytesTotal.Load(),
		"playback_stops": s.stops.Load(),
	}
}
