// Package google provides a Google Cloud Text-to-Speech backend with local
// playback.
package google

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/audio"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/tts"
)

// Name is the provider name of the Google backend.
const Name = "google"

// Config holds Google Text-to-Speech configuration.
type Config struct {
	LanguageCode    string
	VoiceName       string
	AudioEncoding   string // LINEAR16 or MP3
	SampleRateHz    int32
	SpeakingRate    float64
	Pitch           float64
	ChunkDuration   time.Duration // PCM playback granularity
	CredentialsFile string        // Empty uses application default credentials
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		VoiceName:     "en-US-Casual-K",
		AudioEncoding: "LINEAR16",
		SampleRateHz:  24000,
		SpeakingRate:  1.0,
		ChunkDuration: 200 * time.Millisecond,
	}
}

type synthesizeFunc func(ctx context.Context, req *ttspb.SynthesizeSpeechRequest) (*ttspb.SynthesizeSpeechResponse, error)

// Synthesizer implements tts.Backend. Text is synthesized one sentence at a
// time and PCM audio is cut into short chunks so playback can stop quickly.
type Synthesizer struct {
	cfg    Config
	player tts.Player
	logger zerolog.Logger

	mu         sync.Mutex
	client     *texttospeech.Client
	synthesize synthesizeFunc

	stops      atomic.Int64
	playing    atomic.Bool
	sentences  atomic.Int64
	bytesTotal atomic.Int64
}

// New creates a new Google synthesizer playing through player.
func New(cfg Config, player tts.Player) *Synthesizer {
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

// Initialize creates the Text-to-Speech client on first use.
func (s *Synthesizer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return backend.NewInitError(Name, errors.New("no audio player configured"))
	}
	if s.synthesize != nil {
		return nil
	}

	var opts []option.ClientOption
	if s.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(s.cfg.CredentialsFile))
	}
	c, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return backend.NewInitError(Name, err)
	}
	s.client = c
	s.synthesize = func(ctx context.Context, req *ttspb.SynthesizeSpeechRequest) (*ttspb.SynthesizeSpeechResponse, error) {
		return c.SynthesizeSpeech(ctx, req)
	}

	s.logger.Info().
		Str("voice", s.cfg.VoiceName).
		Str("encoding", s.cfg.AudioEncoding).
		Msg("Google TTS initialized")
	return nil
}

func (s *Synthesizer) encoding() (ttspb.AudioEncoding, string) {
	if s.cfg.AudioEncoding == "MP3" {
		return ttspb.AudioEncoding_MP3, tts.FormatMP3
	}
	return ttspb.AudioEncoding_LINEAR16, tts.FormatPCM16
}

func (s *Synthesizer) request(text string) *ttspb.SynthesizeSpeechRequest {
	enc, _ := s.encoding()
	return &ttspb.SynthesizeSpeechRequest{
		Input: &ttspb.SynthesisInput{
			InputSource: &ttspb.SynthesisInput_Text{Text: text},
		},
		Voice: &ttspb.VoiceSelectionParams{
			LanguageCode: s.cfg.LanguageCode,
			Name:         s.cfg.VoiceName,
		},
		AudioConfig: &ttspb.AudioConfig{
			AudioEncoding:   enc,
			SampleRateHertz: s.cfg.SampleRateHz,
			SpeakingRate:    s.cfg.SpeakingRate,
			Pitch:           s.cfg.Pitch,
		},
	}
}

// StreamAudio synthesizes text sentence by sentence.
func (s *Synthesizer) StreamAudio(ctx context.Context, text string) iter.Seq2[models.AudioChunk, error] {
	return func(yield func(models.AudioChunk, error) bool) {
		s.mu.Lock()
		synthesize := s.synthesize
		s.mu.Unlock()
		if synthesize == nil {
			yield(models.AudioChunk{}, backend.ErrNotInitialized)
			return
		}

		_, format := s.encoding()
		sentences := tts.SplitSentences(text)
		first := true
		for i, sentence := range sentences {
			resp, err := synthesize(ctx, s.request(sentence))
			if err != nil {
				if ctx.Err() != nil {
					yield(models.AudioChunk{}, ctx.Err())
					return
				}
				yield(models.AudioChunk{}, backend.NewTransientError(Name, "synthesize", err))
				return
			}
			s.sentences.Add(1)
			s.bytesTotal.Add(int64(len(resp.AudioContent)))

			pieces := [][]byte{resp.AudioContent}
			if format == tts.FormatPCM16 {
				pieces = s.split(audio.StripWAVHeader(resp.AudioContent))
			}
			lastSentence := i == len(sentences)-1
			for j, data := range pieces {
				chunk := models.AudioChunk{
					Data:     data,
					IsFirst:  first,
					IsFinal:  lastSentence && j == len(pieces)-1,
					Duration: s.duration(data, format),
					Format:   format,
				}
				first = false
				if !yield(chunk, nil) {
					return
				}
			}
		}
	}
}

// split cuts PCM into ChunkDuration pieces on sample boundaries.
func (s *Synthesizer) split(pcm []byte) [][]byte {
	size := int(int64(s.cfg.SampleRateHz)*int64(s.cfg.ChunkDuration)/int64(time.Second)) * 2
	if size <= 0 || len(pcm) <= size {
		return [][]byte{pcm}
	}
	var out [][]byte
	for len(pcm) > 0 {
		n := min(size, len(pcm))
		out = append(out, pcm[:n])
		pcm = pcm[n:]
	}
	return out
}

func (s *Synthesizer) duration(data []byte, format string) time.Duration {
	if format != tts.FormatPCM16 || s.cfg.SampleRateHz <= 0 {
		return 0
	}
	samples := int64(len(data) / 2)
	return time.Duration(samples * int64(time.Second) / int64(s.cfg.SampleRateHz))
}

// PlayChunk plays chunk through the configured player.
func (s *Synthesizer) PlayChunk(ctx context.Context, chunk models.AudioChunk) error {
	stopsBefore := s.stops.Load()
	s.playing.Store(true)
	defer s.playing.Store(false)

	err := s.player.Play(ctx, chunk.Data, chunk.Format, int(s.cfg.SampleRateHz))
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

// Stop stops playback and closes the client.
func (s *Synthesizer) Stop() error {
	if s.player != nil {
		s.StopPlayback()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.synthesize = nil
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

// Status returns a snapshot of backend state.
func (s *Synthesizer) Status() backend.Status {
	s.mu.Lock()
	initialized := s.synthesize != nil
	s.mu.Unlock()

	return backend.Status{
		"provider":       Name,
		"initialized":    initialized,
		"voice":          s.cfg.VoiceName,
		"encoding":       s.cfg.AudioEncoding,
		"is_playing":     s.playing.Load(),
		"sentences":      s.sentences.Load(),
		"audio_bytes":    s.bytesTotal.Load(),
		"playback_stops": s.stops.Load(),
	}
}
