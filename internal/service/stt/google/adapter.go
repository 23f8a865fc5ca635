// Package google provides a Google Cloud Speech-to-Text streaming backend.
package google

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/audio"
	"ai-voice-dialogue-service/internal/service/backend"
)

// Name is the provider name of the Google backend.
const Name = "google"

// Config holds Google Speech-to-Text configuration.
type Config struct {
	LanguageCode       string
	SampleRateHz       int32
	InterimResults     bool
	AudioEncoding      string
	Model              string
	CredentialsFile    string        // Empty uses application default credentials
	SpeechStartTimeout time.Duration // Zero leaves the server default
	SpeechEndTimeout   time.Duration
	AudioQueueSize     int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:     "en-US",
		SampleRateHz:     16000,
		InterimResults:   true,
		AudioEncoding:    "LINEAR16",
		SpeechEndTimeout: 800 * time.Millisecond,
		AudioQueueSize:   64,
	}
}

// parseAudioEncoding maps an encoding name to the proto enum, falling back
// to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// recognizeStream is the subset of the gRPC stream the adapter uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type streamOpener func(ctx context.Context) (recognizeStream, error)

// Adapter implements stt.Backend using Google Cloud Speech-to-Text.
// Audio arrives through Feed; each StreamTranscripts call opens one
// streaming recognition session.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	client      *speech.Client
	open        streamOpener
	audio       chan []byte
	cancel      context.CancelFunc
	initialized bool

	framesDropped atomic.Int64
	framesSent    atomic.Int64
	finals        atomic.Int64
}

// New creates a new Google STT backend.
// Credentials come from cfg.CredentialsFile or GOOGLE_APPLICATION_CREDENTIALS.
func New(cfg Config) *Adapter {
	if cfg.AudioQueueSize <= 0 {
		cfg.AudioQueueSize = 64
	}
	return &Adapter{
		cfg:    cfg,
		logger: logging.WithBackend("stt", Name),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return Name }

// Initialize creates the Speech client on first use.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open == nil {
		var opts []option.ClientOption
		if a.cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(a.cfg.CredentialsFile))
		}
		c, err := speech.NewClient(ctx, opts...)
		if err != nil {
			return backend.NewInitError(Name, err)
		}
		a.client = c
		a.open = func(ctx context.Context) (recognizeStream, error) {
			return c.StreamingRecognize(ctx)
		}
	}

	a.audio = make(chan []byte, a.cfg.AudioQueueSize)
	a.initialized = true

	a.logger.Info().
		Str("languageCode", a.cfg.LanguageCode).
		Int32("sampleRateHz", a.cfg.SampleRateHz).
		Msg("Google STT initialized")
	return nil
}

// Feed queues a frame for the active stream, dropping it when the queue is full.
func (a *Adapter) Feed(frame []int16) {
	a.mu.Lock()
	ch := a.audio
	a.mu.Unlock()
	if ch == nil {
		return
	}

	select {
	case ch <- audio.Int16ToBytes(frame):
	default:
		a.framesDropped.Add(1)
	}
}

func (a *Adapter) streamingConfig() *speechpb.StreamingRecognitionConfig {
	cfg := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
			SampleRateHertz:            a.cfg.SampleRateHz,
			LanguageCode:               a.cfg.LanguageCode,
			Model:                      a.cfg.Model,
			EnableAutomaticPunctuation: true,
		},
		InterimResults:            a.cfg.InterimResults,
		EnableVoiceActivityEvents: true,
	}
	if a.cfg.SpeechStartTimeout > 0 || a.cfg.SpeechEndTimeout > 0 {
		timeout := &speechpb.StreamingRecognitionConfig_VoiceActivityTimeout{}
		if a.cfg.SpeechStartTimeout > 0 {
			timeout.SpeechStartTimeout = durationpb.New(a.cfg.SpeechStartTimeout)
		}
		if a.cfg.SpeechEndTimeout > 0 {
			timeout.SpeechEndTimeout = durationpb.New(a.cfg.SpeechEndTimeout)
		}
		cfg.VoiceActivityTimeout = timeout
	}
	return cfg
}

// StreamTranscripts opens a recognition session and yields results until the
// server closes it, ctx is cancelled or Stop is called. Server closures and
// receive failures end the stream with a TransientError.
func (a *Adapter) StreamTranscripts(ctx context.Context) iter.Seq2[models.Transcript, error] {
	return func(yield func(models.Transcript, error) bool) {
		a.mu.Lock()
		if !a.initialized {
			a.mu.Unlock()
			yield(models.Transcript{}, backend.ErrNotInitialized)
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		a.cancel = cancel
		open := a.open
		audioCh := a.audio
		a.mu.Unlock()
		defer cancel()

		stream, err := open(ctx)
		if err != nil {
			yield(models.Transcript{}, backend.NewTransientError(Name, "open stream", err))
			return
		}

		// Send streaming config as the first message
		err = stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
				StreamingConfig: a.streamingConfig(),
			},
		})
		if err != nil {
			yield(models.Transcript{}, backend.NewTransientError(Name, "send config", err))
			return
		}

		go a.sendAudio(ctx, stream, audioCh)

		var speechEndedAt time.Time
		for {
			resp, err := stream.Recv()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					err = errors.New("stream closed by server")
				}
				yield(models.Transcript{}, backend.NewTransientError(Name, "recv", err))
				return
			}

			switch resp.SpeechEventType {
			case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_BEGIN:
				if !yield(models.Transcript{Timestamp: time.Now(), IsSpeechStart: true}, nil) {
					return
				}
			case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_END:
				speechEndedAt = time.Now()
			}

			for _, r := range resp.Results {
				if len(r.Alternatives) == 0 {
					continue
				}
				alt := r.Alternatives[0]
				tr := models.Transcript{
					Text:      alt.Transcript,
					Timestamp: time.Now(),
					IsFinal:   r.IsFinal,
				}
				if r.IsFinal {
					a.finals.Add(1)
					confidence := float64(alt.Confidence)
					tr.Confidence = &confidence
					if !speechEndedAt.IsZero() {
						lag := time.Since(speechEndedAt)
						tr.Latency = &lag
						speechEndedAt = time.Time{}
					}
				}
				if !yield(tr, nil) {
					return
				}
			}
		}
	}
}

func (a *Adapter) sendAudio(ctx context.Context, stream recognizeStream, audioCh <-chan []byte) {
	defer stream.CloseSend()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-audioCh:
			err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: data,
				},
			})
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Warn().Err(err).Msg("Failed to send audio")
				}
				return
			}
			a.framesSent.Add(1)
		}
	}
}

// Stop cancels the active stream and closes the client.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.initialized = false
	a.audio = nil

	if a.client != nil {
		err := a.client.Close()
		a.client = nil
		a.open = nil
		return err
	}
	return nil
}

// Status returns a snapshot of backend state.
func (a *Adapter) Status() backend.Status {
	a.mu.Lock()
	initialized := a.initialized
	a.mu.Unlock()

	return backend.Status{
		"provider":       Name,
		"initialized":    initialized,
		"language":       a.cfg.LanguageCode,
		"frames_sent":    a.framesSent.Load(),
		"frames_dropped": a.framesDropped.Load(),
		"finals":         a.finals.Load(),
	}
}
