// Package device captures and plays audio on local hardware.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/audio"
)

// Microphone captures mono 16-bit audio from the default input device.
type Microphone struct {
	sampleRate      int
	framesPerBuffer int
	logger          zerolog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMicrophone creates a microphone source. framesPerBuffer is the number
// of samples delivered per read.
func NewMicrophone(sampleRate, framesPerBuffer int) *Microphone {
	return &Microphone{
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		logger:          logging.WithComponent("microphone"),
	}
}

// Name returns the source name.
func (m *Microphone) Name() string { return "microphone" }

// Start opens the default input stream and delivers samples to sink until
// ctx is cancelled or Stop is called.
func (m *Microphone) Start(ctx context.Context, sink audio.Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return fmt.Errorf("microphone already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	buf := make([]int16, m.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.stream = stream
	m.cancel = cancel
	m.done = make(chan struct{})

	m.logger.Info().
		Int("sampleRate", m.sampleRate).
		Int("framesPerBuffer", m.framesPerBuffer).
		Msg("Microphone capture started")

	go m.capture(ctx, stream, buf, sink, m.done)
	return nil
}

func (m *Microphone) capture(ctx context.Context, stream *portaudio.Stream, buf []int16, sink audio.Sink, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := stream.Read(); err != nil {
			// Input overflow is reported as an error but the stream stays usable.
			if err == portaudio.InputOverflowed {
				continue
			}
			if ctx.Err() == nil {
				m.logger.Error().Err(err).Msg("Microphone read failed")
			}
			return
		}
		sink(audio.Int16ToFloat(buf))
	}
}

// Stop halts capture and releases the device.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}

	m.cancel()
	err := m.stream.Stop()
	<-m.done
	if cerr := m.stream.Close(); err == nil {
		err = cerr
	}
	m.stream = nil
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}

	m.logger.Info().Msg("Microphone capture stopped")
	return err
}
