package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/observability/logging"
)

// ErrPlaybackStopped is returned by Play when Stop cut the chunk short.
var ErrPlaybackStopped = errors.New("playback stopped")

// formatMP3 selects MP3 decoding in Play; anything else is 16-bit
// little-endian mono PCM.
const formatMP3 = "mp3"

// Speaker plays synthesized audio on the default output device.
type Speaker struct {
	rate       beep.SampleRate
	bufferSize time.Duration
	logger     zerolog.Logger

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool

	mu        sync.Mutex
	interrupt chan struct{}
}

// NewSpeaker creates a speaker running the device at sampleRate.
func NewSpeaker(sampleRate int, bufferSize time.Duration) *Speaker {
	return &Speaker{
		rate:       beep.SampleRate(sampleRate),
		bufferSize: bufferSize,
		logger:     logging.WithComponent("speaker"),
		interrupt:  make(chan struct{}),
	}
}

func (s *Speaker) init() error {
	s.initOnce.Do(func() {
		s.initErr = speaker.Init(s.rate, s.rate.N(s.bufferSize))
		if s.initErr == nil {
			s.ready.Store(true)
			s.logger.Info().
				Int("sampleRate", int(s.rate)).
				Dur("bufferSize", s.bufferSize).
				Msg("Speaker initialized")
		}
	})
	return s.initErr
}

// Play blocks until data has been played, Stop is called or ctx is done.
func (s *Speaker) Play(ctx context.Context, data []byte, format string, sampleRate int) error {
	if err := s.init(); err != nil {
		return err
	}

	s.mu.Lock()
	interrupt := s.interrupt
	s.mu.Unlock()

	var streamer beep.Streamer = &pcmStreamer{data: data}
	if format == formatMP3 {
		decoded, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return fmt.Errorf("decode mp3: %w", err)
		}
		defer decoded.Close()
		streamer = decoded
		sampleRate = int(f.SampleRate)
	}
	if src := beep.SampleRate(sampleRate); src != s.rate {
		streamer = beep.Resample(4, src, s.rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-interrupt:
		return ErrPlaybackStopped
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Stop discards everything queued on the device and releases blocked Play calls.
func (s *Speaker) Stop() {
	s.mu.Lock()
	close(s.interrupt)
	s.interrupt = make(chan struct{})
	s.mu.Unlock()

	if s.ready.Load() {
		speaker.Clear()
	}
}

// Close releases the output device.
func (s *Speaker) Close() {
	if s.ready.Load() {
		speaker.Close()
	}
}

// pcmStreamer adapts raw 16-bit mono PCM to a beep.Streamer.
type pcmStreamer struct {
	data []byte
	pos  int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) && p.pos+1 < len(p.data) {
		v := float64(int16(binary.LittleEndian.Uint16(p.data[p.pos:]))) / 32768
		samples[n][0] = v
		samples[n][1] = v
		p.pos += 2
		n++
	}
	return n, n > 0
}

func (p *pcmStreamer) Err() error { return nil }
