package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/observability/logging"
)

// DefaultChunkInterval is how much audio the WAV source delivers per tick.
const DefaultChunkInterval = 100 * time.Millisecond

// WAVSource replays a 16-bit mono PCM WAV file in real time, standing in
// for a microphone.
type WAVSource struct {
	path     string
	interval time.Duration
	loop     bool
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWAVSource creates a replay source for path. When loop is set the file
// restarts after reaching the end.
func NewWAVSource(path string, loop bool) *WAVSource {
	return &WAVSource{
		path:     path,
		interval: DefaultChunkInterval,
		loop:     loop,
		logger:   logging.WithComponent("wav-source"),
	}
}

// Name returns the source name.
func (w *WAVSource) Name() string { return "wav" }

// Start validates the file and begins paced delivery to sink.
func (w *WAVSource) Start(ctx context.Context, sink Sink) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("wav source already started")
	}

	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	format, err := ParseWAVHeader(f)
	if err != nil {
		f.Close()
		return err
	}
	if format.Channels != 1 {
		f.Close()
		return fmt.Errorf("unsupported channel count %d: only mono is supported", format.Channels)
	}

	w.logger.Info().
		Str("path", w.path).
		Uint32("sampleRate", format.SampleRate).
		Msg("Replaying WAV file")

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.replay(ctx, f, int(format.SampleRate), sink, w.done)
	return nil
}

func (w *WAVSource) replay(ctx context.Context, f *os.File, sampleRate int, sink Sink, done chan struct{}) {
	defer close(done)
	defer f.Close()

	chunkBytes := sampleRate * int(w.interval/time.Millisecond) / 1000 * 2
	chunk := make([]byte, chunkBytes)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(f, chunk)
		if n > 0 {
			sink(Int16ToFloat(BytesToInt16(chunk[:n])))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if !w.loop {
				w.logger.Info().Msg("WAV replay finished")
				return
			}
			if _, err := f.Seek(WAVHeaderSize, io.SeekStart); err != nil {
				w.logger.Error().Err(err).Msg("Failed to rewind WAV file")
				return
			}
		} else if err != nil {
			w.logger.Error().Err(err).Msg("Failed to read WAV file")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop halts replay.
func (w *WAVSource) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	return nil
}
