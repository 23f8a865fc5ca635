package audio

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sink receives captured samples. It runs on the capture goroutine and must
// not block.
type Sink func(samples []float32)

// Source produces mono float32 audio into a Sink until stopped.
type Source interface {
	Name() string
	Start(ctx context.Context, sink Sink) error
	Stop() error
}

// RingSink returns a Sink that writes into ring and reports overflow at
// most once per second.
func RingSink(ring *RingBuffer, logger zerolog.Logger) Sink {
	warn := rate.Sometimes{Interval: time.Second}
	return func(samples []float32) {
		if n := ring.Write(samples); n < len(samples) {
			warn.Do(func() {
				logger.Warn().
					Int("dropped", len(samples)-n).
					Uint64("droppedTotal", ring.Dropped()).
					Msg("Audio ring buffer overflow, dropping samples")
			})
		}
	}
}
