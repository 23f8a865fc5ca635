package vad

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// ErrInvalidFrame is returned by a Classifier for frames it cannot judge.
var ErrInvalidFrame = errors.New("invalid audio frame")

// Classifier makes the per-frame speech/non-speech decision that the
// Detector combines with its energy gate.
type Classifier interface {
	IsSpeech(frame []int16, sampleRate int) (bool, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(frame []int16, sampleRate int) (bool, error)

// IsSpeech calls f.
func (f ClassifierFunc) IsSpeech(frame []int16, sampleRate int) (bool, error) {
	return f(frame, sampleRate)
}

var (
	sampleRates    = []int{8000, 16000, 32000, 48000}
	frameDurations = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
)

// Per-aggressiveness limits, index 0 (permissive) to 3 (strict).
var (
	minEnergy = [4]float64{0.002, 0.004, 0.008, 0.015}
	maxZCR    = [4]float64{0.50, 0.45, 0.40, 0.35}
)

// SpectralClassifier accepts 10, 20 or 30 ms frames at 8, 16, 32 or 48 kHz
// and labels a frame as speech when its energy is high enough and its
// zero-crossing rate is below the noise-like range.
type SpectralClassifier struct {
	aggressiveness int
}

// NewSpectralClassifier creates a classifier. Aggressiveness is clamped to 0..3.
func NewSpectralClassifier(aggressiveness int) *SpectralClassifier {
	return &SpectralClassifier{aggressiveness: max(0, min(3, aggressiveness))}
}

// IsSpeech classifies one frame.
func (c *SpectralClassifier) IsSpeech(frame []int16, sampleRate int) (bool, error) {
	if err := validFrame(len(frame), sampleRate); err != nil {
		return false, err
	}

	var sum float64
	crossings := 0
	for i, s := range frame {
		v := float64(s) / math.MaxInt16
		sum += v * v
		if i > 0 && (frame[i-1] >= 0) != (s >= 0) {
			crossings++
		}
	}
	energy := math.Sqrt(sum / float64(len(frame)))
	zcr := float64(crossings) / float64(len(frame))

	return energy >= minEnergy[c.aggressiveness] && zcr <= maxZCR[c.aggressiveness], nil
}

// ValidFrame reports whether frames of frameDuration at sampleRate can be
// classified. Errors wrap ErrInvalidFrame.
func ValidFrame(sampleRate int, frameDuration time.Duration) error {
	if !slices.Contains(sampleRates, sampleRate) {
		return fmt.Errorf("%w: unsupported sample rate %d (want 8000, 16000, 32000 or 48000)", ErrInvalidFrame, sampleRate)
	}
	if !slices.Contains(frameDurations, frameDuration) {
		return fmt.Errorf("%w: unsupported frame duration %s (want 10ms, 20ms or 30ms)", ErrInvalidFrame, frameDuration)
	}
	return nil
}

func validFrame(n, sampleRate int) error {
	if !slices.Contains(sampleRates, sampleRate) {
		return fmt.Errorf("%w: unsupported sample rate %d", ErrInvalidFrame, sampleRate)
	}
	for _, d := range frameDurations {
		if n == sampleRate*int(d/time.Millisecond)/1000 {
			return nil
		}
	}
	return fmt.Errorf("%w: %d samples is not a 10/20/30 ms frame at %d Hz", ErrInvalidFrame, n, sampleRate)
}
