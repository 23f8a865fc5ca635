// Package vad implements voice activity detection used to detect barge-in.
package vad

import (
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/service/audio"
)

// Config holds detector tuning.
type Config struct {
	SampleRate     int
	FrameDuration  time.Duration
	Aggressiveness int
	// ActivationRatio is the fraction of speech verdicts in the smoothing
	// window needed to call voice active.
	ActivationRatio float64
	SilenceTimeout  time.Duration
	// EnergyFloor is the lowest value the dynamic threshold can take.
	EnergyFloor     float64
	NoiseMultiplier float64
	EnergyWindow    int
	SmoothingWindow int
	RecalcEvery     int
}

// DefaultConfig returns the standard 16 kHz / 30 ms configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		FrameDuration:   30 * time.Millisecond,
		Aggressiveness:  3,
		ActivationRatio: 0.7,
		SilenceTimeout:  500 * time.Millisecond,
		EnergyFloor:     0.01,
		NoiseMultiplier: 3.0,
		EnergyWindow:    50,
		SmoothingWindow: 10,
		RecalcEvery:     20,
	}
}

// FrameSize returns the number of samples per frame.
func (c Config) FrameSize() int {
	return audio.SamplesPerFrame(c.SampleRate, int(c.FrameDuration/time.Millisecond))
}

// minEnergies is how many energy samples are needed before the threshold adapts.
const minEnergies = 10

// Stats is a point-in-time view of detector state.
type Stats struct {
	IsVoiceActive    bool      `json:"is_voice_active"`
	LastVoiceAt      time.Time `json:"last_voice_time"`
	SilenceDuration  float64   `json:"silence_duration_ms"`
	IsSilence        bool      `json:"is_silence"`
	NoiseFloor       float64   `json:"noise_floor"`
	DynamicThreshold float64   `json:"dynamic_threshold"`
	RecentVoiceRatio float64   `json:"recent_voice_ratio"`
	Frames           uint64    `json:"frames"`
	ClassifierErrors uint64    `json:"classifier_errors"`
}

// Detector classifies fixed-size frames and reports the onset of speech.
// It is safe for concurrent use, though frames are expected from a single
// goroutine.
type Detector struct {
	cfg        Config
	classifier Classifier
	logger     zerolog.Logger
	now        func() time.Time
	errLog     rate.Sometimes

	mu         sync.Mutex
	energies   []float64
	verdicts   []bool
	frames     uint64
	errors     uint64
	noiseFloor float64
	threshold  float64
	active     bool
	lastVoice  time.Time
}

// New creates a detector. A nil classifier selects the SpectralClassifier.
func New(cfg Config, classifier Classifier) *Detector {
	if classifier == nil {
		classifier = NewSpectralClassifier(cfg.Aggressiveness)
	}
	return &Detector{
		cfg:        cfg,
		classifier: classifier,
		logger:     logging.WithComponent("vad"),
		now:        time.Now,
		errLog:     rate.Sometimes{Interval: time.Second},
		energies:   make([]float64, 0, cfg.EnergyWindow),
		verdicts:   make([]bool, 0, cfg.SmoothingWindow),
		threshold:  cfg.EnergyFloor,
	}
}

// Process classifies one frame of normalized samples and returns true only
// on the transition from inactive to active voice.
func (d *Detector) Process(frame []float32) bool {
	energy := audio.RMS(frame)
	pcm := audio.FloatToInt16(frame)
	isSpeech, err := d.classifier.IsSpeech(pcm, d.cfg.SampleRate)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.frames++
	d.energies = pushWindow(d.energies, energy, d.cfg.EnergyWindow)
	if d.cfg.RecalcEvery > 0 && d.frames%uint64(d.cfg.RecalcEvery) == 0 {
		d.updateThreshold()
	}

	if err != nil {
		d.errors++
		errorsTotal := d.errors
		// A misconfigured frame size fails every frame; log once a second.
		d.errLog.Do(func() {
			d.logger.Error().
				Err(err).
				Int("samples", len(frame)).
				Uint64("errorsTotal", errorsTotal).
				Msg("VAD classifier failed, treating frame as silence")
		})
		isSpeech = false
	}

	voiced := isSpeech && energy > d.threshold
	d.verdicts = pushWindow(d.verdicts, voiced, d.cfg.SmoothingWindow)
	if len(d.verdicts) < d.cfg.SmoothingWindow {
		return false
	}

	wasActive := d.active
	d.active = d.ratioLocked() >= d.cfg.ActivationRatio
	if d.active {
		d.lastVoice = d.now()
	}

	if !wasActive && d.active {
		d.logger.Debug().
			Float64("energy", energy).
			Float64("threshold", d.threshold).
			Msg("Voice activity started")
		return true
	}
	return false
}

// updateThreshold recomputes the noise floor as the mean of the lowest
// quartile of recent energies.
func (d *Detector) updateThreshold() {
	if len(d.energies) < minEnergies {
		return
	}
	sorted := slices.Clone(d.energies)
	slices.Sort(sorted)
	quartile := sorted[:len(sorted)/4]

	var sum float64
	for _, e := range quartile {
		sum += e
	}
	d.noiseFloor = sum / float64(len(quartile))
	d.threshold = max(d.noiseFloor*d.cfg.NoiseMultiplier, d.cfg.EnergyFloor)

	d.logger.Debug().
		Float64("noiseFloor", d.noiseFloor).
		Float64("threshold", d.threshold).
		Msg("Updated audio thresholds")
}

func (d *Detector) ratioLocked() float64 {
	if len(d.verdicts) == 0 {
		return 0
	}
	voiced := 0
	for _, v := range d.verdicts {
		if v {
			voiced++
		}
	}
	return float64(voiced) / float64(len(d.verdicts))
}

// IsActive reports whether voice is currently active.
func (d *Detector) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Threshold returns the current dynamic energy threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// IsSilence reports whether no voice has been seen for SilenceTimeout.
func (d *Detector) IsSilence() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isSilenceLocked()
}

func (d *Detector) isSilenceLocked() bool {
	if d.lastVoice.IsZero() {
		return true
	}
	return d.now().Sub(d.lastVoice) > d.cfg.SilenceTimeout
}

// Stats returns a snapshot of detector state.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{
		IsVoiceActive:    d.active,
		LastVoiceAt:      d.lastVoice,
		IsSilence:        d.isSilenceLocked(),
		NoiseFloor:       d.noiseFloor,
		DynamicThreshold: d.threshold,
		RecentVoiceRatio: d.ratioLocked(),
		Frames:           d.frames,
		ClassifierErrors: d.errors,
	}
	if !d.lastVoice.IsZero() {
		s.SilenceDuration = float64(d.now().Sub(d.lastVoice)) / float64(time.Millisecond)
	}
	return s
}

// Reset clears all windows and returns the detector to its initial state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.energies = d.energies[:0]
	d.verdicts = d.verdicts[:0]
	d.frames = 0
	d.noiseFloor = 0
	d.threshold = d.cfg.EnergyFloor
	d.active = false
	d.lastVoice = time.Time{}
}

func pushWindow[T any](window []T, v T, size int) []T {
	if size <= 0 {
		return window[:0]
	}
	if len(window) >= size {
		copy(window, window[1:])
		window = window[:size-1]
	}
	return append(window, v)
}
