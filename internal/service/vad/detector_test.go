package vad

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func sineFrame(n int, amplitude, freq float64, sampleRate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func constFrame(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

var alwaysSpeech = ClassifierFunc(func([]int16, int) (bool, error) { return true, nil })

func TestDetector_SpeechOnsetWithinWindow(t *testing.T) {
	cfg := DefaultConfig()
	d := New(cfg, alwaysSpeech)
	n := cfg.FrameSize()

	for i := 0; i < 40; i++ {
		if d.Process(constFrame(n, 0.001)) {
			t.Fatalf("speech start fired during silence at frame %d", i)
		}
	}

	fired := -1
	lastThreshold := d.Threshold()
	for i := 0; i < 60; i++ {
		if d.Process(sineFrame(n, 0.3, 200, cfg.SampleRate)) && fired < 0 {
			fired = i
		}
		th := d.Threshold()
		if th < lastThreshold {
			t.Fatalf("threshold decreased during speech at frame %d: %v -> %v", i, lastThreshold, th)
		}
		lastThreshold = th
	}

	if fired < 0 || fired >= cfg.SmoothingWindow {
		t.Errorf("speech start fired at frame %d, want within %d frames of onset", fired, cfg.SmoothingWindow)
	}
}

func TestDetector_FiresOnlyOnEdge(t *testing.T) {
	cfg := DefaultConfig()
	d := New(cfg, alwaysSpeech)
	n := cfg.FrameSize()

	for i := 0; i < 40; i++ {
		d.Process(constFrame(n, 0.001))
	}

	starts := 0
	for i := 0; i < 20; i++ {
		if d.Process(sineFrame(n, 0.3, 200, cfg.SampleRate)) {
			starts++
		}
	}
	if starts != 1 {
		t.Errorf("speech starts = %d, want 1", starts)
	}
	if !d.IsActive() {
		t.Error("detector should be active during sustained speech")
	}
}

func TestDetector_EnergyGate(t *testing.T) {
	cfg := DefaultConfig()
	d := New(cfg, alwaysSpeech)
	n := cfg.FrameSize()

	// Classifier says speech but the energy never clears the floor.
	for i := 0; i < 50; i++ {
		if d.Process(constFrame(n, 0.005)) {
			t.Fatal("quiet frames must not activate voice")
		}
	}
}

func TestDetector_ThresholdNeverBelowFloor(t *testing.T) {
	cfg := DefaultConfig()
	d := New(cfg, alwaysSpeech)
	n := cfg.FrameSize()

	for i := 0; i < 100; i++ {
		d.Process(constFrame(n, 0))
	}
	stats := d.Stats()
	if stats.DynamicThreshold != cfg.EnergyFloor {
		t.Errorf("threshold = %v, want floor %v", stats.DynamicThreshold, cfg.EnergyFloor)
	}
	if stats.NoiseFloor != 0 {
		t.Errorf("noise floor = %v, want 0", stats.NoiseFloor)
	}
}

func TestDetector_ClassifierErrorTreatedAsSilence(t *testing.T) {
	cfg := DefaultConfig()
	failing := ClassifierFunc(func([]int16, int) (bool, error) {
		return true, errors.New("bad frame")
	})
	d := New(cfg, failing)
	n := cfg.FrameSize()

	for i := 0; i < 20; i++ {
		if d.Process(sineFrame(n, 0.3, 200, cfg.SampleRate)) {
			t.Fatal("classifier errors must not activate voice")
		}
	}
	if got := d.Stats().ClassifierErrors; got != 20 {
		t.Errorf("ClassifierErrors = %d, want 20", got)
	}
}

func TestDetector_ClassifierErrorLogIsRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	failing := ClassifierFunc(func([]int16, int) (bool, error) {
		return false, ErrInvalidFrame
	})
	d := New(cfg, failing)
	var buf bytes.Buffer
	d.logger = zerolog.New(&buf)
	n := cfg.FrameSize()

	for i := 0; i < 100; i++ {
		d.Process(constFrame(n, 0.1))
	}

	lines := strings.Count(buf.String(), "VAD classifier failed")
	if lines != 1 {
		t.Errorf("logged %d classifier failures in one burst, want 1", lines)
	}
	if got := d.Stats().ClassifierErrors; got != 100 {
		t.Errorf("ClassifierErrors = %d, want 100", got)
	}
}

func TestDetector_ThresholdFollowsRisingNoise(t *testing.T) {
	cfg := DefaultConfig()
	never := ClassifierFunc(func([]int16, int) (bool, error) { return false, nil })
	d := New(cfg, never)
	n := cfg.FrameSize()

	// Background noise rising from just above a third of the floor.
	start := cfg.EnergyFloor/3 + 0.0005
	last := d.Threshold()
	recalcs := 0
	for i := 0; i < 10*cfg.RecalcEvery; i++ {
		d.Process(constFrame(n, float32(start+0.00005*float64(i))))
		if (i+1)%cfg.RecalcEvery != 0 {
			continue
		}
		recalcs++
		th := d.Threshold()
		if th < last {
			t.Fatalf("threshold fell from %v to %v at recalculation %d", last, th, recalcs)
		}
		last = th
	}

	if last <= cfg.EnergyFloor {
		t.Errorf("threshold = %v, want above floor %v once noise has risen", last, cfg.EnergyFloor)
	}
	if nf := d.Stats().NoiseFloor; nf <= start {
		t.Errorf("noise floor = %v, want above starting level %v", nf, start)
	}
}

func TestDetector_IsSilence(t *testing.T) {
	cfg := DefaultConfig()
	d := New(cfg, alwaysSpeech)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	if !d.IsSilence() {
		t.Error("fresh detector should report silence")
	}

	n := cfg.FrameSize()
	for i := 0; i < cfg.SmoothingWindow; i++ {
		d.Process(sineFrame(n, 0.3, 200, cfg.SampleRate))
	}
	if d.IsSilence() {
		t.Error("should not be silent right after voice")
	}

	clock = clock.Add(400 * time.Millisecond)
	if d.IsSilence() {
		t.Error("should not be silent before the timeout")
	}

	clock = clock.Add(200 * time.Millisecond)
	if !d.IsSilence() {
		t.Error("should be silent after the timeout")
	}
	if got := d.Stats().SilenceDuration; got != 600 {
		t.Errorf("SilenceDuration = %v, want 600", got)
	}
}

func TestDetector_Reset(t *testing.T) {
	cfg := DefaultConfig()
	d := New(cfg, alwaysSpeech)
	n := cfg.FrameSize()
	for i := 0; i < 15; i++ {
		d.Process(sineFrame(n, 0.3, 200, cfg.SampleRate))
	}

	d.Reset()
	stats := d.Stats()
	if stats.IsVoiceActive || stats.Frames != 0 || stats.RecentVoiceRatio != 0 {
		t.Errorf("unexpected stats after Reset: %+v", stats)
	}

	// A new onset is reported again after a reset.
	fired := false
	for i := 0; i < 10; i++ {
		fired = d.Process(sineFrame(n, 0.3, 200, cfg.SampleRate)) || fired
	}
	if !fired {
		t.Error("speech start should fire again after Reset")
	}
}

func TestSpectralClassifier(t *testing.T) {
	c := NewSpectralClassifier(3)
	rng := rand.New(rand.NewSource(1))

	noise := make([]int16, 480)
	for i := range noise {
		noise[i] = int16(rng.Intn(20000) - 10000)
	}

	tone := make([]int16, 480)
	for i, v := range sineFrame(480, 0.3, 200, 16000) {
		tone[i] = int16(v * math.MaxInt16)
	}

	tests := []struct {
		name    string
		frame   []int16
		rate    int
		want    bool
		wantErr bool
	}{
		{"tone", tone, 16000, true, false},
		{"silence", make([]int16, 480), 16000, false, false},
		{"white noise", noise, 16000, false, false},
		{"10ms at 8kHz", make([]int16, 80), 8000, false, false},
		{"bad length", make([]int16, 100), 16000, false, true},
		{"bad rate", make([]int16, 441), 44100, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.IsSpeech(tt.frame, tt.rate)
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsSpeech() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("error = %v, want ErrInvalidFrame", err)
			}
			if got != tt.want {
				t.Errorf("IsSpeech() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidFrame(t *testing.T) {
	tests := []struct {
		rate     int
		duration time.Duration
		ok       bool
	}{
		{8000, 10 * time.Millisecond, true},
		{16000, 30 * time.Millisecond, true},
		{32000, 20 * time.Millisecond, true},
		{48000, 30 * time.Millisecond, true},
		{44100, 30 * time.Millisecond, false},
		{22050, 20 * time.Millisecond, false},
		{16000, 25 * time.Millisecond, false},
		{16000, 0, false},
	}
	for _, tt := range tests {
		err := ValidFrame(tt.rate, tt.duration)
		if (err == nil) != tt.ok {
			t.Errorf("ValidFrame(%d, %s) = %v, want ok=%v", tt.rate, tt.duration, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("ValidFrame(%d, %s) = %v, want ErrInvalidFrame", tt.rate, tt.duration, err)
		}
	}
}

func TestNewSpectralClassifier_ClampsAggressiveness(t *testing.T) {
	if c := NewSpectralClassifier(9); c.aggressiveness != 3 {
		t.Errorf("aggressiveness = %d, want 3", c.aggressiveness)
	}
	if c := NewSpectralClassifier(-1); c.aggressiveness != 0 {
		t.Errorf("aggressiveness = %d, want 0", c.aggressiveness)
	}
}
