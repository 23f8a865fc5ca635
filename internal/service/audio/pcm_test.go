package audio

import (
	"math"
	"testing"
)

func TestFloatToInt16_Clamps(t *testing.T) {
	out := FloatToInt16([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, math.MaxInt16, -math.MaxInt16, math.MaxInt16, math.MinInt16, 16383}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestBytesToInt16_IgnoresOddByte(t *testing.T) {
	samples := BytesToInt16([]byte{0x01, 0x00, 0xff, 0xff, 0x07})
	if len(samples) != 2 {
		t.Fatalf("len = %d, want 2", len(samples))
	}
	if samples[0] != 1 || samples[1] != -1 {
		t.Errorf("samples = %v, want [1 -1]", samples)
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []float32{0, 0, 0, 0}, 0},
		{"constant", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.samples); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSamplesPerFrame(t *testing.T) {
	if got := SamplesPerFrame(16000, 30); got != 480 {
		t.Errorf("SamplesPerFrame(16000, 30) = %d, want 480", got)
	}
}
