package audio

import (
	"encoding/binary"
	"math"
)

// FloatToInt16 converts normalized [-1, 1] samples to 16-bit PCM, clamping
// out-of-range values.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * math.MaxInt16
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// Int16ToFloat converts 16-bit PCM to normalized float samples.
func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}

// Int16ToBytes encodes samples as little-endian LINEAR16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian LINEAR16. A trailing odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// RMS returns the root-mean-square energy of normalized samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSInt16 returns the RMS energy of 16-bit PCM normalized to [0, 1].
func RMSInt16(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SamplesPerFrame returns the sample count of a frame of frameMs at sampleRate.
func SamplesPerFrame(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000
}
