package whisperkit

import (
	"time"

	"ai-voice-dialogue-service/internal/service/audio"
)

// segmenter groups fed frames into utterances separated by silence.
type segmenter struct {
	threshold      float64
	silenceSamples int
	minSamples     int
	maxSamples     int

	buf     []int16
	voiced  int
	silence int
}

func newSegmenter(sampleRate int, threshold float64, silence, minUtterance, maxUtterance time.Duration) *segmenter {
	samples := func(d time.Duration) int {
		return int(int64(sampleRate) * int64(d) / int64(time.Second))
	}
	return &segmenter{
		threshold:      threshold,
		silenceSamples: samples(silence),
		minSamples:     samples(minUtterance),
		maxSamples:     samples(maxUtterance),
	}
}

// push adds a frame and returns a completed utterance, or nil.
// Leading silence is discarded.
func (s *segmenter) push(frame []int16) []int16 {
	loud := audio.RMSInt16(frame) >= s.threshold
	if !loud && s.voiced == 0 {
		return nil
	}

	s.buf = append(s.buf, frame...)
	if loud {
		s.voiced += len(frame)
		s.silence = 0
	} else {
		s.silence += len(frame)
	}

	if s.silence >= s.silenceSamples || len(s.buf) >= s.maxSamples {
		return s.flush()
	}
	return nil
}

// flush returns the buffered utterance if it holds enough speech.
func (s *segmenter) flush() []int16 {
	out := s.buf
	voiced := s.voiced
	s.buf = nil
	s.voiced = 0
	s.silence = 0
	if voiced < s.minSamples {
		return nil
	}
	return out
}

func (s *segmenter) reset() {
	s.buf = nil
	s.voiced = 0
	s.silence = 0
}
