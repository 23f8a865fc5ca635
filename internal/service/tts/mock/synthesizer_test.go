package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/service/backend"
)

func collect(s *Synthesizer, text string) ([]models.AudioChunk, error) {
	var chunks []models.AudioChunk
	for chunk, err := range s.StreamAudio(context.Background(), text) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestSynthesizer_ChunkPerSentence(t *testing.T) {
	s := New(Config{SampleRate: 16000, SentenceLength: 100 * time.Millisecond})
	s.Initialize(context.Background())

	tests := []struct {
		text string
		want int
	}{
		{"hi there", 1},
		{"Hello. How are you? Fine.", 3},
		{"", 0},
	}
	for _, tt := range tests {
		chunks, err := collect(s, tt.text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(chunks) != tt.want {
			t.Errorf("%q: expected %d chunks, got %d", tt.text, tt.want, len(chunks))
			continue
		}
		if tt.want == 0 {
			continue
		}
		if !chunks[0].IsFirst || !chunks[len(chunks)-1].IsFinal {
			t.Errorf("%q: expected first and final markers", tt.text)
		}
		if got := len(chunks[0].Data); got != 3200 {
			t.Errorf("expected 3200 bytes for 100ms, got %d", got)
		}
	}
}

func TestSynthesizer_PlayChunk(t *testing.T) {
	s := New(DefaultConfig())
	s.Initialize(context.Background())

	chunk := models.AudioChunk{Duration: 10 * time.Millisecond}
	if err := s.PlayChunk(context.Background(), chunk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Played()) != 1 {
		t.Errorf("expected 1 played chunk, got %d", len(s.Played()))
	}
}

func TestSynthesizer_StopPlayback(t *testing.T) {
	s := New(DefaultConfig())
	s.Initialize(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.StopPlayback()
	}()

	start := time.Now()
	err := s.PlayChunk(context.Background(), models.AudioChunk{Duration: 5 * time.Second})
	if !errors.Is(err, backend.ErrStreamAborted) {
		t.Fatalf("expected ErrStreamAborted, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("expected playback to stop promptly")
	}
	if len(s.Played()) != 0 {
		t.Error("expected interrupted chunk to not count as played")
	}

	// Later playback is unaffected
	if err := s.PlayChunk(context.Background(), models.AudioChunk{Duration: time.Millisecond}); err != nil {
		t.Errorf("unexpected error after stop: %v", err)
	}
}

func TestSynthesizer_FailNext(t *testing.T) {
	s := New(DefaultConfig())
	s.Initialize(context.Background())
	s.FailNext(backend.NewTransientError(Name, "synthesize", errors.New("boom")))

	if _, err := collect(s, "hello"); !backend.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestSynthesizer_NotInitialized(t *testing.T) {
	s := New(DefaultConfig())
	if _, err := collect(s, "hello"); !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}
