package whisperkit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/service/backend"
)

func tone(n int, amplitude int16) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amplitude
		} else {
			frame[i] = -amplitude
		}
	}
	return frame
}

func TestSegmenter(t *testing.T) {
	tests := []struct {
		name        string
		loudFrames  int
		quietFrames int
		wantLen     int
	}{
		{"utterance ended by silence", 10, 20, 30 * 160},
		{"too short to transcribe", 1, 20, 0},
		{"silence only", 0, 40, 0},
		{"no trailing silence yet", 10, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 10ms frames at 16kHz, 200ms silence, 50ms minimum
			s := newSegmenter(16000, 0.01, 200*time.Millisecond, 50*time.Millisecond, 10*time.Second)

			var got []int16
			for i := 0; i < tt.loudFrames; i++ {
				if out := s.push(tone(160, 8000)); out != nil {
					got = out
				}
			}
			for i := 0; i < tt.quietFrames; i++ {
				if out := s.push(make([]int16, 160)); out != nil {
					got = out
				}
			}

			if len(got) != tt.wantLen {
				t.Errorf("expected utterance of %d samples, got %d", tt.wantLen, len(got))
			}
		})
	}
}

func TestSegmenter_MaxUtterance(t *testing.T) {
	s := newSegmenter(16000, 0.01, time.Second, 10*time.Millisecond, 100*time.Millisecond)

	var flushed int
	for i := 0; i < 25; i++ {
		if out := s.push(tone(160, 8000)); out != nil {
			flushed++
			if len(out) != 1600 {
				t.Errorf("expected 1600 samples, got %d", len(out))
			}
		}
	}
	if flushed != 2 {
		t.Errorf("expected 2 flushes, got %d", flushed)
	}
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello world\n", "hello world"},
		{"\n  hello\n\nworld  \n", "hello world"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseOutput([]byte(tt.in)); got != tt.want {
			t.Errorf("parseOutput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whisperkit-cli")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func testConfig(t *testing.T, path string) Config {
	cfg := DefaultConfig()
	cfg.Path = path
	cfg.TempDir = t.TempDir()
	cfg.SilenceDuration = 100 * time.Millisecond
	cfg.MinUtterance = 50 * time.Millisecond
	return cfg
}

func speak(a *Adapter) {
	for i := 0; i < 10; i++ {
		a.Feed(tone(160, 8000))
	}
	for i := 0; i < 10; i++ {
		a.Feed(make([]int16, 160))
	}
}

func TestAdapter_Transcribes(t *testing.T) {
	a := New(testConfig(t, writeScript(t, `echo "hello world"`)))
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Stop()

	speak(a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got models.Transcript
	for tr, err := range a.StreamTranscripts(ctx) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = tr
		break
	}

	if got.Text != "hello world" {
		t.Errorf("expected 'hello world', got %q", got.Text)
	}
	if !got.IsFinal || !got.IsSpeechStart {
		t.Error("expected final transcript marking speech start")
	}
	if got.Latency == nil {
		t.Error("expected processing latency")
	}
}

func TestAdapter_CLIFailureIsTransient(t *testing.T) {
	a := New(testConfig(t, writeScript(t, `echo "model missing" >&2; exit 1`)))
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Stop()

	speak(a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var streamErr error
	for _, err := range a.StreamTranscripts(ctx) {
		streamErr = err
	}
	if !backend.IsTransient(streamErr) {
		t.Errorf("expected transient error, got %v", streamErr)
	}
}

func TestAdapter_MissingBinary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "does-not-exist")
	a := New(cfg)

	if err := a.Initialize(context.Background()); !backend.IsFatal(err) {
		t.Errorf("expected init error, got %v", err)
	}
}

func TestAdapter_StopEndsStream(t *testing.T) {
	a := New(testConfig(t, writeScript(t, `echo ok`)))
	a.Initialize(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range a.StreamTranscripts(context.Background()) {
		}
	}()

	a.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after Stop")
	}
	if a.Status()["initialized"] != false {
		t.Error("expected backend to be uninitialized")
	}
}
