package audio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestParseWAVHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, make([]int16, 160), 8000, 1); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	f, err := ParseWAVHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ParseWAVHeader() error = %v", err)
	}
	if f.SampleRate != 8000 || f.Channels != 1 || f.BitsPerSample != 16 {
		t.Errorf("unexpected format: %+v", f)
	}
	if buf.Len() != WAVHeaderSize+320 {
		t.Errorf("file size = %d, want %d", buf.Len(), WAVHeaderSize+320)
	}
}

func TestParseWAVHeader_Invalid(t *testing.T) {
	data := bytes.Repeat([]byte{0}, WAVHeaderSize)
	if _, err := ParseWAVHeader(bytes.NewReader(data)); !errors.Is(err, ErrNotWAV) {
		t.Errorf("error = %v, want ErrNotWAV", err)
	}
	if _, err := ParseWAVHeader(bytes.NewReader([]byte("RIFF"))); err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestStripWAVHeader(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteWAV(&buf, []int16{1, 2, 3}, 24000, 1)
	if got := StripWAVHeader(buf.Bytes()); len(got) != 6 {
		t.Errorf("len = %d, want 6", len(got))
	}

	raw := []byte{1, 2, 3, 4}
	if got := StripWAVHeader(raw); !bytes.Equal(got, raw) {
		t.Error("raw PCM should be returned unchanged")
	}
}

func TestWAVSource_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	// 250ms at 8kHz: two full 100ms chunks and one partial.
	if err := WriteWAV(f, make([]int16, 2000), 8000, 1); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var mu sync.Mutex
	received := 0
	src := NewWAVSource(path, false)
	if err := src.Start(context.Background(), func(s []float32) {
		mu.Lock()
		received += len(s)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := received
		mu.Unlock()
		if n == 2000 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received != 2000 {
		t.Errorf("received %d samples, want 2000", received)
	}
}

func TestWAVSource_MissingFile(t *testing.T) {
	src := NewWAVSource(filepath.Join(t.TempDir(), "missing.wav"), false)
	if err := src.Start(context.Background(), func([]float32) {}); err == nil {
		t.Error("expected error for missing file")
	}
}
