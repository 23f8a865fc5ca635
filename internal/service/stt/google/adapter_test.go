package google

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/service/backend"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfig_CustomValues(t *testing.T) {
	cfg := Config{
		LanguageCode:   "es-ES",
		SampleRateHz:   16000,
		InterimResults: false,
		AudioEncoding:  "MULAW",
	}

	if cfg.LanguageCode != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != false {
		t.Errorf("expected interim results false, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "MULAW" {
		t.Errorf("expected encoding 'MULAW', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding_CaseSensitive(t *testing.T) {
	// Encoding strings should be uppercase
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"Linear16", speechpb.RecognitionConfig_LINEAR16}, // mixed case -> fallback
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16}, // uppercase -> match
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

// fakeStream implements recognizeStream with scripted responses.
type fakeStream struct {
	mu        sync.Mutex
	sent      []*speechpb.StreamingRecognizeRequest
	responses chan *speechpb.StreamingRecognizeResponse
	closed    bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{responses: make(chan *speechpb.StreamingRecognizeResponse, 8)}
}

func (f *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	resp, ok := <-f.responses
	if !ok {
		return nil, io.EOF
	}
	return resp, nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) getSent() []*speechpb.StreamingRecognizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*speechpb.StreamingRecognizeRequest{}, f.sent...)
}

func newTestAdapter(t *testing.T, stream *fakeStream) *Adapter {
	t.Helper()
	a := New(DefaultConfig())
	a.open = func(ctx context.Context) (recognizeStream, error) {
		return stream, nil
	}
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a
}

func finalResult(text string, confidence float32) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			IsFinal:      true,
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: confidence}},
		}},
	}
}

func TestAdapter_StreamTranscripts(t *testing.T) {
	stream := newFakeStream()
	a := newTestAdapter(t, stream)

	stream.responses <- &speechpb.StreamingRecognizeResponse{
		SpeechEventType: speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_BEGIN,
	}
	stream.responses <- &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hel"}},
		}},
	}
	stream.responses <- &speechpb.StreamingRecognizeResponse{
		SpeechEventType: speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_END,
	}
	stream.responses <- finalResult("hello", 0.9)
	close(stream.responses)

	var got []models.Transcript
	var streamErr error
	for tr, err := range a.StreamTranscripts(context.Background()) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, tr)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 transcripts, got %d", len(got))
	}
	if !got[0].IsSpeechStart || got[0].Text != "" {
		t.Errorf("expected speech start marker, got %+v", got[0])
	}
	if got[1].IsFinal || got[1].Text != "hel" {
		t.Errorf("expected partial 'hel', got %+v", got[1])
	}
	if !got[2].IsFinal || got[2].Text != "hello" {
		t.Errorf("expected final 'hello', got %+v", got[2])
	}
	if got[2].Confidence == nil || *got[2].Confidence < 0.89 {
		t.Error("expected final to carry confidence")
	}
	if got[2].Latency == nil {
		t.Error("expected final after speech end to carry latency")
	}

	// Server closing the stream is retryable
	if !backend.IsTransient(streamErr) {
		t.Errorf("expected transient error on EOF, got %v", streamErr)
	}

	sent := stream.getSent()
	if len(sent) == 0 || sent[0].GetStreamingConfig() == nil {
		t.Fatal("expected streaming config as the first message")
	}
	if !sent[0].GetStreamingConfig().EnableVoiceActivityEvents {
		t.Error("expected voice activity events to be enabled")
	}
}

func TestAdapter_FeedSendsAudio(t *testing.T) {
	stream := newFakeStream()
	a := newTestAdapter(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range a.StreamTranscripts(ctx) {
		}
	}()

	a.Feed([]int16{1, 2, 3})

	deadline := time.Now().Add(2 * time.Second)
	for len(stream.getSent()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	close(stream.responses)
	<-done

	sent := stream.getSent()
	if len(sent) < 2 {
		t.Fatalf("expected config and audio, got %d messages", len(sent))
	}
	if got := len(sent[1].GetAudioContent()); got != 6 {
		t.Errorf("expected 6 bytes of audio, got %d", got)
	}
}

func TestAdapter_StreamBeforeInitialize(t *testing.T) {
	a := New(DefaultConfig())

	for _, err := range a.StreamTranscripts(context.Background()) {
		if err != backend.ErrNotInitialized {
			t.Errorf("expected ErrNotInitialized, got %v", err)
		}
	}
}

func TestAdapter_FeedWithoutStreamDoesNotBlock(t *testing.T) {
	a := New(Config{AudioQueueSize: 1})
	a.open = func(ctx context.Context) (recognizeStream, error) { return newFakeStream(), nil }
	a.Initialize(context.Background())

	for i := 0; i < 10; i++ {
		a.Feed([]int16{1})
	}

	if got := a.Status()["frames_dropped"]; got != int64(9) {
		t.Errorf("expected 9 dropped frames, got %v", got)
	}
}

func TestStreamingConfig_VoiceActivityTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeechStartTimeout = 5 * time.Second
	a := New(cfg)

	sc := a.streamingConfig()
	if sc.VoiceActivityTimeout == nil {
		t.Fatal("expected voice activity timeout")
	}
	if got := sc.VoiceActivityTimeout.SpeechStartTimeout.AsDuration(); got != 5*time.Second {
		t.Errorf("expected 5s start timeout, got %v", got)
	}
	if got := sc.VoiceActivityTimeout.SpeechEndTimeout.AsDuration(); got != 800*time.Millisecond {
		t.Errorf("expected 800ms end timeout, got %v", got)
	}
	if sc.Config.SampleRateHertz != 16000 {
		t.Errorf("expected 16000 Hz, got %d", sc.Config.SampleRateHertz)
	}
}
