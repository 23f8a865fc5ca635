package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-voice-dialogue-service/internal/service/latency"
	"ai-voice-dialogue-service/internal/service/pipeline"
)

type fakePipeline struct {
	running       bool
	interruptions []string
	collector     *latency.Collector
}

func (f *fakePipeline) IsRunning() bool { return f.running }

func (f *fakePipeline) Status() pipeline.Status {
	return pipeline.Status{IsRunning: f.running, SessionID: "session_test"}
}

func (f *fakePipeline) HandleInterruption(source string) bool {
	f.interruptions = append(f.interruptions, source)
	return true
}

func (f *fakePipeline) Collector() *latency.Collector { return f.collector }

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name    string
		running bool
		path    string
		want    int
	}{
		{"liveness stopped", false, "/v1/liveness", http.StatusOK},
		{"readiness running", true, "/v1/readiness", http.StatusOK},
		{"readiness stopped", false, "/v1/readiness", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&fakePipeline{running: tt.running})
			if rec := serve(t, h, http.MethodGet, tt.path); rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestRouter_Status(t *testing.T) {
	h := NewRouter(&fakePipeline{running: true})

	rec := serve(t, h, http.MethodGet, "/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["is_running"] != true || body["session_id"] != "session_test" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["queue_depths"]; !ok {
		t.Error("status should include queue_depths")
	}
}

func TestRouter_MetricsSummary(t *testing.T) {
	collector := latency.NewCollector(nil)
	collector.Start("session_test")
	collector.RecordLatency(latency.StageAI, 120)

	h := NewRouter(&fakePipeline{collector: collector})
	rec := serve(t, h, http.MethodGet, "/v1/metrics/summary")

	var summary latency.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if summary.SessionID != "session_test" || summary.Latency[latency.StageAI].Count != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRouter_Interrupt(t *testing.T) {
	p := &fakePipeline{running: true}
	h := NewRouter(p)

	rec := serve(t, h, http.MethodPost, "/v1/interrupt")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /v1/interrupt = %d, want 202", rec.Code)
	}
	if len(p.interruptions) != 1 || p.interruptions[0] != pipeline.SourceManual {
		t.Errorf("interruptions = %v, want [manual]", p.interruptions)
	}

	p.running = false
	if rec := serve(t, h, http.MethodPost, "/v1/interrupt"); rec.Code != http.StatusConflict {
		t.Errorf("POST /v1/interrupt while stopped = %d, want 409", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/v1/interrupt"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/interrupt = %d, want 405", rec.Code)
	}
}
