package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-voice-dialogue-service/internal/observability/metrics"
)

func TestMux_Endpoints(t *testing.T) {
	metrics.DefaultMetrics.SetRunning(true)

	ready := false
	mux := newMux(func() bool { return ready })

	tests := []struct {
		name  string
		path  string
		ready bool
		want  int
	}{
		{"healthz", "/healthz", false, http.StatusOK},
		{"readyz not ready", "/readyz", false, http.StatusServiceUnavailable},
		{"readyz ready", "/readyz", true, http.StatusOK},
		{"metrics", "/metrics", false, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready = tt.ready
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestMux_MetricsExposition(t *testing.T) {
	metrics.DefaultMetrics.SetRunning(true)

	rec := httptest.NewRecorder()
	newMux(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "ai_voice_dialogue_pipeline_running") {
		t.Error("metrics output should include the pipeline running gauge")
	}
}
