package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ai-voice-dialogue-service/internal/service/latency"
	"ai-voice-dialogue-service/internal/service/pipeline"
)

// Pipeline is the part of the orchestrator the HTTP API exposes.
type Pipeline interface {
	IsRunning() bool
	Status() pipeline.Status
	HandleInterruption(source string) bool
	Collector() *latency.Collector
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(p Pipeline) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !p.IsRunning() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, p.Status())
		})
		r.Get("/metrics/summary", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, p.Collector().Summary())
		})
		r.Post("/interrupt", func(w http.ResponseWriter, _ *http.Request) {
			if !p.IsRunning() {
				writeJSON(w, http.StatusConflict, map[string]any{"error": "pipeline is not running"})
				return
			}
			handled := p.HandleInterruption(pipeline.SourceManual)
			writeJSON(w, http.StatusAccepted, map[string]any{"interrupted": handled})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
