// Package grpcapi exposes the pipeline's health over the standard gRPC
// health protocol.
package grpcapi

import (
	"context"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-voice-dialogue-service/internal/observability"
	"ai-voice-dialogue-service/internal/observability/metrics"
)

// ServiceName is the health service name reported for the dialogue pipeline.
const ServiceName = "ai.voice.dialogue.Pipeline"

// Server serves gRPC health checks for the pipeline.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer builds a gRPC server with the health service and reflection
// registered. The pipeline starts out NOT_SERVING.
func NewServer(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{grpc: g, health: hs}
	s.SetServing(false)
	return s
}

// SetServing updates the serving status of the pipeline service and the
// overall server.
func (s *Server) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Track marks the pipeline serving and flips it to NOT_SERVING once done is
// closed. It returns when done closes or ctx is cancelled.
func (s *Server) Track(ctx context.Context, done <-chan struct{}) {
	s.SetServing(true)
	select {
	case <-done:
		log.Info().Msg("Pipeline stopped, reporting NOT_SERVING")
		s.SetServing(false)
	case <-ctx.Done():
	}
}

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC health server")
	return s.grpc.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops the server, falling back
// to a hard stop when ctx expires first.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		log.Warn().Msg("gRPC graceful stop timed out, forcing stop")
		s.grpc.Stop()
	}
}
