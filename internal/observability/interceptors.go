package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-voice-dialogue-service/internal/observability/metrics"
)

const (
	healthService     = "grpc.health.v1.Health"
	reflectionService = "grpc.reflection.v1.ServerReflection"
	// Older grpcurl builds still use the alpha reflection API.
	reflectionAlphaService = "grpc.reflection.v1alpha.ServerReflection"
)

// splitMethod splits "/pkg.Service/Method" into its service and method.
func splitMethod(fullMethod string) (service, method string) {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "unknown", name
}

func isReflection(service string) bool {
	return service == reflectionService || service == reflectionAlphaService
}

// streamEndLevel picks the log level for a finished stream. A health watch
// ends only when the watcher leaves or the server shuts down.
func streamEndLevel(service string, code codes.Code) zerolog.Level {
	switch {
	case isReflection(service):
		return zerolog.DebugLevel
	case service == healthService && (code == codes.OK || code == codes.Canceled || code == codes.Unavailable):
		return zerolog.DebugLevel
	case code != codes.OK:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// UnaryServerInterceptor returns a gRPC unary interceptor for metrics and
// logging. A NotFound health check is an unregistered service name, not a
// server fault.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		service, method := splitMethod(info.FullMethod)

		resp, err := handler(ctx, req)

		code := status.Code(err)
		m.RecordCall(service, method, code.String())

		level := zerolog.DebugLevel
		if code != codes.OK && !(service == healthService && code == codes.NotFound) {
			level = zerolog.WarnLevel
		}
		log.WithLevel(level).
			Str("service", service).
			Str("method", method).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC unary call")

		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor for metrics and
// logging. Health watches are the long-lived streams this service serves;
// the active gauge per service and method shows how many are open.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		service, method := splitMethod(info.FullMethod)
		m.RecordStreamStart(service, method)

		err := handler(srv, ss)

		duration := time.Since(start)
		code := status.Code(err)
		m.RecordStreamEnd(service, method, code.String(), duration.Seconds())

		log.WithLevel(streamEndLevel(service, code)).
			Str("service", service).
			Str("method", method).
			Str("code", code.String()).
			Dur("duration", duration).
			Msg("gRPC stream completed")

		return err
	}
}
