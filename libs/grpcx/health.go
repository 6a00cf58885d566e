package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes grpc.health.v1 for orchestrators. Serving status is
// driven by the same checks as /readyz.
type HealthServer struct {
	Server  *grpc.Server
	health  *health.Server
	service string
}

func NewHealthServer(service string, logger *slog.Logger) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLoggingInterceptor(logger),
		),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	h.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{Server: srv, health: h, service: service}
}

func (s *HealthServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(s.service, st)
	s.health.SetServingStatus("", st)
}

// Watch re-evaluates check every interval and flips the serving status.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration, check func(context.Context) bool) {
	s.SetServing(check(ctx))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SetServing(check(ctx))
		}
	}
}

func (s *HealthServer) Serve(lis net.Listener) error {
	return s.Server.Serve(lis)
}

func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.Server.GracefulStop()
}
