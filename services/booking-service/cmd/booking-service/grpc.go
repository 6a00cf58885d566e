package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/salonsync/libs/config"
	"github.com/md-rashed-zaman/salonsync/libs/grpcx"
	"github.com/md-rashed-zaman/salonsync/libs/runtime"
)

// startGrpcServer serves grpc.health.v1 for orchestrators, reporting SERVING
// while every readiness check passes.
func startGrpcServer(ctx context.Context, service string, logger *slog.Logger, checks []runtime.ReadyCheck) (*grpcx.HealthServer, error) {
	port, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, err
	}

	srv := grpcx.NewHealthServer(service, logger)
	go srv.Watch(ctx, 10*time.Second, func(ctx context.Context) bool {
		failures := runtime.RunChecks(ctx, checks)
		for _, f := range failures {
			logger.Warn("readiness check failed", "check", f)
		}
		return len(failures) == 0
	})

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	return srv, nil
}
