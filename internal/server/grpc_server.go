package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/oggyb/cowatch/internal/config"
	"github.com/oggyb/cowatch/internal/identity"
)

// Options tune the interceptor chain.
type Options struct {
	// RequestTimeout bounds every unary call that arrives without a
	// tighter deadline. Zero disables it.
	RequestTimeout time.Duration
	// InternalToken marks calls presenting it as trusted. Empty trusts nobody.
	InternalToken string
}

// NewGRPCServer builds a server with logging, deadline and caller identity
// interceptors, registers all provided services and marks them serving.
func NewGRPCServer(log *slog.Logger, opts Options, registrars ...Registrar) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			loggingUnary(log),
			deadlineUnary(opts.RequestTimeout),
			identity.UnaryServerInterceptor(opts.InternalToken),
		),
		grpc.ChainStreamInterceptor(loggingStream(log), identity.StreamServerInterceptor(opts.InternalToken)),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// register all services
	for _, r := range registrars {
		r.Register(grpcServer)
		healthServer.SetServingStatus(r.ServiceName(), healthpb.HealthCheckResponse_SERVING)
	}

	// enable reflection for easier debugging with grpcurl
	reflection.Register(grpcServer)

	return grpcServer, healthServer
}

// StartGRPCServer serves on the configured address until ctx is cancelled,
// then drains in-flight calls.
func StartGRPCServer(ctx context.Context, cfg *config.Config, grpcServer *grpc.Server, healthServer *health.Server) error {
	addr := fmt.Sprintf("%s:%s", cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()

	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("grpc server stopped: %w", err)
	}
	return nil
}
