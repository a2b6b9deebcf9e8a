package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "authsessions/backend/internal/health/handler"
	"authsessions/backend/internal/server/interceptors"
)

var quietMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
}

// GRPCDeps holds the services exposed over gRPC.
type GRPCDeps struct {
	// Health answers grpc.health.v1.Health/Check. If nil, a server without a pinger is used.
	Health *healthhandler.Server
}

// NewGRPCServer returns a gRPC server instrumented with the otelgrpc stats handler and request logging,
// with every service in deps registered.
func NewGRPCServer(deps GRPCDeps, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(quietMethods)),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the gRPC services with s.
//
//   - grpc.health.v1.Health → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps GRPCDeps) {
	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer(nil)
	}
	healthpb.RegisterHealthServer(s, health)
}
