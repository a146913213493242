// Package grpchealth exposes the Catalog Store's KeepAlive liveness check as
// a standard grpc.health.v1.Health service, so infra probes (Kubernetes
// readiness/liveness, load balancers) can use a single well-known gRPC
// contract instead of a scanner-specific endpoint.
package grpchealth

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	healthsrv "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service name reported under grpc.health.v1.Health,
// matching how grpc-health-probe and similar tools are normally invoked.
const ServiceName = "ollama_scanner.catalog"

// Checker is the narrow slice of catalog.Store the health server polls.
type Checker interface {
	KeepAlive(ctx context.Context) error
}

// Server wraps grpc/health's reference Health implementation, updating the
// serving status from periodic Checker.KeepAlive calls.
type Server struct {
	health  *healthsrv.Server
	checker Checker
	period  time.Duration
}

// NewServer creates a health Server polling checker every period.
func NewServer(checker Checker, period time.Duration) *Server {
	return &Server{
		health:  healthsrv.NewServer(),
		checker: checker,
		period:  period,
	}
}

// Register registers the Health service on grpcServer.
func (s *Server) Register(grpcServer *grpc.Server) {
	healthpb.RegisterHealthServer(grpcServer, s.health)
}

// Run polls the Checker until ctx is cancelled, updating the serving status
// of both ServiceName and the empty (overall) service name.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.check(ctx)
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Server) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.checker.KeepAlive(ctx); err != nil {
		slog.Warn("grpc health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}
