// Package health exposes relay liveness over the standard gRPC health protocol.
package health

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rbright/btrelay/internal/fsm"
)

// Service is the health service name reported for the relay.
const Service = "btrelay.Relay"

// Server serves grpc.health.v1.Health on a TCP address.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	ln     net.Listener
	done   chan error
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Start listens on addr and serves health checks. Service starts NOT_SERVING.
func Start(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen health %s: %w", addr, err)
	}

	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		ln:     ln,
		done:   make(chan error, 1),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)

	go func() {
		s.done <- s.grpc.Serve(ln)
	}()
	logger.Info("health endpoint listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Observe maps a relay state to a serving status.
func (s *Server) Observe(state fsm.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if fsm.Serving(state) {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, status)
}

// Close marks every service NOT_SERVING and stops the gRPC server.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.health.Shutdown()
		s.grpc.Stop()
		if err := <-s.done; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.closeErr = fmt.Errorf("health server: %w", err)
		}
	})
	return s.closeErr
}
