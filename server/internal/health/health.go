package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/obsidianstack/microclimate/server/internal/auth"
	"github.com/obsidianstack/microclimate/server/internal/store"
)

// Service names reported alongside the overall ("") status.
const (
	ServiceIngest = "ingest"
	ServiceStore  = "store"
)

// DefaultGracePeriod bounds how long Stop waits for open RPCs.
const DefaultGracePeriod = 5 * time.Second

// Server wraps a gRPC server exposing only the health service.
type Server struct {
	// GracePeriod bounds the graceful phase of Stop. Zero means
	// DefaultGracePeriod.
	GracePeriod time.Duration

	grpc   *grpc.Server
	health *health.Server
}

// New creates a Server. All services start NOT_SERVING.
func New(p auth.Policy) *Server {
	s := &Server{
		grpc: grpc.NewServer(
			grpc.UnaryInterceptor(auth.APIKeyInterceptor(p)),
			grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(p)),
		),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	for _, svc := range []string{"", ServiceIngest, ServiceStore} {
		s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// SetIngest reports the scheduler as running or not.
func (s *Server) SetIngest(running bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceIngest, st)
}

// SetStore reports the store backend.
func (s *Server) SetStore(m store.Mode) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if m == store.ModeDurable {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceStore, st)
}

// TrackIngest marks ingest SERVING now and NOT_SERVING once done is closed
// or ctx ends.
func (s *Server) TrackIngest(ctx context.Context, done <-chan struct{}) {
	s.SetIngest(true)
	go func() {
		select {
		case <-done:
			slog.Warn("health: ingest loop exited")
		case <-ctx.Done():
		}
		s.SetIngest(false)
	}()
}

// Serve blocks serving on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
// Health/Watch streams never end on their own, so once GracePeriod passes the
// remaining RPCs are cancelled.
func (s *Server) Stop() {
	s.health.Shutdown()

	grace := s.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		slog.Warn("health: graceful stop timed out, closing open streams", "grace", grace)
		s.grpc.Stop()
		<-done
	}
}
