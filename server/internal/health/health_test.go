package health_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/microclimate/server/internal/auth"
	"github.com/obsidianstack/microclimate/server/internal/health"
	"github.com/obsidianstack/microclimate/server/internal/store"
)

// startServer starts a health server on a random TCP port and returns it
// with a connected client.
func startServer(t *testing.T, p auth.Policy) (*health.Server, healthpb.HealthClient) {
	t.Helper()

	srv := health.New(p)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return srv, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, ctx context.Context, c healthpb.HealthClient, svc string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
	if err != nil {
		t.Fatalf("Check(%q): %v", svc, err)
	}
	return resp.Status
}

func waitStatus(t *testing.T, c healthpb.HealthClient, svc string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check(t, context.Background(), c, svc) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service %q: status never became %v", svc, want)
}

func TestHealth_InitiallyNotServing(t *testing.T) {
	_, c := startServer(t, auth.Policy{})
	for _, svc := range []string{"", health.ServiceIngest, health.ServiceStore} {
		if got := check(t, context.Background(), c, svc); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("service %q: got %v, want NOT_SERVING", svc, got)
		}
	}
}

func TestHealth_IngestLifecycle(t *testing.T) {
	srv, c := startServer(t, auth.Policy{})
	done := make(chan struct{})

	srv.TrackIngest(context.Background(), done)
	if got := check(t, context.Background(), c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall after TrackIngest: got %v, want SERVING", got)
	}
	if got := check(t, context.Background(), c, health.ServiceIngest); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("ingest after TrackIngest: got %v, want SERVING", got)
	}

	close(done)
	waitStatus(t, c, "", healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestHealth_StoreMode(t *testing.T) {
	srv, c := startServer(t, auth.Policy{})

	srv.SetStore(store.ModeDurable)
	if got := check(t, context.Background(), c, health.ServiceStore); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("durable: got %v, want SERVING", got)
	}
	srv.SetStore(store.ModeFallback)
	if got := check(t, context.Background(), c, health.ServiceStore); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("fallback: got %v, want NOT_SERVING", got)
	}
}

func TestHealth_UnknownService(t *testing.T) {
	_, c := startServer(t, auth.Policy{})
	_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	if code := status.Code(err); code != codes.NotFound {
		t.Errorf("code: got %v, want NotFound", code)
	}
}

func TestHealth_APIKeyEnforced(t *testing.T) {
	_, c := startServer(t, auth.Policy{Mode: "apikey", Key: "secret"})

	_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("no key: got %v, want Unauthenticated", code)
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), auth.DefaultHeader, "secret")
	if got := check(t, ctx, c, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("with key: got %v, want NOT_SERVING", got)
	}
}

func TestHealth_StopBoundedWithOpenWatch(t *testing.T) {
	srv, c := startServer(t, auth.Policy{})
	srv.GracePeriod = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := c.Watch(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("first Recv: %v", err)
	}

	start := time.Now()
	srv.Stop()
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("Stop took %v with a Watch stream open", d)
	}

	// The stream ends once the server is down; drain any final status update.
	for i := 0; i < 3; i++ {
		if _, err := stream.Recv(); err != nil {
			return
		}
	}
	t.Error("Watch stream still open after Stop")
}
