package grpchealth

import (
	"context"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startBufServer(t *testing.T) (*Server, grpc.DialOption) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	return srv, dialer
}

func TestProbeReflectsServingStatus(t *testing.T) {
	srv, dialer := startBufServer(t)

	status, err := Probe(context.Background(), "bufnet", zap.NewNop(), dialer)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before start, got %s", status)
	}

	srv.SetServing(true)
	status, err = Probe(context.Background(), "bufnet", zap.NewNop(), dialer)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", status)
	}
	if got := Describe(status); got != "faceaccess.Kiosk: SERVING" {
		t.Fatalf("unexpected description: %s", got)
	}
}
