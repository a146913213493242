package grpchealth

import (
	"context"
	"errors"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeChecker struct {
	err error
}

func (f *fakeChecker) KeepAlive(_ context.Context) error {
	return f.err
}

func TestServer_CheckServing(t *testing.T) {
	checker := &fakeChecker{}
	srv := NewServer(checker, time.Hour)

	srv.check(context.Background())

	resp, err := srv.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %v", resp.Status)
	}
}

func TestServer_CheckNotServing(t *testing.T) {
	checker := &fakeChecker{err: errors.New("connection refused")}
	srv := NewServer(checker, time.Hour)

	srv.check(context.Background())

	resp, err := srv.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING, got %v", resp.Status)
	}
}

func TestServer_RunStopsOnContextCancel(t *testing.T) {
	checker := &fakeChecker{}
	srv := NewServer(checker, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
