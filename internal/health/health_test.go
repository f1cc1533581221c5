package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/realtime"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T, b *bus.Bus) *Server {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	dir, err := os.MkdirTemp("/tmp", "chatrelay-health-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	srv, err := NewServer(filepath.Join(dir, "c.sock"), b, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	return srv
}

func probe(t *testing.T, socketPath string) (*Report, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return Probe(ctx, socketPath)
}

func TestProbeReflectsConnectionState(t *testing.T) {
	b := bus.New()
	srv := startServer(t, b)
	defer srv.Stop(context.Background())

	info, err := os.Stat(srv.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	r, err := probe(t, srv.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	if r.Process.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("process status = %v, want SERVING", r.Process.GetStatus())
	}
	if r.Connected() {
		t.Error("realtime should not be connected before OPEN")
	}

	b.Publish(bus.NewEvent(bus.KindConnStateChanged, realtime.StateChange{From: realtime.Connecting, To: realtime.Open}))
	deadline := time.Now().Add(2 * time.Second)
	for {
		r, err = probe(t, srv.SocketPath())
		if err != nil {
			t.Fatal(err)
		}
		if r.Connected() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("realtime never reported SERVING")
		}
		time.Sleep(10 * time.Millisecond)
	}

	srv.SetConnState(realtime.Closed)
	r, err = probe(t, srv.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	if r.Connected() {
		t.Error("CLOSED should report NOT_SERVING")
	}
}

func TestProbeFailsWithoutServer(t *testing.T) {
	b := bus.New()
	srv := startServer(t, b)
	path := srv.SocketPath()
	srv.Stop(context.Background())

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket should be removed on stop, stat err = %v", err)
	}
	if _, err := probe(t, path); err == nil {
		t.Error("expected probe to fail after stop")
	}
	if b.Subscribers() != 0 {
		t.Errorf("subscribers = %d after stop, want 0", b.Subscribers())
	}
}
