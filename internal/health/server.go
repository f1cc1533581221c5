package health

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/realtime"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RealtimeService is the health service name that tracks the realtime
// connection. The empty service name reports the process itself.
const RealtimeService = "chatrelay.realtime"

// Server exposes the standard gRPC health service on the profile's Unix
// socket so chatctl can tell whether the client is running and connected.
type Server struct {
	grpcServer *grpc.Server
	health     *grpchealth.Server
	listener   net.Listener
	socketPath string
	bus        *bus.Bus
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewServer binds the Unix domain socket at socketPath.
func NewServer(socketPath string, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(RealtimeService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		bus:        b,
		logger:     logger,
	}
	s.watch()
	return s, nil
}

// watch follows connection state changes on the bus until Stop.
func (s *Server) watch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	ch, unsub := s.bus.Subscribe(bus.KindConnStateChanged, 16)
	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if sc, ok := evt.Payload.(realtime.StateChange); ok {
					s.SetConnState(sc.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SocketPath returns the bound socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// SetConnState maps a realtime state onto the realtime service status.
func (s *Server) SetConnState(st realtime.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == realtime.Open {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(RealtimeService, status)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("health server stopping")
	s.cancel()
	<-s.done
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
