package health

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Report is the outcome of probing a running client.
type Report struct {
	Process  *healthpb.HealthCheckResponse
	Realtime *healthpb.HealthCheckResponse
}

// Connected reports whether the realtime connection is open.
func (r *Report) Connected() bool {
	return r.Realtime.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Probe dials the client's Unix domain socket and checks both services.
// An error means no client is running on the socket.
func Probe(ctx context.Context, socketPath string) (*Report, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial client: %w", err)
	}
	defer func() { _ = conn.Close() }()

	c := healthpb.NewHealthClient(conn)
	process, err := c.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return nil, fmt.Errorf("check process: %w", err)
	}
	rt, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: RealtimeService})
	if err != nil {
		return nil, fmt.Errorf("check realtime: %w", err)
	}
	return &Report{Process: process, Realtime: rt}, nil
}
