package transport

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Dial opens a client connection to a worker. Connecting is lazy; use
// WaitServing before the first request. Message limits default to
// MaxMessageSize; later options override them.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append([]grpc.DialOption{CallLimits()}, opts...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", target, err)
	}
	return cc, nil
}

// CallLimits raises the per-call message limits to MaxMessageSize.
func CallLimits() grpc.DialOption {
	return grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(MaxMessageSize),
		grpc.MaxCallSendMsgSize(MaxMessageSize),
	)
}

// WaitServing polls the worker's health until it reports SERVING or ctx
// ends.
func WaitServing(ctx context.Context, cc grpc.ClientConnInterface) error {
	hc := healthpb.NewHealthClient(cc)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: WorkerService}, grpc.WaitForReady(true))
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return nil
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("status %s", resp.GetStatus())
			}
			return fmt.Errorf("transport: worker not serving: %w (last: %v)", ctx.Err(), err)
		case <-tick.C:
		}
	}
}
