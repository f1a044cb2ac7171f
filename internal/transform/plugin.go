package transform

// Client reaches the engine either in-process or inside a worker over gRPC.
// The scheduler only sees this interface.
import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	pb "esminify/api/proto/v1"
	"esminify/internal/engine"
	"esminify/internal/task"
	"esminify/internal/transport"
)

type Client interface {
	// Transform returns an error only when the request never produced a
	// result (transport failure, engine that cannot start).
	Transform(ctx context.Context, req task.Request) (task.Result, error)
	Close() error
}

// GRPCClient talks to one worker.
type GRPCClient struct {
	conn *grpc.ClientConn
	svc  pb.WorkerClient
}

func NewGRPCClient(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	conn, err := transport.Dial(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{
		conn: conn,
		svc:  pb.NewWorkerClient(conn),
	}, nil
}

func (c *GRPCClient) Conn() *grpc.ClientConn { return c.conn }

func (c *GRPCClient) Transform(ctx context.Context, req task.Request) (task.Result, error) {
	in, err := transport.EncodeRequest(req)
	if err != nil {
		return task.Result{}, err
	}
	out, err := c.svc.Transform(ctx, in)
	if err != nil {
		return task.Result{}, fmt.Errorf("worker transform %s: %w", req.File, err)
	}
	return transport.DecodeResult(out)
}

func (c *GRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// InProcessClient runs the engine in this process through its Service.
type InProcessClient struct {
	svc *engine.Service
}

func NewInProcessClient(svc *engine.Service) *InProcessClient { return &InProcessClient{svc: svc} }

func (c *InProcessClient) Transform(ctx context.Context, req task.Request) (task.Result, error) {
	return c.svc.Transform(ctx, req)
}

// Close leaves the service running; its owner stops it after emit.
func (c *InProcessClient) Close() error { return nil }
