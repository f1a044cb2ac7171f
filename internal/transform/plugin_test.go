package transform

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"esminify/internal/engine"
	"esminify/internal/engine/enginetest"
	"esminify/internal/task"
	"esminify/internal/transport"
)

func TestInProcessClient_UsesService(t *testing.T) {
	fake := &enginetest.Fake{}
	c := NewInProcessClient(engine.NewService(fake))

	res, err := c.Transform(context.Background(), task.Request{File: "a.js", Input: "var  a;"})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Code != "var a;" {
		t.Fatalf("unexpected code %q", res.Code)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fake.Stops() != 0 {
		t.Fatal("Close must not stop the shared service")
	}
}

func TestGRPCClient_RoundTripAndDeadWorker(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := transport.NewServer(lis, engine.NewService(&enginetest.Fake{}))
	go func() { _ = srv.Serve(context.Background()) }()

	c, err := NewGRPCClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewGRPCClient: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := transport.WaitServing(ctx, c.Conn()); err != nil {
		t.Fatalf("WaitServing: %v", err)
	}

	res, err := c.Transform(ctx, task.Request{File: "a.js", Input: "SYNTAX_ERROR"})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Error == nil || res.Error.Line != 1 {
		t.Fatalf("want located error, got %+v", res.Error)
	}

	srv.Stop()
	short, cancelShort := context.WithTimeout(context.Background(), time.Second)
	defer cancelShort()
	if _, err := c.Transform(short, task.Request{File: "b.js", Input: "x"}); err == nil {
		t.Fatal("expected an error from a stopped worker")
	}
}
