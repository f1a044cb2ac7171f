package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	pb "esminify/api/proto/v1"
	"esminify/internal/engine"
	"esminify/internal/logging"
)

// WorkerService is the health service name a worker reports on.
const WorkerService = "esminify.v1.Worker"

// MaxMessageSize bounds one request or result on the worker wire. Vendor
// bundles routinely exceed gRPC's 4 MiB default.
const MaxMessageSize = 256 << 20

// Server hosts one worker: the Worker service in front of its own engine
// handle, plus gRPC health.
type Server struct {
	grpc   *grpc.Server
	lis    net.Listener
	health *health.Server
	svc    *engine.Service
}

// Listen accepts "unix:///path", "unix:/path", "unix:path" or a TCP address.
func Listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		path = strings.TrimPrefix(path, "//")
		_ = os.Remove(path)
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", addr)
}

func StartServer(addr string, svc *engine.Service) (*Server, error) {
	lis, err := Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return NewServer(lis, svc), nil
}

func NewServer(lis net.Listener, svc *engine.Service) *Server {
	s := &Server{
		grpc:   grpc.NewServer(grpc.MaxRecvMsgSize(MaxMessageSize), grpc.MaxSendMsgSize(MaxMessageSize)),
		lis:    lis,
		health: health.NewServer(),
		svc:    svc,
	}
	s.health.SetServingStatus(WorkerService, healthpb.HealthCheckResponse_NOT_SERVING)
	pb.RegisterWorkerServer(s.grpc, &workerServer{svc: svc})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Serve brings the engine up, reports SERVING and blocks until Stop. An
// engine that cannot start is returned as an error before anything is
// served.
func (s *Server) Serve(ctx context.Context) error {
	if _, err := s.svc.Ensure(ctx); err != nil {
		_ = s.lis.Close()
		return err
	}
	s.health.SetServingStatus(WorkerService, healthpb.HealthCheckResponse_SERVING)
	logging.L().Debug("worker serving", "addr", s.lis.Addr().String(), "engine", s.svc.Version())
	return s.grpc.Serve(s.lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.stopEngine()
}

// Abort drops in-flight calls and closes every connection at once.
func (s *Server) Abort() {
	s.grpc.Stop()
	s.stopEngine()
}

func (s *Server) stopEngine() {
	if err := s.svc.Stop(); err != nil {
		logging.L().Warn("worker: engine stop", "err", err)
	}
}

// RunWorker serves svc on addr until ctx ends, then drains in-flight calls
// for up to grace before aborting them.
func RunWorker(ctx context.Context, addr string, svc *engine.Service, grace time.Duration) error {
	srv, err := StartServer(addr, svc)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grace):
		srv.Abort()
	}
	return <-errCh
}

type workerServer struct {
	pb.UnimplementedWorkerServer
	svc *engine.Service
}

func (w *workerServer) Transform(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	res, err := w.svc.Transform(ctx, req)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
	}
	out, err := EncodeResult(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}
