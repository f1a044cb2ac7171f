package pool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"esminify/internal/engine"
	"esminify/internal/engine/enginetest"
	"esminify/internal/task"
	"esminify/internal/transport"
)

// TestMain doubles as the worker binary for ExecLauncher tests.
func TestMain(m *testing.M) {
	if addr := os.Getenv(ListenEnv); addr != "" {
		fmt.Println("helper worker up")
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := transport.RunWorker(ctx, addr, engine.NewService(&enginetest.Fake{}), time.Second)
		stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type localProcess struct {
	lis  *bufconn.Listener
	srv  *transport.Server
	done chan struct{}
}

func (p *localProcess) Target() string { return "passthrough:///bufnet" }

func (p *localProcess) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return p.lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

func (p *localProcess) Stop(context.Context) error {
	p.srv.Stop()
	<-p.done
	return nil
}

func (p *localProcess) Done() <-chan struct{} { return p.done }

// crash simulates the worker process dying.
func (p *localProcess) crash() {
	p.srv.Abort()
	<-p.done
}

// localLauncher runs workers as in-process gRPC servers on bufconn.
type localLauncher struct {
	newEngine func() engine.Engine

	mu    sync.Mutex
	procs []*localProcess
}

func (l *localLauncher) Launch(_ context.Context, _ int) (Process, error) {
	lis := bufconn.Listen(1 << 20)
	p := &localProcess{lis: lis, srv: transport.NewServer(lis, engine.NewService(l.newEngine())), done: make(chan struct{})}
	go func() {
		_ = p.srv.Serve(context.Background())
		close(p.done)
	}()
	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	return p, nil
}

func (l *localLauncher) launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *localLauncher) proc(i int) *localProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

func fakeLauncher(fakes *[]*enginetest.Fake, startErr error, delay time.Duration) *localLauncher {
	var mu sync.Mutex
	return &localLauncher{newEngine: func() engine.Engine {
		f := &enginetest.Fake{StartErr: startErr, Delay: delay}
		mu.Lock()
		*fakes = append(*fakes, f)
		mu.Unlock()
		return f
	}}
}

func TestAvailableConcurrency(t *testing.T) {
	cases := []struct {
		name  string
		p     Parallel
		cores int
		want  int
	}{
		{"auto", Parallel{Auto: true}, 8, 7},
		{"auto single core", Parallel{Auto: true}, 1, 0},
		{"explicit below cores", Parallel{Max: 2}, 8, 2},
		{"explicit above cores", Parallel{Max: 16}, 4, 3},
		{"off", Parallel{}, 8, 0},
		{"negative", Parallel{Max: -3}, 8, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AvailableConcurrency(tc.p, tc.cores))
		})
	}
}

func TestSize(t *testing.T) {
	assert.Equal(t, 2, Size(Parallel{Max: 2}, 8, 5))
	assert.Equal(t, 1, Size(Parallel{Max: 2}, 2, 5), "cores-1 caps the request")
	assert.Equal(t, 3, Size(Parallel{Auto: true}, 8, 3), "never more workers than files")
	assert.Equal(t, 0, Size(Parallel{}, 8, 5))
}

func TestPool_TransformsOnWorkers(t *testing.T) {
	var fakes []*enginetest.Fake
	l := fakeLauncher(&fakes, nil, 0)
	p, err := New(context.Background(), 2, l, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Size())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Transform(context.Background(), task.Request{File: fmt.Sprintf("f%d.js", i), Input: "var   x;"})
			assert.NoError(t, err)
			assert.Equal(t, "var x;", res.Code)
		}(i)
	}
	wg.Wait()
	require.NoError(t, p.End())

	total := 0
	for _, f := range fakes {
		total += f.Calls()
		assert.Equal(t, 1, f.Stops(), "every worker engine is stopped at End")
	}
	assert.Equal(t, 6, total)
	assert.Equal(t, 2, l.launched())
}

func TestPool_EndOnceAndClosedAfter(t *testing.T) {
	var fakes []*enginetest.Fake
	p, err := New(context.Background(), 1, fakeLauncher(&fakes, nil, 0), Options{})
	require.NoError(t, err)

	require.NoError(t, p.End())
	assert.ErrorIs(t, p.End(), ErrPoolClosed)

	_, err = p.Transform(context.Background(), task.Request{File: "a.js"})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_EngineStartFailureFailsNew(t *testing.T) {
	var fakes []*enginetest.Fake
	l := fakeLauncher(&fakes, errors.New("no engine"), 0)
	_, err := New(context.Background(), 2, l, Options{StartTimeout: 2 * time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited during startup")
}

func TestPool_RelaunchesDeadWorker(t *testing.T) {
	var fakes []*enginetest.Fake
	l := fakeLauncher(&fakes, nil, 0)
	p, err := New(context.Background(), 1, l, Options{})
	require.NoError(t, err)
	defer p.End()

	l.proc(0).crash()

	res, err := p.Transform(context.Background(), task.Request{File: "a.js", Input: "a  b"})
	require.NoError(t, err)
	assert.Equal(t, "a b", res.Code)
	assert.Equal(t, 2, l.launched())
}

func TestPool_CrashDuringCallIsAnError(t *testing.T) {
	var fakes []*enginetest.Fake
	l := fakeLauncher(&fakes, nil, 10*time.Second)
	p, err := New(context.Background(), 1, l, Options{})
	require.NoError(t, err)
	defer p.End()

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Transform(context.Background(), task.Request{File: "slow.js", Input: "x"})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return fakes[0].Calls() == 1 }, 5*time.Second, 5*time.Millisecond)
	l.proc(0).crash()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("transform hung after the worker died")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestExecLauncher_WorkerProcesses(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets and interrupt signals")
	}
	var stdout syncBuffer
	l := &ExecLauncher{Path: os.Args[0], Args: []string{"-test.run=^$"}, Stdout: &stdout}

	p, err := New(context.Background(), 2, l, Options{StartTimeout: 20 * time.Second})
	require.NoError(t, err)

	res, err := p.Transform(context.Background(), task.Request{File: "a.js", Input: "var a=1;   "})
	require.NoError(t, err)
	assert.Equal(t, "var a=1;", res.Code)

	require.NoError(t, p.End())
	assert.Equal(t, 2, strings.Count(stdout.String(), "helper worker up"), "worker stdout is forwarded")
}
