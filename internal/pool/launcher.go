package pool

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"

	"esminify/internal/logging"
	"esminify/internal/transport"
)

// ListenEnv carries the address a launched worker must listen on.
const ListenEnv = "ESMINIFY_WORKER_LISTEN"

// Process is one running worker.
type Process interface {
	Target() string
	DialOptions() []grpc.DialOption
	// Stop asks the worker to finish and forces it down once ctx ends.
	Stop(ctx context.Context) error
	// Done is closed when the worker has exited.
	Done() <-chan struct{}
}

type Launcher interface {
	Launch(ctx context.Context, id int) (Process, error)
}

// ExecLauncher starts workers by running Path (this binary by default) with
// Args (the worker subcommand by default). Worker stdout and stderr are
// wired straight to Stdout and Stderr.
type ExecLauncher struct {
	Path      string
	Args      []string
	Env       []string
	SocketDir string
	Stdout    io.Writer
	Stderr    io.Writer
}

func (l *ExecLauncher) Launch(ctx context.Context, id int) (Process, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("pool: locate executable: %w", err)
		}
		path = exe
	}
	args := l.Args
	if args == nil {
		args = []string{"worker"}
	}
	dir := l.SocketDir
	if dir == "" {
		dir = os.TempDir()
	}
	sock := filepath.Join(dir, "esminify-"+uuid.NewString()[:8]+".sock")

	cmd := exec.Command(path, args...)
	cmd.Env = append(append(os.Environ(), l.Env...), ListenEnv+"=unix://"+sock)
	cmd.Stdout = writerOr(l.Stdout, os.Stdout)
	cmd.Stderr = writerOr(l.Stderr, os.Stderr)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pool: start worker %d: %w", id, err)
	}

	p := &execProcess{id: id, cmd: cmd, sock: sock, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		_ = os.Remove(sock)
		close(p.done)
	}()
	logging.L().Debug("worker launched", "id", id, "pid", cmd.Process.Pid, "socket", sock)
	return p, nil
}

func writerOr(w, def io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return def
}

type execProcess struct {
	id   int
	cmd  *exec.Cmd
	sock string

	once    sync.Once
	done    chan struct{}
	waitErr error
}

func (p *execProcess) Target() string { return "unix://" + p.sock }

func (p *execProcess) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		transport.CallLimits(),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.Config{BaseDelay: 20 * time.Millisecond, Multiplier: 1.6, MaxDelay: time.Second},
			MinConnectTimeout: time.Second,
		}),
	}
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Stop(ctx context.Context) error {
	p.once.Do(func() {
		if runtime.GOOS == "windows" {
			_ = p.cmd.Process.Kill()
			return
		}
		_ = p.cmd.Process.Signal(os.Interrupt)
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-p.done
		return fmt.Errorf("pool: worker %d killed: %w", p.id, ctx.Err())
	}
}
