package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"esminify/internal/logging"
	"esminify/internal/task"
	"esminify/internal/transform"
	"esminify/internal/transport"
)

var (
	// ErrPoolClosed is returned by calls made after End.
	ErrPoolClosed = errors.New("worker pool is closed")
)

const crashGrace = 250 * time.Millisecond

type Options struct {
	// StartTimeout bounds the wait for a worker to report SERVING.
	StartTimeout time.Duration
	// TransformTimeout bounds one request; zero means no deadline.
	TransformTimeout time.Duration
	// StopTimeout is how long End waits for a worker before killing it.
	StopTimeout time.Duration
	// Workers tracks live workers when set.
	Workers prometheus.Gauge
}

func (o Options) withDefaults() Options {
	if o.StartTimeout <= 0 {
		o.StartTimeout = 10 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	return o
}

type worker struct {
	id     int
	proc   Process
	client *transform.GRPCClient
}

func (w *worker) exited() bool {
	select {
	case <-w.proc.Done():
		return true
	default:
		return false
	}
}

// exitedWithin reports whether the worker process ends within d. A crash
// can surface on the connection before the process is reaped.
func (w *worker) exitedWithin(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.proc.Done():
		return true
	case <-t.C:
		return false
	}
}

func (w *worker) shutdown(timeout time.Duration) error {
	_ = w.client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.proc.Stop(ctx)
}

// Pool spreads transform requests over worker processes. Each worker owns
// its own engine; a request goes to whichever worker is idle.
type Pool struct {
	launcher Launcher
	opts     Options
	size     int
	idle     chan *worker

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New launches n workers and waits until all of them serve. If any worker
// fails to come up the others are stopped and the error is returned.
func New(ctx context.Context, n int, l Launcher, opts Options) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("pool: invalid size %d", n)
	}
	p := &Pool{launcher: l, opts: opts.withDefaults(), size: n, idle: make(chan *worker, n)}

	workers := make([]*worker, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			w, err := p.launch(gctx, i)
			workers[i] = w
			return err
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				_ = w.shutdown(p.opts.StopTimeout)
			}
		}
		return nil, err
	}
	for _, w := range workers {
		p.idle <- w
	}
	p.gauge(func(g prometheus.Gauge) { g.Add(float64(n)) })
	logging.L().Debug("worker pool ready", "workers", n)
	return p, nil
}

func (p *Pool) launch(ctx context.Context, id int) (*worker, error) {
	proc, err := p.launcher.Launch(ctx, id)
	if err != nil {
		return nil, err
	}
	client, err := transform.NewGRPCClient(proc.Target(), proc.DialOptions()...)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), p.opts.StopTimeout)
		defer cancel()
		_ = proc.Stop(stopCtx)
		return nil, err
	}
	w := &worker{id: id, proc: proc, client: client}

	wctx, cancel := context.WithTimeout(ctx, p.opts.StartTimeout)
	defer cancel()
	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-wctx.Done():
		}
	}()
	if err := transport.WaitServing(wctx, client.Conn()); err != nil {
		early := w.exited()
		_ = w.shutdown(p.opts.StopTimeout)
		if early {
			return nil, fmt.Errorf("pool: worker %d exited during startup", id)
		}
		return nil, fmt.Errorf("pool: worker %d: %w", id, err)
	}
	return w, nil
}

func (p *Pool) Size() int { return p.size }

// Transform sends req to an idle worker. A worker found dead is relaunched
// first; a worker that dies during the call yields an error, never a hang.
func (p *Pool) Transform(ctx context.Context, req task.Request) (task.Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return task.Result{}, ErrPoolClosed
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	var w *worker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return task.Result{}, ctx.Err()
	}
	defer func() { p.idle <- w }()

	if w.exited() {
		nw, err := p.relaunch(ctx, w)
		if err != nil {
			return task.Result{}, err
		}
		w = nw
	}

	callCtx := ctx
	if p.opts.TransformTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.opts.TransformTimeout)
		defer cancel()
	}
	res, err := w.client.Transform(callCtx, req)
	if err != nil {
		if w.exitedWithin(crashGrace) {
			logging.L().Warn("worker crashed", "id", w.id, "file", req.File)
			p.gauge(func(g prometheus.Gauge) { g.Dec() })
			_ = w.client.Close()
		}
		return task.Result{}, err
	}
	return res, nil
}

func (p *Pool) relaunch(ctx context.Context, dead *worker) (*worker, error) {
	logging.L().Info("relaunching worker", "id", dead.id)
	_ = dead.client.Close()
	nw, err := p.launch(ctx, dead.id)
	if err != nil {
		return nil, fmt.Errorf("pool: relaunch worker %d: %w", dead.id, err)
	}
	p.gauge(func(g prometheus.Gauge) { g.Inc() })
	return nw, nil
}

// End waits for in-flight requests, then stops every worker. It may be
// called once.
func (p *Pool) End() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	p.mu.Unlock()

	p.inflight.Wait()

	var errs []error
	for i := 0; i < p.size; i++ {
		w := <-p.idle
		if err := w.shutdown(p.opts.StopTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	p.gauge(func(g prometheus.Gauge) { g.Set(0) })
	return errors.Join(errs...)
}

func (p *Pool) gauge(fn func(prometheus.Gauge)) {
	if p.opts.Workers != nil {
		fn(p.opts.Workers)
	}
}
