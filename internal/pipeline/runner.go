package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"esminify/internal/cache"
	"esminify/internal/engine"
	"esminify/internal/logging"
	"esminify/internal/pool"
	"esminify/internal/task"
	"esminify/internal/telemetry"
	"esminify/internal/transform"
)

type RunnerOptions struct {
	Cache *cache.Cache

	// Inline runs tasks in this process when no pool is used.
	Inline transform.Client
	// InlineConcurrent allows parallel inline calls; otherwise one at a time.
	InlineConcurrent bool

	// Launcher starts workers. Nil never builds a pool.
	Launcher pool.Launcher
	Parallel pool.Parallel
	Pool     pool.Options
	// Cores overrides runtime.NumCPU.
	Cores int

	Metrics *telemetry.Metrics
}

// Runner drives the tasks of one pass through the cache and an executor.
type Runner struct {
	opts RunnerOptions

	apply sync.Mutex // serializes task callbacks
}

type executor interface {
	Transform(ctx context.Context, req task.Request) (task.Result, error)
}

func NewRunner(opts RunnerOptions) *Runner {
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetrics()
	}
	if opts.Cores <= 0 {
		opts.Cores = runtime.NumCPU()
	}
	return &Runner{opts: opts}
}

// PoolSize is the number of workers a pass over n files would start.
func (r *Runner) PoolSize(n int) int {
	if r.opts.Launcher == nil {
		return 0
	}
	return max(pool.Size(r.opts.Parallel, r.opts.Cores, n), 0)
}

// Run processes files and returns once every task has been applied. Only an
// engine start failure, a worker launch failure or ctx ending fail the pass.
func (r *Runner) Run(ctx context.Context, b *task.Builder, files []string) error {
	if len(files) == 0 {
		return nil
	}

	var (
		exec  executor = r.opts.Inline
		mode           = "inline"
		limit          = 1
		wp    *pool.Pool
	)
	if r.opts.InlineConcurrent {
		limit = runtime.GOMAXPROCS(0)
	}
	if n := r.PoolSize(len(files)); n > 0 {
		opts := r.opts.Pool
		if opts.Workers == nil {
			opts.Workers = r.opts.Metrics.Workers
		}
		p, err := pool.New(ctx, n, r.opts.Launcher, opts)
		if err != nil {
			return fmt.Errorf("start workers: %w", err)
		}
		wp, exec, mode, limit = p, p, "pool", n
	}
	if exec == nil {
		return errors.New("runner: no executor configured")
	}
	log := logging.L().With("pass", uuid.NewString())
	log.Debug("pass started", "files", len(files), "mode", mode, "limit", limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, file := range files {
		g.Go(func() error { return r.process(gctx, log, b, file, exec, mode) })
	}
	err := g.Wait()

	if wp != nil {
		if endErr := wp.End(); endErr != nil {
			log.Warn("stopping workers", "err", endErr)
		}
	}
	return err
}

func (r *Runner) process(ctx context.Context, log *slog.Logger, b *task.Builder, file string, exec executor, mode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	m := r.opts.Metrics

	t, err := b.Build(file)
	if err != nil {
		log.Warn("skipping asset", "file", file, "err", err)
		m.TasksSkipped.Inc()
		return nil
	}

	c := r.opts.Cache
	if c.Enabled() {
		res, err := c.Get(ctx, t)
		if err == nil {
			m.CacheHits.Inc()
			r.deliver(t, res, start)
			return nil
		}
		m.CacheMisses.Inc()
		if !errors.Is(err, cache.ErrMiss) {
			log.Debug("cache lookup failed", "file", file, "err", err)
		}
	}

	res, err := exec.Transform(ctx, t.Request())
	if err != nil {
		if errors.Is(err, engine.ErrStart) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		res = task.Failed(err)
	}
	outcome := "ok"
	if res.Error != nil {
		outcome = "error"
	}
	m.Transforms.WithLabelValues(mode, outcome).Inc()

	if c.Enabled() && res.Error == nil {
		if err := c.Store(ctx, t, res); err != nil {
			log.Debug("cache store failed", "file", file, "err", err)
			m.CacheStoreFailures.Inc()
		}
	}

	r.deliver(t, res, start)
	return nil
}

func (r *Runner) deliver(t *task.Task, res task.Result, start time.Time) {
	r.apply.Lock()
	t.Callback(res)
	r.apply.Unlock()
	r.opts.Metrics.TaskDuration.Observe(time.Since(start).Seconds())
}
