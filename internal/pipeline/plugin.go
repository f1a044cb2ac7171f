package pipeline

import (
	"context"
	"errors"
	"io"
	"regexp"
	"runtime"

	"esminify/host"
	"esminify/internal/cache"
	"esminify/internal/config"
	"esminify/internal/engine"
	"esminify/internal/logging"
	"esminify/internal/pool"
	"esminify/internal/task"
	"esminify/internal/telemetry"
	"esminify/internal/transform"
)

// Version is the plugin version recorded in cache keys.
const Version = "0.1.0"

// Plugin minifies the script assets of a compilation. Build one with
// Compile, or fill the fields directly when embedding.
type Plugin struct {
	Pattern         *regexp.Regexp
	ExtractComments bool
	// Options is the configuration snapshot recorded in cache keys.
	Options map[string]any

	Store    cache.Store
	Service  *engine.Service
	Launcher pool.Launcher
	Parallel pool.Parallel
	Pool     pool.Options
	Cores    int

	Metrics *telemetry.Metrics
}

// Optimize runs one pass over the matching assets of comp.
func (p *Plugin) Optimize(ctx context.Context, comp host.Compilation) error {
	files := host.Candidates(comp, p.Pattern)
	if len(files) == 0 {
		return nil
	}

	c := cache.New(p.Store)
	b := &task.Builder{
		Assets: comp,
		Hash:   config.HashOptions(comp.Output()),
		Apply:  applier{comp: comp}.callback,
	}
	if c.Enabled() {
		b.Material = p.KeyMaterial()
	}
	if p.ExtractComments {
		b.CommentsFile = CommentsFile
	}

	r := NewRunner(RunnerOptions{
		Cache:            c,
		Inline:           transform.NewInProcessClient(p.Service),
		InlineConcurrent: p.Service.Concurrent(),
		Launcher:         p.Launcher,
		Parallel:         p.Parallel,
		Pool:             p.Pool,
		Cores:            p.Cores,
		Metrics:          p.Metrics,
	})
	return r.Run(ctx, b, files)
}

// KeyMaterial is the per-pass part of every cache key; tasks add the file
// and its content hash.
func (p *Plugin) KeyMaterial() *task.KeyMaterial {
	return &task.KeyMaterial{
		Engine:  p.Service.Version(),
		Plugin:  Version,
		Options: p.Options,
		Runtime: runtime.Version(),
	}
}

// AfterEmit releases the in-process engine once the build has written its
// assets.
func (p *Plugin) AfterEmit() error {
	return p.Service.Stop()
}

// Close stops the engine and releases the cache store.
func (p *Plugin) Close() error {
	var errs []error
	errs = append(errs, p.AfterEmit())
	if cl, ok := p.Store.(io.Closer); ok {
		errs = append(errs, cl.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logging.L().Warn("closing plugin", "err", err)
		return err
	}
	return nil
}
