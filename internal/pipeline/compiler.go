package pipeline

import (
	"fmt"

	"esminify/internal/cache"
	"esminify/internal/config"
	"esminify/internal/engine"
	"esminify/internal/pool"
	"esminify/internal/telemetry"
)

// Compile wires a Plugin from cfg: cache store, esbuild engine, worker
// launcher and metrics.
func Compile(cfg config.Config) (*Plugin, error) {
	store, err := cache.Open(cfg.Cache, cache.RedisOptions{TTL: cfg.CacheTTL})
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", cfg.Cache, err)
	}
	m := telemetry.NewMetrics()
	return &Plugin{
		Pattern:         cfg.Pattern(),
		ExtractComments: cfg.ExtractComments,
		Options:         cfg.Snapshot(),
		Store:           store,
		Service:         engine.NewService(engine.NewESBuild(cfg.ESBuild())),
		Launcher:        &pool.ExecLauncher{Env: cfg.WorkerEnv()},
		Parallel:        cfg.Parallel,
		Pool: pool.Options{
			StartTimeout:     cfg.Worker.StartTimeout,
			TransformTimeout: cfg.Worker.TransformTimeout,
			Workers:          m.Workers,
		},
		Metrics: m,
	}, nil
}
