// Package cli wires the esminify commands:
//
//	esminify run <dir>              minify the scripts of a build output directory
//	esminify config                 print the effective configuration
//	esminify cache-key <dir> <file> print the cache key of one asset
//	esminify worker                 serve one worker (started by the pool)
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"esminify/host"
	"esminify/host/fsdir"
	"esminify/internal/cache"
	"esminify/internal/config"
	"esminify/internal/engine"
	"esminify/internal/logging"
	"esminify/internal/pipeline"
	"esminify/internal/pool"
	"esminify/internal/task"
	"esminify/internal/telemetry"
	"esminify/internal/transport"
	"esminify/sink"
	"esminify/sink/kafka"
	"esminify/sink/stdout"
)

const workerGrace = 5 * time.Second

func BuildCLI() *cobra.Command {
	var (
		configFile string
		cfg        config.Config
	)

	rootCmd := &cobra.Command{
		Use:   "esminify",
		Short: "Minify build output scripts with esbuild",
		Long: `esminify minifies the JavaScript assets of a build with esbuild:
- content-addressed result cache (directory or redis)
- worker processes for parallel passes
- Prometheus metrics`,
		Version:       pipeline.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configPath(cmd, configFile)); err != nil {
				return err
			}
			logging.Configure(cfg.Logging())
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "esminify.yml", "config file path (ignored when missing)")

	rootCmd.AddCommand(buildRunCommand(&cfg))
	rootCmd.AddCommand(buildWorkerCommand(&cfg))
	rootCmd.AddCommand(buildConfigCommand(&cfg))
	rootCmd.AddCommand(buildCacheKeyCommand(&cfg))

	return rootCmd
}

// configPath is the file a command loads. Pool workers get their settings
// from the parent through the environment, so they skip the default file
// unless -c was given explicitly.
func configPath(cmd *cobra.Command, path string) string {
	if cmd.Name() == "worker" && !cmd.Flags().Changed("config") {
		return ""
	}
	return path
}

func buildRunCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run <dir>",
		Short: "Minify the scripts in a build output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPass(ctx, cmd, *cfg, args[0])
		},
	}
}

func runPass(ctx context.Context, cmd *cobra.Command, cfg config.Config, root string) error {
	sinks, err := openSinks(cmd, cfg)
	if err != nil {
		return err
	}
	dir, err := fsdir.Open(root, cfg.OutputOptions(), sinks...)
	if err != nil {
		return err
	}
	defer dir.Close()

	p, err := pipeline.Compile(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	if srv := telemetry.Expose(cfg.MetricsPort, p.Metrics.Registry); srv != nil {
		defer srv.Close()
	}

	files := host.Candidates(dir, p.Pattern)
	start := time.Now()
	if err := p.Optimize(ctx, dir); err != nil {
		return fmt.Errorf("minify %s: %w", root, err)
	}
	if err := dir.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", root, err)
	}
	if err := p.AfterEmit(); err != nil {
		logging.L().Warn("stopping engine", "err", err)
	}

	errs, warns := dir.Counts()
	logging.L().Info("pass finished",
		"dir", root, "assets", len(files), "errors", errs, "warnings", warns,
		"elapsed", time.Since(start).Round(time.Millisecond))
	if errs > 0 {
		return fmt.Errorf("%d asset(s) failed to minify", errs)
	}
	return nil
}

func openSinks(cmd *cobra.Command, cfg config.Config) ([]sink.Adapter, error) {
	var out []sink.Adapter
	for _, name := range cfg.Sinks {
		s, err := sink.NewAdapter(name)
		if err != nil {
			return nil, err
		}
		switch name {
		case "stdout":
			err = s.Configure(stdout.Config{JSON: cfg.Log.JSON, Out: cmd.OutOrStdout()})
		case "kafka":
			err = s.Configure(kafka.Config{
				Brokers:  cfg.Kafka.Brokers,
				Topic:    cfg.Kafka.Topic,
				Acks:     cfg.Kafka.Acks,
				ClientID: cfg.Kafka.ClientID,
			})
		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			for _, o := range out {
				_ = o.Close()
			}
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func buildWorkerCommand(cfg *config.Config) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve one minification worker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = os.Getenv(pool.ListenEnv)
			}
			if listen == "" {
				return fmt.Errorf("worker: no address (--listen or %s)", pool.ListenEnv)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			svc := engine.NewService(engine.NewESBuild(cfg.ESBuild()))
			return transport.RunWorker(ctx, listen, svc, workerGrace)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "address to serve on (unix:///path or host:port)")

	return cmd
}

func buildConfigCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(*cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func buildCacheKeyCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "cache-key <dir> <asset>",
		Short: "Print the cache key material of one asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fsdir.Open(args[0], cfg.OutputOptions())
			if err != nil {
				return err
			}
			p, err := pipeline.Compile(*cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			b := &task.Builder{
				Assets:   dir,
				Hash:     config.HashOptions(cfg.OutputOptions()),
				Material: p.KeyMaterial(),
			}
			t, err := b.Build(args[1])
			if err != nil {
				return err
			}
			key, err := cache.Key(t.KeyMaterial)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(map[string]any{"key": key, "material": t.KeyMaterial})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
