// Command redline runs the redline TCP server.
//
// Configuration is read from an optional YAML file, REDLINE_* environment
// variables and command-line flags, in increasing order of precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/redline"
	"github.com/Zereker/redline/internal/config"
	"github.com/Zereker/redline/internal/logging"
)

// Build information, set via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "redline",
		Usage:   "line-oriented Redis-like TCP server",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"REDLINE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "listen address (host:port)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address",
			},
		},
		Action: run,
	}
}

// overrides collects the flags that were set explicitly.
func overrides(c *cli.Context) map[string]any {
	values := make(map[string]any)
	if c.IsSet("addr") {
		values["server.addr"] = c.String("addr")
	}
	if c.IsSet("log-level") {
		values["log.level"] = c.String("log-level")
	}
	if c.IsSet("metrics-addr") {
		values["metrics.enabled"] = true
		values["metrics.addr"] = c.String("metrics-addr")
	}
	return values
}

func run(c *cli.Context) error {
	opts := []config.Option{config.WithOverrides(overrides(c))}
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	loader := config.NewLoader(opts...)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logger.Info("starting redline", "version", version, "commit", commit, "config", loader.FilePath())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := redline.NewMetrics(registry)

	server, err := redline.New(cfg.Server.Addr,
		redline.ServerLoggerOption(logger),
		redline.ServerMetricsOption(metrics),
		redline.ServerAcceptRateOption(cfg.Server.AcceptRate, cfg.Server.AcceptBurst),
	)
	if err != nil {
		return err
	}

	handler := redline.NewConnHandler(
		redline.LoggerOption(logger),
		redline.MetricsOption(metrics),
		redline.ReadBufferSizeOption(cfg.Server.ReadBufferSize),
		redline.IdleTimeoutOption(cfg.Server.IdleTimeout),
		redline.WriteTimeoutOption(cfg.Server.WriteTimeout),
		redline.MaxLifetimeOption(cfg.Server.MaxLifetime),
	)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := server.Serve(context.WithoutCancel(gctx), handler)
		if errors.Is(err, redline.ErrServerClosed) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("connections interrupted at shutdown", "error", err)
		}
		return nil
	})

	if cfg.Metrics.Enabled {
		group.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Addr, registry, logger)
		})
	}

	if loader.FilePath() != "" {
		watcher, err := config.NewWatcher(loader, func(next *config.Config) {
			if err := logging.SetLevel(next.Log.Level); err != nil {
				logger.Warn("ignoring log level", "level", next.Log.Level, "error", err)
				return
			}
			logger.Info("log level applied", "level", next.Log.Level)
		}, logger)
		if err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			group.Go(func() error {
				return watcher.Run(gctx)
			})
		}
	}

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}

// serveMetrics exposes the registry on /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
