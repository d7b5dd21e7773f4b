package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/sparkles-gui/sparkles-backend/internal/config"
	"github.com/sparkles-gui/sparkles-backend/internal/discovery"
	"github.com/sparkles-gui/sparkles-backend/internal/logging"
	"github.com/sparkles-gui/sparkles-backend/internal/metrics"
	"github.com/sparkles-gui/sparkles-backend/internal/registry"
	"github.com/sparkles-gui/sparkles-backend/internal/wsconn"
)

func main() {
	path := flag.String("path", "", "base directory whose trace/ subdirectory is watched for producer files (overrides config/env)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *path != "" {
		cfg.Discovery.TraceDir = *path
	}
	// --path names a base directory; the trace/ subdirectory underneath it
	// is what actually gets scanned/watched for *.sprk files.
	cfg.Discovery.TraceDir = filepath.Join(cfg.Discovery.TraceDir, "trace")

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	logger.Info("starting sparklesd", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))

	metricsRegistry := metrics.NewRegistry()
	sampler := metrics.NewSystemSampler(metricsRegistry)

	reg := registry.New(logger.Named("registry"))
	disc := discovery.New(cfg.Discovery.MulticastAddr, cfg.Discovery.TraceDir, logger.Named("discovery"), metricsRegistry)
	mgr := registry.NewManager(reg, logger.Named("producer"), metricsRegistry, disc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sampler.Run(ctx)
	go func() {
		if err := disc.Run(ctx); err != nil {
			logger.Error("discovery loop exited", zap.Error(err))
		}
	}()

	server := wsconn.NewServer(cfg.Server, logger.Named("http"), reg, mgr, disc, metricsRegistry, sampler)
	httpErrCh := make(chan error, 1)
	server.Start(ctx, httpErrCh)

	if cfg.Server.AutoOpen && os.Getenv("SPARKLES_DEV") == "" {
		openBrowser(fmt.Sprintf("http://%s", server.Addr()), logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		logger.Error("http server error", zap.Error(err))
		stop()
	}

	server.Shutdown(5 * time.Second)
	logger.Info("sparklesd stopped")
}
