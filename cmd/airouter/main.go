package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/airouter/airouter/internal/breaker"
	"github.com/airouter/airouter/internal/cache"
	"github.com/airouter/airouter/internal/config"
	"github.com/airouter/airouter/internal/executor"
	"github.com/airouter/airouter/internal/fileread"
	"github.com/airouter/airouter/internal/health"
	"github.com/airouter/airouter/internal/learner"
	"github.com/airouter/airouter/internal/pathsafety"
	"github.com/airouter/airouter/internal/registry"
	"github.com/airouter/airouter/internal/routing"
	"github.com/airouter/airouter/internal/toolserver"
)

// Application wires every subsystem together for one router process:
// registry, breaker, health monitor, cache, learner, router, executor,
// file reader, and the toolserver surface on top of them.
type Application struct {
	config  *config.Config
	learner *learner.Learner
	health  *health.Monitor
	svc     *toolserver.Service
	http    *toolserver.Server
	logger  *logrus.Logger
}

// NewApplication loads configuration and constructs every subsystem.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	reg := registry.New(cfg.EndpointDescriptors())

	endpointNames := make([]string, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		endpointNames = append(endpointNames, ep.Name)
	}
	brk := breaker.New(cfg.Breaker, endpointNames)

	learn := learner.New(cfg.Learner, logger)
	if cfg.SnapshotPath != "" {
		learn.LoadSnapshot(cfg.SnapshotPath)
	}

	mon := health.New(cfg.Health, reg, nil, logger)

	rtr := routing.New(cfg.Router, reg, brk, learn, logger)
	exec := executor.New(cfg.Executor, brk, learn, nil, logger)

	resolver := pathsafety.New(cfg.Workspace.Root)
	reader := fileread.New(resolver, logger)
	fileOpts := fileread.Options{
		MaxFileBytes:      cfg.Workspace.MaxFileBytes,
		MaxFiles:          cfg.Workspace.MaxFiles,
		AllowedExtensions: allowedExtensionSet(cfg.Workspace.AllowedExtensions),
		Concurrency:       cfg.Workspace.FileConcurrency,
	}

	c := cache.New(cfg.Cache)

	// Admission control is left at its disabled default: the configuration
	// key set does not yet carry rate-limit keys, so there is no on-disk
	// way to tune it. toolserver.New falls back to a no-op-allow limiter
	// when nil is passed.
	svc := toolserver.New(reg, brk, mon, c, learn, rtr, exec, reader, resolver, fileOpts, nil, logger)

	srv, err := toolserver.NewServer(svc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build ops http server: %w", err)
	}

	return &Application{config: cfg, learner: learn, health: mon, svc: svc, http: srv, logger: logger}, nil
}

func allowedExtensionSet(exts []string) map[string]bool {
	out := make(map[string]bool, len(exts))
	for _, e := range exts {
		out[e] = true
	}
	return out
}

// Run starts the health monitor and ops HTTP server, and blocks until a
// shutdown signal arrives.
func (app *Application) Run(opsAddr string) error {
	app.logger.Info("Starting airouter")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.health.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	httpServer := &http.Server{Addr: opsAddr, Handler: app.http}
	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", opsAddr).Info("ops http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("ops server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		app.health.Stop()
		return err
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	app.logger.Info("starting graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, app.config.DrainOnShutdown)
	defer shutdownCancel()

	app.health.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("ops server shutdown error")
	}

	if app.config.SnapshotPath != "" {
		if err := app.learner.SaveSnapshot(app.config.SnapshotPath); err != nil {
			app.logger.WithError(err).Error("failed to save empirical snapshot")
		}
	}

	app.logger.Info("graceful shutdown completed")
	return nil
}

func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	logger.SetOutput(os.Stdout)
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  AIROUTER_*  overrides for the config file keys defined in internal/config\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		opsAddr    = flag.String("ops-addr", ":8090", "Address for the ops/debug HTTP surface")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Println("airouter v0.1.0")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(*opsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}
