package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/offsync/offsync/internal/client/api"
	"github.com/offsync/offsync/internal/client/cli"
	"github.com/offsync/offsync/internal/client/conflict"
	"github.com/offsync/offsync/internal/client/engine"
	"github.com/offsync/offsync/internal/client/iocli"
	"github.com/offsync/offsync/internal/client/netmon"
	"github.com/offsync/offsync/internal/client/queue"
	"github.com/offsync/offsync/internal/client/quota"
	"github.com/offsync/offsync/internal/client/storage/boltdb"
	"github.com/offsync/offsync/internal/config"
	"github.com/offsync/offsync/internal/models"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", "offsync.toml", "Path to config file")
	serverURL := flag.String("server", "", "Server URL (overrides config)")
	dbPath := flag.String("db", "", "Path to local database (overrides config)")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	if err := run(cfg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, args []string) error {
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	store, err := boltdb.New(ctx, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	apiClient := api.NewClient(cfg.Server.URL, cfg.Server.Timeout.Std())

	q, err := queue.NewService(store, store, cfg.Retry.MaxAttempts, logger)
	if err != nil {
		return fmt.Errorf("failed to build queue service: %w", err)
	}

	resolver, err := conflict.NewResolver(store, resolverConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to build resolver: %w", err)
	}

	monitor := netmon.NewMonitor(apiClient, netmon.Config{
		Interval:         cfg.Probe.Interval.Std(),
		Timeout:          cfg.Probe.Timeout.Std(),
		FailureThreshold: cfg.Probe.FailureThreshold,
	}, logger)

	qm := quota.NewManager(store, q, quota.Config{
		CeilingBytes:     cfg.Storage.CeilingBytes,
		WatermarkPercent: cfg.Storage.WatermarkPercent,
	}, func(moduleID string, bytesFreed int64) {
		logger.Info("evicted cached records", "module", moduleID, "bytes_freed", bytesFreed)
	}, logger)

	syncEngine := engine.NewEngine(q, apiClient, store, store,
		conflict.NewDetector(logger), resolver, monitor, qm, engine.Config{
			Workers:       cfg.Sync.Workers,
			BatchSize:     cfg.Sync.BatchSize,
			CallTimeout:   cfg.Server.Timeout.Std(),
			BackoffBase:   cfg.Retry.BackoffBase.Std(),
			BackoffCap:    cfg.Retry.BackoffCap.Std(),
			JitterPercent: cfg.Retry.JitterPercent,
			SyncInterval:  cfg.Sync.Interval.Std(),
		}, engine.Hooks{
			OnConflict: func(item *models.ConflictItem) {
				logger.Warn("conflict needs attention",
					"conflict_id", item.ID,
					"record", models.RecordKey(item.ModuleID, item.RecordID),
					"field", item.Field)
			},
		}, logger)

	if len(args) > 0 && args[0] == "run" {
		return runDaemon(ctx, cfg, syncEngine, monitor, qm, logger)
	}

	c := cli.New(iocli.NewStdio(), q, syncEngine, store, store, qm, monitor)
	return c.Run(ctx, args)
}

// runDaemon keeps the engine, the connectivity monitor and the quota
// sweep running until SIGINT or SIGTERM.
func runDaemon(ctx context.Context, cfg *config.Config, e *engine.Engine, monitor *netmon.Monitor, qm *quota.Manager, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitor.Start(ctx)
	defer monitor.Stop()

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	go quotaSweep(ctx, cfg.Sync.Interval.Std(), qm, logger)

	logger.Info("daemon started", "version", Version)

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigC

	logger.Info("shutting down", "signal", sig.String())
	cancel()
	e.Stop()
	return nil
}

// quotaSweep enforces the storage ceiling at startup and after each sync
// interval, once the cycle that may have grown the cache has finished.
func quotaSweep(ctx context.Context, interval time.Duration, qm *quota.Manager, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := qm.CheckAndEvict(ctx); err != nil {
			logger.Warn("quota check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func resolverConfig(cfg *config.Config) conflict.Config {
	perModule := make(map[string]conflict.Strategy, len(cfg.Conflicts.PerModule))
	for moduleID, name := range cfg.Conflicts.PerModule {
		perModule[moduleID] = conflict.Strategy(name)
	}
	return conflict.Config{
		DefaultStrategy: conflict.Strategy(cfg.Conflicts.DefaultStrategy),
		PerModule:       perModule,
		SkewTolerance:   cfg.Conflicts.SkewTolerance.Std(),
	}
}

func printVersion() {
	fmt.Printf("offsync client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
