package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rowforge/rowforge/internal/activation"
	"github.com/rowforge/rowforge/internal/common"
	"github.com/rowforge/rowforge/internal/execx"
	"github.com/rowforge/rowforge/internal/intake"
	"github.com/rowforge/rowforge/internal/orchestrator"
	"github.com/rowforge/rowforge/internal/providers"
	"github.com/rowforge/rowforge/internal/queue"
	"github.com/rowforge/rowforge/internal/registry"
	"github.com/rowforge/rowforge/internal/registry/builtin"
	"github.com/rowforge/rowforge/internal/repository"
	"github.com/rowforge/rowforge/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	configRoot := getenv("CONFIG_ROOT", filepath.Join(cfg.Engine.DataRoot, "configs"))
	documentRoot := getenv("DOCUMENT_ROOT", filepath.Join(cfg.Engine.DataRoot, "documents"))
	submissionRoot := getenv("SUBMISSION_ROOT", filepath.Join(cfg.Engine.DataRoot, "submissions"))
	for _, dir := range []string{cfg.Engine.DataRoot, configRoot, documentRoot, submissionRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open job store", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.HealthCheck(ctx); err != nil {
		logger.Error("job store health check failed", "error", err)
		os.Exit(1)
	}
	if err := db.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	events, err := telemetry.NewEventSink(filepath.Join(cfg.Engine.DataRoot, "engine-events.ndjson"), logger)
	if err != nil {
		logger.Error("failed to open engine event log", "error", err)
		os.Exit(1)
	}
	defer events.Close()

	pool := execx.NewPool(cfg.Runtime.BlockingPoolSize)
	runner := execx.ExecRunner{}

	configs := &providers.FSConfigProvider{Root: configRoot, Pool: pool}
	docs := &providers.FSDocumentProvider{Root: documentRoot, Pool: pool}

	columns := registry.NewColumnRegistry(logger)
	builtin.Register(columns)
	hooks := registry.NewHookRegistry(runner, logger)

	activator := activation.NewManager(
		filepath.Join(cfg.Engine.DataRoot, "envs"),
		cfg.Runtime.Interpreter,
		runner, pool, logger,
	)
	orch := orchestrator.New(activator, columns, hooks, logger)

	manager := queue.NewManager(
		repository.NewJobRepository(db, logger),
		configs, docs, orch, events, cfg.Engine.DataRoot, logger,
		queue.WithMaxQueueSize(cfg.Engine.MaxQueueSize),
		queue.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
		queue.WithHeartbeatInterval(cfg.Engine.HeartbeatInterval),
		queue.WithDefaultTimeout(cfg.Engine.DefaultJobTimeout),
	)
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start queue manager", "error", err)
		os.Exit(1)
	}

	submitter := intake.NewSubmitter(manager, submissionRoot, logger)
	paths, watchErrs, err := intake.StartWatcher(ctx, intake.WatchConfig{
		Root:        submissionRoot,
		InitialScan: true,
	}, logger)
	if err != nil {
		logger.Error("failed to start submission watcher", "error", err)
		os.Exit(1)
	}

	// Deferred (queue-full) submissions stay in the drop directory and are
	// retried on a slow rescan.
	rescan := time.NewTicker(30 * time.Second)
	defer rescan.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-paths:
				if !ok {
					return
				}
				submitter.Process(ctx, p)
			case err, ok := <-watchErrs:
				if ok && err != nil {
					logger.Error("submission watcher error", "error", err)
				}
			case <-rescan.C:
				_ = filepath.WalkDir(submissionRoot, func(p string, d fs.DirEntry, walkErr error) error {
					if walkErr != nil || d.IsDir() || filepath.Ext(p) != ".json" {
						return nil
					}
					submitter.Process(ctx, p)
					return nil
				})
			}
		}
	}()

	logger.Info("rowforged started",
		"data_root", cfg.Engine.DataRoot,
		"submission_root", submissionRoot,
		"workers", cfg.Engine.MaxConcurrency,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
