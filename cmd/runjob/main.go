package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/activation"
	"github.com/rowforge/rowforge/internal/common"
	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/execx"
	"github.com/rowforge/rowforge/internal/orchestrator"
	"github.com/rowforge/rowforge/internal/providers"
	"github.com/rowforge/rowforge/internal/registry"
	"github.com/rowforge/rowforge/internal/registry/builtin"
)

// runjob executes a single config version against input documents without
// the queue or the job store. Operator and debugging tool.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		configVersion = flag.String("config", "", "config version id (required)")
		docsArg       = flag.String("docs", "", "comma-separated document ids (required)")
		workspace     = flag.String("workspace", "local", "workspace id")
		timeout       = flag.Duration("timeout", 5*time.Minute, "run timeout")
	)
	flag.Parse()
	if *configVersion == "" || *docsArg == "" {
		logger.Error("usage", "cmd", "runjob -config <version> -docs <id,id,...>")
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	configRoot := getenv("CONFIG_ROOT", cfg.Engine.DataRoot+"/configs")
	documentRoot := getenv("DOCUMENT_ROOT", cfg.Engine.DataRoot+"/documents")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Minute)
	defer cancel()

	pool := execx.NewPool(cfg.Runtime.BlockingPoolSize)
	runner := execx.ExecRunner{}
	configs := &providers.FSConfigProvider{Root: configRoot, Pool: pool}
	docsProvider := &providers.FSDocumentProvider{Root: documentRoot, Pool: pool}

	mf, err := configs.GetManifest(ctx, *configVersion)
	if err != nil {
		logger.Error("load manifest", "config", *configVersion, "error", err)
		os.Exit(1)
	}
	cv, err := configs.GetPackagePath(ctx, *configVersion)
	if err != nil {
		logger.Error("load config package", "config", *configVersion, "error", err)
		os.Exit(1)
	}

	var inputs []providers.ResolvedDocument
	docIDs := strings.Split(*docsArg, ",")
	for _, id := range docIDs {
		doc, err := docsProvider.Resolve(ctx, strings.TrimSpace(id))
		if err != nil {
			logger.Error("resolve document", "document_id", id, "error", err)
			os.Exit(1)
		}
		inputs = append(inputs, *doc)
	}

	columns := registry.NewColumnRegistry(logger)
	builtin.Register(columns)
	hooks := registry.NewHookRegistry(runner, logger)
	activator := activation.NewManager(cfg.Engine.DataRoot+"/envs", cfg.Runtime.Interpreter, runner, pool, logger)
	orch := orchestrator.New(activator, columns, hooks, logger)

	job := &entity.Job{
		ID:              uuid.New(),
		WorkspaceID:     *workspace,
		ConfigVersionID: *configVersion,
		DocumentIDs:     docIDs,
		Status:          constants.JobStatusRunning,
		Attempt:         1,
		QueuedAt:        time.Now().UTC(),
		TraceID:         uuid.NewString(),
		RequestedBy:     "runjob",
	}

	start := time.Now()
	result, err := orch.Run(ctx, orchestrator.Request{
		Job:      job,
		Config:   cv,
		Manifest: mf,
		Inputs:   inputs,
		Timeout:  *timeout,
		Paths:    orchestrator.NewStoragePaths(cfg.Engine.DataRoot, job.ID, job.Attempt),
	})
	dur := time.Since(start)

	if err != nil {
		logger.Error("run failed", "job_id", job.ID, "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}
	if result.Status != constants.JobStatusSucceeded {
		logger.Error("run did not succeed",
			"job_id", job.ID,
			"status", result.Status,
			"timed_out", result.TimedOut,
			"error", result.ErrorMessage,
			"artifact", result.ArtifactPath,
			"duration_ms", dur.Milliseconds(),
		)
		os.Exit(1)
	}

	logger.Info("run OK",
		"job_id", job.ID,
		"output", result.OutputPath,
		"artifact", result.ArtifactPath,
		"duration_ms", dur.Milliseconds(),
	)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
