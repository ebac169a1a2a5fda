package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/pipeline"
	"github.com/rowforge/rowforge/internal/providers"
	"github.com/rowforge/rowforge/internal/registry"
	"github.com/rowforge/rowforge/internal/telemetry"
)

// EnvironmentEnsurer is the activation manager surface the orchestrator needs.
type EnvironmentEnsurer interface {
	EnsureEnvironment(ctx context.Context, cfg *entity.ConfigVersion, mf *manifest.Manifest) (*entity.ActivationMetadata, error)
}

// StoragePaths locates every persisted record of one run.
type StoragePaths struct {
	JobDir         string
	StagingDir     string
	RunRequestPath string
	ArtifactPath   string
	OutputPath     string
	EventLogPath   string
}

// NewStoragePaths lays out the run directory for one job attempt.
func NewStoragePaths(dataRoot string, jobID uuid.UUID, attempt int) StoragePaths {
	dir := filepath.Join(dataRoot, "jobs", jobID.String(), fmt.Sprintf("attempt-%d", attempt))
	return StoragePaths{
		JobDir:         dir,
		StagingDir:     filepath.Join(dir, "staging"),
		RunRequestPath: filepath.Join(dir, "run_request.json"),
		ArtifactPath:   filepath.Join(dir, "artifact.json"),
		OutputPath:     filepath.Join(dir, "output.xlsx"),
		EventLogPath:   filepath.Join(dir, "events.ndjson"),
	}
}

// Request carries everything one run needs; the queue manager assembles it.
type Request struct {
	Job      *entity.Job
	Config   *entity.ConfigVersion
	Manifest *manifest.Manifest
	Inputs   []providers.ResolvedDocument
	Timeout  time.Duration
	Paths    StoragePaths
}

// Orchestrator drives one job run end-to-end: activation, staging, pipeline
// under timeout, telemetry.
type Orchestrator struct {
	env     EnvironmentEnsurer
	columns *registry.ColumnRegistry
	hooks   *registry.HookRegistry
	logger  *slog.Logger
}

// New creates an orchestrator.
func New(env EnvironmentEnsurer, columns *registry.ColumnRegistry, hooks *registry.HookRegistry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{env: env, columns: columns, hooks: hooks, logger: logger}
}

// Run executes one job attempt. Activation errors propagate unchanged; every
// other failure lands in the returned RunResult as a failed status. The
// artifact and event log are written on every path.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*entity.RunResult, error) {
	job := req.Job
	log := o.logger.With("job_id", job.ID, "attempt", job.Attempt, "trace_id", job.TraceID)

	if err := o.writeRunRequest(req); err != nil {
		return nil, err
	}

	// Activation failures bubble unchanged: the job fails before any
	// pipeline work starts.
	envMeta, err := o.env.EnsureEnvironment(ctx, req.Config, req.Manifest)
	if err != nil {
		return nil, err
	}

	modules, err := o.columns.Build(req.Manifest)
	if err != nil {
		return nil, err
	}
	hookSet, err := o.hooks.Build(req.Manifest, envMeta, req.Config.PackagePath)
	if err != nil {
		return nil, err
	}

	staged, err := stageInputs(req.Paths.StagingDir, req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("stage inputs: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(req.Paths.StagingDir); err != nil {
			log.Error("staging cleanup failed", "error", err)
		}
	}()

	events, err := telemetry.NewEventSink(req.Paths.EventLogPath, log)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer events.Close()
	bindings := telemetry.NewBindings(events, &telemetry.ArtifactSink{Path: req.Paths.ArtifactPath}, log)

	now := time.Now().UTC()
	artifact := &telemetry.Artifact{
		Job: telemetry.ArtifactJob{
			JobID:     job.ID.String(),
			Status:    constants.JobStatusRunning,
			StartedAt: &now,
		},
		Config: telemetry.ArtifactConfig{
			Schema:          req.Manifest.Schema,
			ManifestVersion: req.Manifest.Version,
		},
	}
	bindings.Emit(constants.EventStart, map[string]any{
		"job_id":  job.ID.String(),
		"attempt": job.Attempt,
		"config":  req.Config.ID,
		"inputs":  len(staged),
	})

	result := o.runPipeline(ctx, req, staged, modules, hookSet, bindings, artifact, envMeta)

	done := time.Now().UTC()
	artifact.Job.Status = result.Status
	artifact.Job.CompletedAt = &done
	if result.Status == constants.JobStatusSucceeded {
		artifact.Job.Outputs = []string{result.OutputPath}
	} else {
		artifact.Job.Error = result.ErrorMessage
	}
	if err := bindings.WriteArtifact(artifact); err != nil {
		log.Error("artifact write failed", "error", err)
	}
	bindings.Emit(constants.EventExit, map[string]any{
		"job_id":    job.ID.String(),
		"status":    string(result.Status),
		"timed_out": result.TimedOut,
	})
	return result, nil
}

func (o *Orchestrator) runPipeline(
	ctx context.Context,
	req Request,
	staged []pipeline.StagedInput,
	modules []*registry.ColumnModule,
	hookSet *registry.HookSet,
	bindings *telemetry.Bindings,
	artifact *telemetry.Artifact,
	envMeta *entity.ActivationMetadata,
) *entity.RunResult {
	job := req.Job
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = req.Manifest.Defaults.Timeout()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	jobCtx := registry.JobContext{
		JobID:           job.ID.String(),
		TraceID:         job.TraceID,
		WorkspaceID:     job.WorkspaceID,
		ConfigVersionID: req.Config.ID,
		Attempt:         job.Attempt,
	}
	capEnv := map[string]string{
		"package_path": req.Config.PackagePath,
		"interpreter":  envMeta.InterpreterPath,
	}

	result := &entity.RunResult{
		ArtifactPath: req.Paths.ArtifactPath,
		Diagnostics:  append([]string(nil), envMeta.Diagnostics...),
	}

	if err := hookSet.Call(runCtx, constants.StageOnJobStart, job, artifact, nil); err != nil {
		result.Status = constants.JobStatusFailed
		result.ErrorMessage = err.Error()
		return result
	}
	defer func() {
		// on_job_end always runs; its failure annotates but never flips the run.
		if err := hookSet.Call(context.WithoutCancel(runCtx), constants.StageOnJobEnd, job, artifact, map[string]any{
			"status": string(result.Status),
		}); err != nil {
			o.logger.Error("on_job_end hook failed", "job_id", job.ID, "error", err)
			artifact.AddNote("on_job_end failed: %v", err)
		}
	}()

	extractor := pipeline.NewExtractor(bindings, o.logger)
	var tables []*entity.FileExtraction

	sm := pipeline.NewStateMachine(o.logger)
	outcome := sm.Run(runCtx, pipeline.Stages{
		Extract: func(stageCtx context.Context) error {
			var err error
			tables, err = extractor.ExtractInputs(stageCtx, staged, modules, req.Manifest, jobCtx, capEnv)
			if err == nil {
				artifact.Tables = tables
			}
			return err
		},
		AfterExtractHook: func(stageCtx context.Context) error {
			return hookSet.Call(stageCtx, constants.StageOnAfterExtract, job, artifact, map[string]any{"tables": len(tables)})
		},
		BeforeSaveHook: func(stageCtx context.Context) error {
			return hookSet.Call(stageCtx, constants.StageOnBeforeSave, job, artifact, map[string]any{"output": req.Paths.OutputPath})
		},
		Write: func(stageCtx context.Context) error {
			return pipeline.WriteOutput(req.Paths.OutputPath, req.Manifest, tables)
		},
	})

	if outcome.State == pipeline.StateSucceeded {
		result.Status = constants.JobStatusSucceeded
		result.OutputPath = req.Paths.OutputPath
		return result
	}

	result.Status = constants.JobStatusFailed
	result.ErrorMessage = outcome.ErrorMessage
	// A deadline hit is a distinct failure reason, not a generic error.
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ErrorMessage = fmt.Sprintf("run exceeded timeout %s at stage %s", timeout, outcome.FailedAt)
	}
	return result
}

// writeRunRequest records the run's intent on disk before anything executes.
func (o *Orchestrator) writeRunRequest(req Request) error {
	if err := os.MkdirAll(req.Paths.JobDir, 0o755); err != nil {
		return fmt.Errorf("job dir: %w", err)
	}
	inputs := make([]map[string]string, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		inputs = append(inputs, map[string]string{
			"document_id": in.DocumentID,
			"filename":    in.Filename,
			"sha256":      in.SHA256,
		})
	}
	b, err := json.MarshalIndent(map[string]any{
		"job_id":         req.Job.ID.String(),
		"attempt":        req.Job.Attempt,
		"trace_id":       req.Job.TraceID,
		"workspace_id":   req.Job.WorkspaceID,
		"config_version": req.Config.ID,
		"package_hash":   req.Config.PackageHash,
		"requested_by":   req.Job.RequestedBy,
		"timeout":        req.Timeout.String(),
		"inputs":         inputs,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}
	if err := os.WriteFile(req.Paths.RunRequestPath, b, 0o644); err != nil {
		return fmt.Errorf("write run request: %w", err)
	}
	return nil
}

// stageInputs copies resolved documents into the staging directory under
// sanitized, ordinal-prefixed names: deterministic order, no collisions.
func stageInputs(dir string, inputs []providers.ResolvedDocument) ([]pipeline.StagedInput, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	staged := make([]pipeline.StagedInput, 0, len(inputs))
	for i, in := range inputs {
		name := fmt.Sprintf("%03d_%s", i, sanitizeFilename(in.Filename))
		dst := filepath.Join(dir, name)
		if err := copyFile(in.Path, dst); err != nil {
			return nil, fmt.Errorf("stage %s: %w", in.Filename, err)
		}
		staged = append(staged, pipeline.StagedInput{Path: dst, OriginalName: in.Filename})
	}
	return staged, nil
}

func sanitizeFilename(name string) string {
	out := []rune(filepath.Base(name))
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
