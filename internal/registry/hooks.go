package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/execx"
	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/telemetry"
)

// HookLoadError reports a hook reference that could not be resolved.
type HookLoadError struct {
	Stage  constants.HookStage
	Ref    string
	Reason string
}

func (e *HookLoadError) Error() string {
	return fmt.Sprintf("hook load: stage %s ref %q: %s", e.Stage, e.Ref, e.Reason)
}

// HookExecutionError wraps a hook failure, naming the offending hook and stage.
type HookExecutionError struct {
	Hook  string
	Stage constants.HookStage
	Cause error
}

func (e *HookExecutionError) Error() string {
	return fmt.Sprintf("hook %q failed at stage %s: %v", e.Hook, e.Stage, e.Cause)
}

func (e *HookExecutionError) Unwrap() error { return e.Cause }

// Hook is a callable lifecycle entry point.
type Hook interface {
	Name() string
	Run(ctx context.Context, job *entity.Job, artifact *telemetry.Artifact, stageCtx map[string]any) error
}

// HookFactory builds a registered in-process hook.
type HookFactory func(ref manifest.HookRef) (Hook, error)

// jobStages are the stages a HookSet serves. on_activate scripts are executed
// by the activation manager inside the environment build, not here.
var jobStages = []constants.HookStage{
	constants.StageOnJobStart,
	constants.StageOnAfterExtract,
	constants.StageOnBeforeSave,
	constants.StageOnJobEnd,
}

// HookRegistry resolves manifest hook references into callable entry points:
// registered Go factories by name, or package scripts run through the
// activation environment's interpreter.
type HookRegistry struct {
	mu        sync.RWMutex
	factories map[string]HookFactory
	runner    execx.Runner
	logger    *slog.Logger
}

// NewHookRegistry creates a registry executing script hooks through runner.
func NewHookRegistry(runner execx.Runner, logger *slog.Logger) *HookRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &HookRegistry{
		factories: make(map[string]HookFactory),
		runner:    runner,
		logger:    logger,
	}
}

// Register binds a hook factory to a name.
func (r *HookRegistry) Register(name string, f HookFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build resolves every job-stage hook reference against the given activation
// environment. Resolution failures surface as HookLoadError before any job
// runs against this environment.
func (r *HookRegistry) Build(m *manifest.Manifest, env *entity.ActivationMetadata, packageDir string) (*HookSet, error) {
	set := &HookSet{
		hooks:  make(map[constants.HookStage][]Hook),
		logger: r.logger,
	}
	for _, stage := range jobStages {
		for _, ref := range m.Hooks.ForStage(stage) {
			h, err := r.resolveRef(stage, ref, env, packageDir)
			if err != nil {
				return nil, err
			}
			set.hooks[stage] = append(set.hooks[stage], h)
		}
	}
	return set, nil
}

func (r *HookRegistry) resolveRef(stage constants.HookStage, ref manifest.HookRef, env *entity.ActivationMetadata, packageDir string) (Hook, error) {
	if ref.Name != "" {
		r.mu.RLock()
		factory, ok := r.factories[ref.Name]
		r.mu.RUnlock()
		if !ok {
			return nil, &HookLoadError{Stage: stage, Ref: ref.Name, Reason: "no registered hook"}
		}
		h, err := factory(ref)
		if err != nil {
			return nil, &HookLoadError{Stage: stage, Ref: ref.Name, Reason: err.Error()}
		}
		return h, nil
	}
	if ref.Script == "" {
		return nil, &HookLoadError{Stage: stage, Ref: "", Reason: "hook declares neither name nor script"}
	}
	script := filepath.Join(packageDir, ref.Script)
	if _, err := os.Stat(script); err != nil {
		return nil, &HookLoadError{Stage: stage, Ref: ref.Script, Reason: "script not found in package"}
	}
	if env == nil || env.InterpreterPath == "" {
		return nil, &HookLoadError{Stage: stage, Ref: ref.Script, Reason: "no activation interpreter for script hook"}
	}
	return &scriptHook{
		name:        ref.Script,
		stage:       stage,
		script:      script,
		interpreter: env.InterpreterPath,
		packageDir:  packageDir,
		runner:      r.runner,
	}, nil
}

// HookSet is the resolved hook table for one manifest + environment.
type HookSet struct {
	hooks  map[constants.HookStage][]Hook
	logger *slog.Logger
}

// Call invokes every hook registered for stage in declaration order. The
// first failure stops the stage and is wrapped as HookExecutionError.
func (s *HookSet) Call(ctx context.Context, stage constants.HookStage, job *entity.Job, artifact *telemetry.Artifact, stageCtx map[string]any) error {
	for _, h := range s.hooks[stage] {
		s.logger.Debug("hook invoked", "stage", stage, "hook", h.Name())
		if err := h.Run(ctx, job, artifact, stageCtx); err != nil {
			return &HookExecutionError{Hook: h.Name(), Stage: stage, Cause: err}
		}
	}
	return nil
}

// Count returns the number of hooks bound to a stage.
func (s *HookSet) Count(stage constants.HookStage) int { return len(s.hooks[stage]) }

// scriptHook runs a package script with the activation interpreter, feeding
// the job, stage and context as JSON on stdin. Stdout lines that parse as
// {"note": "..."} objects are added to the artifact notes.
type scriptHook struct {
	name        string
	stage       constants.HookStage
	script      string
	interpreter string
	packageDir  string
	runner      execx.Runner
}

func (h *scriptHook) Name() string { return h.name }

func (h *scriptHook) Run(ctx context.Context, job *entity.Job, artifact *telemetry.Artifact, stageCtx map[string]any) error {
	payload, err := json.Marshal(map[string]any{
		"stage":   h.stage,
		"job":     job,
		"context": stageCtx,
	})
	if err != nil {
		return fmt.Errorf("marshal hook payload: %w", err)
	}
	stdout, stderr, err := h.runner.Run(ctx, execx.Command{
		Name: h.interpreter,
		Args: []string{h.script},
		Dir:  h.packageDir,
		In:   payload,
	})
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s", msg)
	}
	if artifact != nil {
		for _, line := range strings.Split(string(stdout), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var rec struct {
				Note string `json:"note"`
			}
			if json.Unmarshal([]byte(line), &rec) == nil && rec.Note != "" {
				artifact.AddNote("%s: %s", h.name, rec.Note)
			}
		}
	}
	return nil
}
