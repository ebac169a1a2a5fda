package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/common"
	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/execx"
	"github.com/rowforge/rowforge/internal/manifest"
)

// ActivationError reports an environment build or on_activate hook failure.
// Diagnostics are first-class so callers never dig them out of a message.
type ActivationError struct {
	ConfigVersionID string
	Message         string
	Diagnostics     []string
	Cause           error
}

func (e *ActivationError) Error() string {
	if len(e.Diagnostics) > 0 {
		return fmt.Sprintf("activation %s: %s (%s)", e.ConfigVersionID, e.Message, strings.Join(e.Diagnostics, "; "))
	}
	return fmt.Sprintf("activation %s: %s", e.ConfigVersionID, e.Message)
}

func (e *ActivationError) Unwrap() error { return e.Cause }

// Manager builds and caches one isolated runtime per configuration version.
type Manager struct {
	root        string // activations live under <root>/activations/<version>
	interpreter string // base interpreter used to create the venv
	store       MetadataStore
	runner      execx.Runner
	pool        *execx.Pool
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a manager rooted at root.
func NewManager(root, interpreter string, runner execx.Runner, pool *execx.Pool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if interpreter == "" {
		interpreter = "python3"
	}
	return &Manager{
		root:        root,
		interpreter: interpreter,
		store:       MetadataStore{},
		runner:      runner,
		pool:        pool,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Dir returns the activation directory for a config version.
func (m *Manager) Dir(versionID string) string {
	return filepath.Join(m.root, "activations", versionID)
}

// versionLock serializes builds per config version: at most one build is in
// flight per version at a time.
func (m *Manager) versionLock(versionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[versionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[versionID] = l
	}
	return l
}

// EnsureEnvironment returns a ready environment for the config version,
// reusing an existing one when its result file says succeeded and the
// interpreter still exists on disk. Anything else triggers a full rebuild.
func (m *Manager) EnsureEnvironment(ctx context.Context, cfg *entity.ConfigVersion, mf *manifest.Manifest) (*entity.ActivationMetadata, error) {
	lock := m.versionLock(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	dir := m.Dir(cfg.ID)
	meta, err := m.store.Load(dir)
	if err != nil {
		return nil, err
	}
	if meta.Ready() {
		m.logger.Debug("activation reused", "config_version", cfg.ID, "venv", meta.VenvPath)
		return meta, nil
	}

	return m.build(ctx, cfg, mf, dir)
}

func (m *Manager) build(ctx context.Context, cfg *entity.ConfigVersion, mf *manifest.Manifest, dir string) (*entity.ActivationMetadata, error) {
	// Builds are shared across jobs; the triggering job travels in the ctx.
	m.logger.Info("building activation environment",
		"config_version", cfg.ID,
		"workspace_id", common.WorkspaceIDFromContext(ctx),
		"trace_id", common.TraceIDFromContext(ctx),
	)

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("remove stale activation: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create activation dir: %w", err)
	}

	venv := filepath.Join(dir, "venv")
	meta := &entity.ActivationMetadata{
		Status:       constants.ActivationPending,
		StartedAt:    time.Now().UTC(),
		VenvPath:     venv,
		InstallLog:   filepath.Join(dir, "install.log"),
		PackagesFile: filepath.Join(dir, "packages.txt"),
		HooksFile:    filepath.Join(dir, "hooks.json"),
	}
	// Record the build before any subprocess runs: a crash mid-build leaves
	// a pending result on disk, which never passes Ready().
	if err := m.store.Save(dir, meta); err != nil {
		return nil, fmt.Errorf("record pending activation: %w", err)
	}
	meta.Status = constants.ActivationRunning
	// The result file is written on every exit path, success or failure, so
	// metadata reads are always consistent.
	defer func() {
		now := time.Now().UTC()
		meta.CompletedAt = &now
		if err := m.store.Save(dir, meta); err != nil {
			m.logger.Error("activation result write failed", "config_version", cfg.ID, "error", err)
		}
	}()

	fail := func(msg string, diags []string, cause error) (*entity.ActivationMetadata, error) {
		meta.Status = constants.ActivationFailed
		meta.Error = msg
		meta.Diagnostics = append(meta.Diagnostics, diags...)
		return nil, &ActivationError{ConfigVersionID: cfg.ID, Message: msg, Diagnostics: diags, Cause: cause}
	}

	// venv creation is filesystem-heavy; run it through the blocking pool.
	var venvErr error
	err := m.pool.Do(ctx, func() error {
		_, stderr, err := m.runner.Run(ctx, execx.Command{
			Name: m.interpreter,
			Args: []string{"-m", "venv", venv},
		})
		if err != nil {
			venvErr = fmt.Errorf("%v: %s", err, strings.TrimSpace(string(stderr)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if venvErr != nil {
		return fail("venv creation failed", nil, venvErr)
	}
	meta.InterpreterPath = venvInterpreter(venv)

	if err := m.installRequirements(ctx, cfg, meta); err != nil {
		return fail("dependency install failed", []string{"see " + meta.InstallLog}, err)
	}
	if err := m.snapshotPackages(ctx, meta); err != nil {
		return fail("package snapshot failed", nil, err)
	}
	if diags, err := m.runActivateHooks(ctx, cfg, mf, meta); err != nil {
		return fail("on_activate hook failed", diags, err)
	}

	meta.Status = constants.ActivationSucceeded
	m.logger.Info("activation environment ready", "config_version", cfg.ID, "interpreter", meta.InterpreterPath)
	return meta, nil
}

// installRequirements installs requirements.txt when the package ships one,
// teeing install output to the install log. A missing file is a logged skip,
// not an error.
func (m *Manager) installRequirements(ctx context.Context, cfg *entity.ConfigVersion, meta *entity.ActivationMetadata) error {
	req := filepath.Join(cfg.PackagePath, "requirements.txt")
	if _, err := os.Stat(req); err != nil {
		note := fmt.Sprintf("no requirements.txt in %s, skipping dependency install\n", cfg.PackagePath)
		m.logger.Info("dependency install skipped", "config_version", cfg.ID)
		return os.WriteFile(meta.InstallLog, []byte(note), 0o644)
	}

	var stdout, stderr []byte
	var runErr error
	err := m.pool.Do(ctx, func() error {
		stdout, stderr, runErr = m.runner.Run(ctx, execx.Command{
			Name: meta.InterpreterPath,
			Args: []string{"-m", "pip", "install", "-r", req},
			Dir:  cfg.PackagePath,
		})
		return nil
	})
	if err != nil {
		return err
	}
	log := append(stdout, stderr...)
	if werr := os.WriteFile(meta.InstallLog, log, 0o644); werr != nil {
		m.logger.Error("install log write failed", "error", werr)
	}
	return runErr
}

func (m *Manager) snapshotPackages(ctx context.Context, meta *entity.ActivationMetadata) error {
	stdout, _, err := m.runner.Run(ctx, execx.Command{
		Name: meta.InterpreterPath,
		Args: []string{"-m", "pip", "freeze"},
	})
	if err != nil {
		return err
	}
	return os.WriteFile(meta.PackagesFile, stdout, 0o644)
}

// hookRecord is one structured line emitted by an on_activate script.
type hookRecord struct {
	Annotation string `json:"annotation,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// runActivateHooks executes every declared on_activate script inside the new
// environment against the package directory, collecting structured
// annotations and diagnostics into the hooks file.
func (m *Manager) runActivateHooks(ctx context.Context, cfg *entity.ConfigVersion, mf *manifest.Manifest, meta *entity.ActivationMetadata) ([]string, error) {
	refs := mf.Hooks.ForStage(constants.StageOnActivate)
	if len(refs) == 0 {
		return nil, nil
	}

	for _, ref := range refs {
		if ref.Script == "" {
			return nil, fmt.Errorf("on_activate hook without script reference")
		}
		script := filepath.Join(cfg.PackagePath, ref.Script)
		stdout, stderr, err := m.runner.Run(ctx, execx.Command{
			Name: meta.InterpreterPath,
			Args: []string{script},
			Dir:  cfg.PackagePath,
		})

		for _, line := range strings.Split(string(stdout), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var rec hookRecord
			if json.Unmarshal([]byte(line), &rec) != nil {
				continue
			}
			if rec.Annotation != "" {
				meta.Annotations = append(meta.Annotations, rec.Annotation)
			}
			if rec.Diagnostic != "" {
				meta.Diagnostics = append(meta.Diagnostics, rec.Diagnostic)
			}
		}

		if err != nil {
			diags := append([]string(nil), meta.Diagnostics...)
			if msg := strings.TrimSpace(string(stderr)); msg != "" {
				diags = append(diags, msg)
			}
			m.writeHooksFile(meta)
			return diags, fmt.Errorf("hook %s: %w", ref.Script, err)
		}
	}

	m.writeHooksFile(meta)
	return nil, nil
}

func (m *Manager) writeHooksFile(meta *entity.ActivationMetadata) {
	b, err := json.MarshalIndent(map[string]any{
		"annotations": meta.Annotations,
		"diagnostics": meta.Diagnostics,
	}, "", "  ")
	if err == nil {
		if werr := os.WriteFile(meta.HooksFile, b, 0o644); werr != nil {
			m.logger.Error("hooks file write failed", "error", werr)
		}
	}
}

func venvInterpreter(venv string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts", "python.exe")
	}
	return filepath.Join(venv, "bin", "python")
}
