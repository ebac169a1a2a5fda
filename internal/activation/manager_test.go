package activation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/execx"
	"github.com/rowforge/rowforge/internal/manifest"
)

// scriptedRunner fakes subprocess execution. Creating a venv materializes the
// interpreter on disk so Ready() checks behave like the real thing.
type scriptedRunner struct {
	calls     []execx.Command
	hookOut   string
	hookErr   error
	venvErr   error
	venvHook  func()
	freezeOut string
}

func (r *scriptedRunner) Run(_ context.Context, c execx.Command) ([]byte, []byte, error) {
	r.calls = append(r.calls, c)
	switch {
	case len(c.Args) >= 2 && c.Args[0] == "-m" && c.Args[1] == "venv":
		if r.venvHook != nil {
			r.venvHook()
		}
		if r.venvErr != nil {
			return nil, []byte("interpreter not found"), r.venvErr
		}
		venv := c.Args[2]
		if err := os.MkdirAll(filepath.Join(venv, "bin"), 0o755); err != nil {
			return nil, nil, err
		}
		return nil, nil, os.WriteFile(venvInterpreter(venv), []byte("#!stub"), 0o755)
	case len(c.Args) >= 3 && c.Args[1] == "pip" && c.Args[2] == "install":
		return []byte("Installing collected packages: requests\n"), nil, nil
	case len(c.Args) >= 3 && c.Args[1] == "pip" && c.Args[2] == "freeze":
		return []byte(r.freezeOut), nil, nil
	default:
		// on_activate script execution
		return []byte(r.hookOut), []byte("boom"), r.hookErr
	}
}

func testManifest(t *testing.T, body string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(body))
	require.NoError(t, err)
	return m
}

func plainManifest(t *testing.T) *manifest.Manifest {
	return testManifest(t, `{
		"manifest_version": "1",
		"columns": [{"field": "a", "script": "synonym"}]
	}`)
}

func newTestManager(t *testing.T, runner execx.Runner) (*Manager, *entity.ConfigVersion) {
	t.Helper()
	root := t.TempDir()
	pkg := filepath.Join(root, "package")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	m := NewManager(root, "python3", runner, execx.NewPool(2), nil)
	return m, &entity.ConfigVersion{ID: "v1", PackagePath: pkg}
}

func TestEnsureEnvironment_BuildsAndPersists(t *testing.T) {
	runner := &scriptedRunner{freezeOut: "requests==2.32.0\n"}
	m, cfg := newTestManager(t, runner)

	meta, err := m.EnsureEnvironment(context.Background(), cfg, plainManifest(t))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, constants.ActivationSucceeded, meta.Status)
	assert.True(t, meta.Ready())

	// No requirements.txt in the package: install is skipped with a note.
	log, err := os.ReadFile(meta.InstallLog)
	require.NoError(t, err)
	assert.Contains(t, string(log), "skipping dependency install")

	pkgs, err := os.ReadFile(meta.PackagesFile)
	require.NoError(t, err)
	assert.Contains(t, string(pkgs), "requests==2.32.0")

	// Result file persisted.
	loaded, err := MetadataStore{}.Load(m.Dir(cfg.ID))
	require.NoError(t, err)
	assert.True(t, loaded.Ready())
}

func TestBuild_RecordsPendingBeforeSubprocesses(t *testing.T) {
	runner := &scriptedRunner{}
	m, cfg := newTestManager(t, runner)

	// Capture the on-disk record at the moment the first subprocess runs: a
	// crash here must leave a result that never passes Ready().
	var during *entity.ActivationMetadata
	runner.venvHook = func() {
		meta, err := MetadataStore{}.Load(m.Dir(cfg.ID))
		require.NoError(t, err)
		during = meta
	}

	meta, err := m.EnsureEnvironment(context.Background(), cfg, plainManifest(t))
	require.NoError(t, err)
	assert.Equal(t, constants.ActivationSucceeded, meta.Status)

	require.NotNil(t, during)
	assert.Equal(t, constants.ActivationPending, during.Status)
	assert.False(t, during.Ready())
}

func TestEnsureEnvironment_ReusesReadyEnvironment(t *testing.T) {
	runner := &scriptedRunner{}
	m, cfg := newTestManager(t, runner)

	_, err := m.EnsureEnvironment(context.Background(), cfg, plainManifest(t))
	require.NoError(t, err)
	built := len(runner.calls)

	_, err = m.EnsureEnvironment(context.Background(), cfg, plainManifest(t))
	require.NoError(t, err)
	assert.Equal(t, built, len(runner.calls), "second ensure must not run any subprocess")
}

func TestEnsureEnvironment_RebuildsWhenInterpreterGone(t *testing.T) {
	runner := &scriptedRunner{}
	m, cfg := newTestManager(t, runner)

	meta, err := m.EnsureEnvironment(context.Background(), cfg, plainManifest(t))
	require.NoError(t, err)
	require.NoError(t, os.Remove(meta.InterpreterPath))

	before := len(runner.calls)
	_, err = m.EnsureEnvironment(context.Background(), cfg, plainManifest(t))
	require.NoError(t, err)
	assert.Greater(t, len(runner.calls), before)
}

func TestEnsureEnvironment_InstallsRequirements(t *testing.T) {
	runner := &scriptedRunner{}
	m, cfg := newTestManager(t, runner)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PackagePath, "requirements.txt"), []byte("requests\n"), 0o644))

	meta, err := m.EnsureEnvironment(context.Background(), cfg, plainManifest(t))
	require.NoError(t, err)

	log, err := os.ReadFile(meta.InstallLog)
	require.NoError(t, err)
	assert.Contains(t, string(log), "Installing collected packages")
}

func TestEnsureEnvironment_VenvFailure(t *testing.T) {
	runner := &scriptedRunner{venvErr: errors.New("exit status 1")}
	m, cfg := newTestManager(t, runner)

	_, err := m.EnsureEnvironment(context.Background(), cfg, plainManifest(t))
	require.Error(t, err)

	var actErr *ActivationError
	require.ErrorAs(t, err, &actErr)
	assert.Equal(t, "v1", actErr.ConfigVersionID)
	assert.Contains(t, actErr.Message, "venv creation failed")

	// Failure is persisted: the environment is not reusable.
	loaded, lerr := MetadataStore{}.Load(m.Dir(cfg.ID))
	require.NoError(t, lerr)
	require.NotNil(t, loaded)
	assert.Equal(t, constants.ActivationFailed, loaded.Status)
	assert.False(t, loaded.Ready())
}

func TestEnsureEnvironment_ActivateHookFailure(t *testing.T) {
	runner := &scriptedRunner{
		hookOut: `{"annotation": "warmed cache"}` + "\n" + `{"diagnostic": "model file missing"}` + "\n",
		hookErr: errors.New("exit status 3"),
	}
	m, cfg := newTestManager(t, runner)

	mf := testManifest(t, `{
		"manifest_version": "1",
		"columns": [{"field": "a", "script": "synonym"}],
		"hooks": {"on_activate": [{"script": "setup.py"}]}
	}`)

	_, err := m.EnsureEnvironment(context.Background(), cfg, mf)
	require.Error(t, err)

	var actErr *ActivationError
	require.ErrorAs(t, err, &actErr)
	assert.Contains(t, actErr.Message, "on_activate hook failed")
	assert.Contains(t, actErr.Diagnostics, "model file missing")
	assert.Contains(t, actErr.Diagnostics, "boom")

	loaded, lerr := MetadataStore{}.Load(m.Dir(cfg.ID))
	require.NoError(t, lerr)
	assert.Equal(t, constants.ActivationFailed, loaded.Status)
	assert.Contains(t, loaded.Annotations, "warmed cache")
}

func TestEnsureEnvironment_ActivateHookAnnotations(t *testing.T) {
	runner := &scriptedRunner{
		hookOut: `{"annotation": "ready"}` + "\n" + "not json\n",
	}
	m, cfg := newTestManager(t, runner)

	mf := testManifest(t, `{
		"manifest_version": "1",
		"columns": [{"field": "a", "script": "synonym"}],
		"hooks": {"on_activate": [{"script": "setup.py"}]}
	}`)

	meta, err := m.EnsureEnvironment(context.Background(), cfg, mf)
	require.NoError(t, err)
	assert.Equal(t, []string{"ready"}, meta.Annotations)

	// Structured hook output lands in the hooks file.
	b, err := os.ReadFile(meta.HooksFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ready")
}

func TestMetadataStore_LoadMissing(t *testing.T) {
	meta, err := MetadataStore{}.Load(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.False(t, meta.Ready())
}
