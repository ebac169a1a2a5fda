package intake

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/internal/common"
	"github.com/rowforge/rowforge/internal/providers"
	"github.com/rowforge/rowforge/internal/queue"
	"github.com/rowforge/rowforge/internal/repository"
	"github.com/rowforge/rowforge/internal/telemetry"
)

type stubDocs struct {
	dir string
}

func (s stubDocs) Resolve(_ context.Context, id string) (*providers.ResolvedDocument, error) {
	path := filepath.Join(s.dir, id)
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		return nil, err
	}
	return &providers.ResolvedDocument{DocumentID: id, Path: path, Filename: id, SHA256: "deadbeef"}, nil
}

// newTestSubmitter wires a submitter against a real sqlite-backed manager
// that is never started, so submissions queue but never execute.
func newTestSubmitter(t *testing.T, opts ...queue.Option) (*Submitter, *queue.Manager, string) {
	t.Helper()
	base := t.TempDir()
	dropRoot := filepath.Join(base, "incoming")
	require.NoError(t, os.MkdirAll(dropRoot, 0o755))

	db, err := repository.Open(context.Background(), common.DatabaseConfig{
		DSN: "file:" + filepath.Join(base, "jobs.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))

	events, err := telemetry.NewEventSink(filepath.Join(base, "events.ndjson"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	jobs := repository.NewJobRepository(db, nil)
	mgr := queue.NewManager(jobs, nil, stubDocs{dir: base}, nil, events, base, nil, opts...)
	return NewSubmitter(mgr, dropRoot, nil), mgr, dropRoot
}

func dropFile(t *testing.T, root, name, body string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestProcess_AcceptsValidSubmission(t *testing.T) {
	sub, _, root := newTestSubmitter(t)
	path := dropFile(t, root, "job1.json", `{
		"workspace_id": "ws-1",
		"config_version_id": "v1",
		"document_ids": ["doc-a.csv"],
		"requested_by": "alice"
	}`)

	res := sub.Process(context.Background(), path)
	assert.False(t, res.Rejected)
	assert.NotEqual(t, uuid.Nil, res.JobID)

	// Accepted files move out of the drop directory.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, filepath.Join(root, "..", "accepted", "job1.json"))
}

func TestProcess_RejectsMalformedJSON(t *testing.T) {
	sub, _, root := newTestSubmitter(t)
	path := dropFile(t, root, "bad.json", `{not json`)

	res := sub.Process(context.Background(), path)
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Err, "parse")
	assert.FileExists(t, filepath.Join(root, "..", "rejected", "bad.json"))
}

func TestProcess_RejectsMissingFields(t *testing.T) {
	sub, _, root := newTestSubmitter(t)
	cases := map[string]string{
		"no_workspace.json": `{"config_version_id": "v1", "document_ids": ["d"]}`,
		"no_config.json":    `{"workspace_id": "ws-1", "document_ids": ["d"]}`,
		"no_docs.json":      `{"workspace_id": "ws-1", "config_version_id": "v1", "document_ids": []}`,
	}
	for name, body := range cases {
		path := dropFile(t, root, name, body)
		res := sub.Process(context.Background(), path)
		assert.True(t, res.Rejected, name)
		assert.FileExists(t, filepath.Join(root, "..", "rejected", name), name)
	}
}

func TestProcess_QueueFullLeavesFileInPlace(t *testing.T) {
	sub, mgr, root := newTestSubmitter(t, queue.WithMaxQueueSize(1))

	// Occupy the only queue slot so the submission cannot be admitted.
	res, err := mgr.TryReserve()
	require.NoError(t, err)
	defer res.Release()

	path := dropFile(t, root, "deferred.json", `{
		"workspace_id": "ws-1",
		"config_version_id": "v1",
		"document_ids": ["doc-b.csv"]
	}`)

	out := sub.Process(context.Background(), path)
	assert.True(t, out.Rejected)
	assert.Contains(t, out.Err, "queue full")

	// The file stays in the drop directory for the next rescan.
	assert.FileExists(t, path)
	assert.NoFileExists(t, filepath.Join(root, "..", "rejected", "deferred.json"))
}

func TestProcess_VanishedFileTolerated(t *testing.T) {
	sub, _, root := newTestSubmitter(t)

	res := sub.Process(context.Background(), filepath.Join(root, "gone.json"))
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Err, "vanished")
}
