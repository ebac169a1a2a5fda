package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/common"
	"github.com/rowforge/rowforge/internal/entity"
)

func openTestRepo(t *testing.T) JobRepository {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, common.DatabaseConfig{
		DSN: "file:" + filepath.Join(t.TempDir(), "jobs.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema(ctx))
	return NewJobRepository(db, nil)
}

func newJob(workspace, hash string) *entity.Job {
	return &entity.Job{
		ID:              uuid.New(),
		WorkspaceID:     workspace,
		ConfigVersionID: "v1",
		DocumentIDs:     []string{"docs/a.csv", "docs/b.xlsx"},
		Status:          constants.JobStatusQueued,
		Attempt:         1,
		QueuedAt:        time.Now().UTC(),
		InputHash:       hash,
		TraceID:         uuid.NewString(),
		RequestedBy:     "tester",
	}
}

func TestCreateAndLoad(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	job := newJob("ws-1", "hash-1")
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.WorkspaceID, got.WorkspaceID)
	assert.Equal(t, job.DocumentIDs, got.DocumentIDs)
	assert.Equal(t, constants.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.WithinDuration(t, job.QueuedAt, got.QueuedAt, time.Second)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestLoad_NotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.Load(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListByStatus_OrderedByQueuedAt(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	second := newJob("ws-1", "h2")
	second.QueuedAt = time.Now().UTC()
	first := newJob("ws-1", "h1")
	first.QueuedAt = second.QueuedAt.Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, second))
	require.NoError(t, repo.Create(ctx, first))

	jobs, err := repo.ListByStatus(ctx, constants.JobStatusQueued)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)

	running, err := repo.ListByStatus(ctx, constants.JobStatusRunning)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestListStale_ReportsSilentRunners(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := newJob("ws-1", "h-fresh")
	stale := newJob("ws-1", "h-stale")
	idle := newJob("ws-1", "h-idle")
	for _, j := range []*entity.Job{fresh, stale, idle} {
		require.NoError(t, repo.Create(ctx, j))
	}

	require.NoError(t, repo.MarkRunning(ctx, fresh.ID, now))
	require.NoError(t, repo.MarkRunning(ctx, stale.ID, now.Add(-time.Hour)))
	require.NoError(t, repo.SetHeartbeat(ctx, stale.ID, now.Add(-30*time.Minute)))
	// idle stays queued and must never be reported.

	got, err := repo.ListStale(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)

	// With a generous cutoff nothing is stale.
	got, err = repo.ListStale(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindByInputHash(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	job := newJob("ws-1", "same-hash")
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.FindByInputHash(ctx, "ws-1", "same-hash")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	// Same hash in another workspace does not match.
	got, err = repo.FindByInputHash(ctx, "ws-2", "same-hash")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMarkRunningAndHeartbeat(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	job := newJob("ws-1", "h")
	require.NoError(t, repo.Create(ctx, job))

	started := time.Now().UTC()
	require.NoError(t, repo.MarkRunning(ctx, job.ID, started))

	got, err := repo.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.HeartbeatAt)

	beat := started.Add(15 * time.Second)
	require.NoError(t, repo.SetHeartbeat(ctx, job.ID, beat))
	got, err = repo.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, beat, *got.HeartbeatAt, time.Second)
}

func TestRequeue_IncrementsAttempt(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	job := newJob("ws-1", "h")
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.MarkRunning(ctx, job.ID, time.Now().UTC()))

	require.NoError(t, repo.Requeue(ctx, job.ID))

	got, err := repo.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusQueued, got.Status)
	assert.Equal(t, 2, got.Attempt)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.HeartbeatAt)
}

func TestFinish_PersistsFinalState(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	job := newJob("ws-1", "h")
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.Finish(ctx, job.ID, FinalState{
		Status:        constants.JobStatusSucceeded,
		ArtifactURI:   "/data/jobs/x/artifact.json",
		OutputURI:     "/data/jobs/x/output.xlsx",
		LogsURI:       "/data/jobs/x/events.ndjson",
		RunRequestURI: "/data/jobs/x/run_request.json",
	}))

	got, err := repo.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, got.Status)
	assert.True(t, got.Status.Terminal())
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, "/data/jobs/x/output.xlsx", got.OutputURI)
	assert.Empty(t, got.ErrorMessage)
}

func TestFinish_FailureKeepsMessage(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	job := newJob("ws-1", "h")
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.Finish(ctx, job.ID, FinalState{
		Status:       constants.JobStatusFailed,
		ErrorMessage: "run exceeded timeout 5m0s at stage writing",
	}))

	got, err := repo.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "timeout")
}
