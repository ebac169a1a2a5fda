package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/common"
	"github.com/rowforge/rowforge/internal/entity"
)

// FinalState carries everything persisted when a job reaches a terminal
// status. Applied in one update so the row never lands half-written.
type FinalState struct {
	Status        constants.JobStatus
	ErrorMessage  string
	ArtifactURI   string
	OutputURI     string
	LogsURI       string
	RunRequestURI string
}

// JobRepository persists job records. Status mutation of queued/running rows
// has exactly one caller, the queue manager, so no row locking is used here.
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Load(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ListByStatus(ctx context.Context, status constants.JobStatus) ([]*entity.Job, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]*entity.Job, error)
	FindByInputHash(ctx context.Context, workspaceID, inputHash string) (*entity.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) error
	Requeue(ctx context.Context, id uuid.UUID) error
	SetHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error
	Finish(ctx context.Context, id uuid.UUID, final FinalState) error
}

const timeLayout = time.RFC3339Nano

var jobColumns = []string{
	"id", "workspace_id", "config_version_id", "document_ids", "status",
	"attempt", "queued_at", "started_at", "completed_at", "heartbeat_at",
	"artifact_uri", "output_uri", "logs_uri", "run_request_uri",
	"input_hash", "trace_id", "error_message", "requested_by",
}

type jobRepo struct {
	db  *DB
	log *slog.Logger
}

// NewJobRepository creates a repository over the given store.
func NewJobRepository(db *DB, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{db: db, log: log}
}

func (r *jobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect)
}

func (r *jobRepo) Create(ctx context.Context, job *entity.Job) error {
	docs, err := json.Marshal(job.DocumentIDs)
	if err != nil {
		return fmt.Errorf("marshal document ids: %w", err)
	}
	query, args := r.builder().
		Insert("jobs").
		Columns(jobColumns...).
		Values(
			job.ID.String(), job.WorkspaceID, job.ConfigVersionID, string(docs),
			string(job.Status), job.Attempt, formatTime(&job.QueuedAt),
			formatTime(job.StartedAt), formatTime(job.CompletedAt), formatTime(job.HeartbeatAt),
			job.ArtifactURI, job.OutputURI, job.LogsURI, job.RunRequestURI,
			job.InputHash, job.TraceID, job.ErrorMessage, job.RequestedBy,
		).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("job create failed", "job_id", job.ID, "err", err)
		return common.WrapError(err, "create job")
	}
	r.log.Info("job created", "job_id", job.ID, "workspace_id", job.WorkspaceID, "attempt", job.Attempt)
	return nil
}

func (r *jobRepo) Load(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query, args := r.builder().
		Select(jobColumns...).
		From(entsql.Table("jobs")).
		Where(entsql.EQ("id", id.String())).
		Query()
	row := r.db.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.WrapError(common.ErrNotFound, fmt.Sprintf("job %s", id))
	}
	return job, err
}

func (r *jobRepo) ListByStatus(ctx context.Context, status constants.JobStatus) ([]*entity.Job, error) {
	query, args := r.builder().
		Select(jobColumns...).
		From(entsql.Table("jobs")).
		Where(entsql.EQ("status", string(status))).
		OrderBy(entsql.Asc("queued_at")).
		Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.WrapError(err, "list jobs")
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListStale returns running jobs whose last heartbeat (or start, when none
// was recorded yet) is older than cutoff. Monitoring uses this to spot
// workers that died without orphan recovery.
func (r *jobRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*entity.Job, error) {
	running, err := r.ListByStatus(ctx, constants.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	var stale []*entity.Job
	for _, job := range running {
		last := job.StartedAt
		if job.HeartbeatAt != nil {
			last = job.HeartbeatAt
		}
		if last != nil && last.Before(cutoff) {
			stale = append(stale, job)
		}
	}
	return stale, nil
}

func (r *jobRepo) FindByInputHash(ctx context.Context, workspaceID, inputHash string) (*entity.Job, error) {
	query, args := r.builder().
		Select(jobColumns...).
		From(entsql.Table("jobs")).
		Where(entsql.And(
			entsql.EQ("workspace_id", workspaceID),
			entsql.EQ("input_hash", inputHash),
		)).
		OrderBy(entsql.Desc("queued_at")).
		Limit(1).
		Query()
	row := r.db.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (r *jobRepo) MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) error {
	ts := formatTime(&at)
	query, args := r.builder().
		Update("jobs").
		Set("status", string(constants.JobStatusRunning)).
		Set("started_at", ts).
		Set("heartbeat_at", ts).
		Where(entsql.EQ("id", id.String())).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("job mark running failed", "job_id", id, "err", err)
		return common.WrapError(err, "mark running")
	}
	return nil
}

// Requeue returns an orphaned running job to the queue with an incremented
// attempt counter.
func (r *jobRepo) Requeue(ctx context.Context, id uuid.UUID) error {
	query, args := r.builder().
		Update("jobs").
		Set("status", string(constants.JobStatusQueued)).
		Add("attempt", 1).
		SetNull("started_at").
		SetNull("heartbeat_at").
		Where(entsql.EQ("id", id.String())).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("job requeue failed", "job_id", id, "err", err)
		return common.WrapError(err, "requeue job")
	}
	r.log.Warn("job requeued after crash recovery", "job_id", id)
	return nil
}

func (r *jobRepo) SetHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	query, args := r.builder().
		Update("jobs").
		Set("heartbeat_at", formatTime(&at)).
		Where(entsql.EQ("id", id.String())).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return common.WrapError(err, "set heartbeat")
	}
	return nil
}

func (r *jobRepo) Finish(ctx context.Context, id uuid.UUID, final FinalState) error {
	now := time.Now().UTC()
	query, args := r.builder().
		Update("jobs").
		Set("status", string(final.Status)).
		Set("completed_at", formatTime(&now)).
		Set("error_message", final.ErrorMessage).
		Set("artifact_uri", final.ArtifactURI).
		Set("output_uri", final.OutputURI).
		Set("logs_uri", final.LogsURI).
		Set("run_request_uri", final.RunRequestURI).
		Where(entsql.EQ("id", id.String())).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("job finish failed", "job_id", id, "err", err)
		return common.WrapError(err, "finish job")
	}
	r.log.Info("job finished", "job_id", id, "status", final.Status)
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*entity.Job, error) {
	var (
		job                                 entity.Job
		idStr, status, docs                 string
		queuedAt                            string
		startedAt, completedAt, heartbeatAt sql.NullString
	)
	err := s.Scan(
		&idStr, &job.WorkspaceID, &job.ConfigVersionID, &docs, &status,
		&job.Attempt, &queuedAt, &startedAt, &completedAt, &heartbeatAt,
		&job.ArtifactURI, &job.OutputURI, &job.LogsURI, &job.RunRequestURI,
		&job.InputHash, &job.TraceID, &job.ErrorMessage, &job.RequestedBy,
	)
	if err != nil {
		return nil, err
	}
	job.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	job.Status = constants.JobStatus(status)
	if err := json.Unmarshal([]byte(docs), &job.DocumentIDs); err != nil {
		return nil, fmt.Errorf("decode document ids: %w", err)
	}
	if job.QueuedAt, err = time.Parse(timeLayout, queuedAt); err != nil {
		return nil, fmt.Errorf("parse queued_at: %w", err)
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if job.HeartbeatAt, err = parseNullTime(heartbeatAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse time: %w", err)
	}
	return &t, nil
}
