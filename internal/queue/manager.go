package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/common"
	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/orchestrator"
	"github.com/rowforge/rowforge/internal/providers"
	"github.com/rowforge/rowforge/internal/repository"
	"github.com/rowforge/rowforge/internal/telemetry"
)

// JobRunner is the orchestrator surface the queue manager drives.
type JobRunner interface {
	Run(ctx context.Context, req orchestrator.Request) (*entity.RunResult, error)
}

// SubmitRequest describes one submission. RequestedBy is an opaque actor
// string kept for audit only.
type SubmitRequest struct {
	WorkspaceID     string
	ConfigVersionID string
	DocumentIDs     []string
	RequestedBy     string
	TraceID         string
}

// Manager is the job admission and execution entry point: bounded FIFO
// queue, fixed worker pool, heartbeats and crash-recovery rehydration.
type Manager struct {
	jobs    repository.JobRepository
	configs providers.ConfigProvider
	docs    providers.DocumentProvider
	runner  JobRunner
	events  *telemetry.EventSink
	logger  *slog.Logger

	dataRoot          string
	maxSize           int
	maxConcurrency    int
	heartbeatInterval time.Duration
	defaultTimeout    time.Duration

	mu       sync.Mutex
	reserved int
	inflight map[uuid.UUID]struct{}
	ch       chan uuid.UUID

	wg   sync.WaitGroup
	once sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

func WithMaxQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

func WithMaxConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxConcurrency = n
		}
	}
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeatInterval = d
		}
	}
}

func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// NewManager creates a queue manager. Call Start to rehydrate persisted work
// and launch the worker pool.
func NewManager(
	jobs repository.JobRepository,
	configs providers.ConfigProvider,
	docs providers.DocumentProvider,
	runner JobRunner,
	events *telemetry.EventSink,
	dataRoot string,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		jobs:              jobs,
		configs:           configs,
		docs:              docs,
		runner:            runner,
		events:            events,
		logger:            logger,
		dataRoot:          dataRoot,
		maxSize:           64,
		maxConcurrency:    4,
		heartbeatInterval: 15 * time.Second,
		defaultTimeout:    5 * time.Minute,
		inflight:          make(map[uuid.UUID]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TryReserve claims one slot of queue capacity. The check is atomic under
// the manager lock; a full queue is rejected synchronously with
// QueueFullError.
func (m *Manager) TryReserve() (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queued := 0
	if m.ch != nil {
		queued = len(m.ch)
	}
	if queued+m.reserved >= m.maxSize {
		return nil, &QueueFullError{
			MaxSize:        m.maxSize,
			QueueSize:      queued,
			MaxConcurrency: m.maxConcurrency,
		}
	}
	m.reserved++
	return &Reservation{m: m}, nil
}

// Start rehydrates persisted jobs and launches the worker pool. Rehydrated
// work is admitted before anything newly submitted is drained.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.once.Do(func() {
		recovered, err := m.rehydrate(ctx)
		if err != nil {
			startErr = err
			return
		}

		// Capacity covers the configured bound, everything recovered beyond
		// it, and one stop sentinel per worker.
		m.mu.Lock()
		m.ch = make(chan uuid.UUID, m.maxSize+len(recovered)+m.maxConcurrency)
		for _, id := range recovered {
			m.inflight[id] = struct{}{}
			m.ch <- id
		}
		m.mu.Unlock()

		for i := 1; i <= m.maxConcurrency; i++ {
			m.wg.Add(1)
			go m.worker(ctx, i)
			m.events.Emit(constants.EventWorkerSpawn, map[string]any{"worker_id": i})
		}
		m.logger.Info("queue manager started",
			"workers", m.maxConcurrency,
			"max_size", m.maxSize,
			"recovered", len(recovered),
		)
	})
	return startErr
}

// rehydrate re-admits jobs that were persisted as queued, and returns
// running jobs (orphaned by a crash) to the queue with an incremented
// attempt. This is the sole at-least-once recovery mechanism.
func (m *Manager) rehydrate(ctx context.Context) ([]uuid.UUID, error) {
	var recovered []uuid.UUID

	queued, err := m.jobs.ListByStatus(ctx, constants.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("rehydrate queued: %w", err)
	}
	for _, job := range queued {
		recovered = append(recovered, job.ID)
		m.logger.Info("rehydrated queued job", "job_id", job.ID, "attempt", job.Attempt)
	}

	orphaned, err := m.jobs.ListByStatus(ctx, constants.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("rehydrate running: %w", err)
	}
	for _, job := range orphaned {
		if err := m.jobs.Requeue(ctx, job.ID); err != nil {
			return nil, err
		}
		recovered = append(recovered, job.ID)
		m.events.Emit(constants.EventRetry, map[string]any{
			"job_id":  job.ID.String(),
			"attempt": job.Attempt + 1,
		})
		m.logger.Warn("recovered orphaned running job", "job_id", job.ID, "attempt", job.Attempt+1)
	}
	return recovered, nil
}

// Submit admits one job. Identical inputs (workspace, config version,
// documents) map to the existing job: the second submission returns the
// first's id without re-execution.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	resolved, err := m.resolveDocuments(ctx, req.DocumentIDs)
	if err != nil {
		return uuid.Nil, err
	}
	inputHash := computeInputHash(req.WorkspaceID, req.ConfigVersionID, resolved)

	existing, err := m.jobs.FindByInputHash(ctx, req.WorkspaceID, inputHash)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil && existing.Status != constants.JobStatusFailed && existing.Status != constants.JobStatusCancelled {
		m.logger.Info("duplicate submission deduplicated", "job_id", existing.ID, "input_hash", inputHash)
		return existing.ID, nil
	}

	res, err := m.TryReserve()
	if err != nil {
		return uuid.Nil, err
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	job := &entity.Job{
		ID:              uuid.New(),
		WorkspaceID:     req.WorkspaceID,
		ConfigVersionID: req.ConfigVersionID,
		DocumentIDs:     req.DocumentIDs,
		Status:          constants.JobStatusQueued,
		Attempt:         1,
		QueuedAt:        time.Now().UTC(),
		InputHash:       inputHash,
		TraceID:         traceID,
		RequestedBy:     req.RequestedBy,
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		res.Release()
		return uuid.Nil, &JobExecutionError{JobID: job.ID, Cause: err}
	}
	res.Commit(job.ID, job.Attempt)
	return job.ID, nil
}

func (m *Manager) resolveDocuments(ctx context.Context, ids []string) ([]*providers.ResolvedDocument, error) {
	resolved := make([]*providers.ResolvedDocument, 0, len(ids))
	for _, id := range ids {
		doc, err := m.docs.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, doc)
	}
	return resolved, nil
}

// computeInputHash derives the idempotency key over workspace, config
// version and input content hashes, independent of document order.
func computeInputHash(workspaceID, configVersionID string, docs []*providers.ResolvedDocument) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.DocumentID+":"+d.SHA256)
	}
	sort.Strings(parts)

	h := sha256.New()
	h.Write([]byte(workspaceID))
	h.Write([]byte{0})
	h.Write([]byte(configVersionID))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// worker pulls job ids until it receives the stop sentinel or the context
// dies. A failing job never kills the worker.
func (m *Manager) worker(ctx context.Context, workerID int) {
	defer m.wg.Done()
	m.logger.Info("worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("worker context canceled", "worker_id", workerID)
			return
		case jobID := <-m.ch:
			if jobID == uuid.Nil {
				m.events.Emit(constants.EventWorkerExit, map[string]any{"worker_id": workerID})
				m.logger.Info("worker stopped", "worker_id", workerID)
				return
			}
			m.runGuarded(ctx, workerID, jobID)
		}
	}
}

func (m *Manager) runGuarded(ctx context.Context, workerID int, jobID uuid.UUID) {
	defer func() {
		m.mu.Lock()
		delete(m.inflight, jobID)
		m.mu.Unlock()
		if r := recover(); r != nil {
			m.events.Emit(constants.EventError, map[string]any{
				"job_id": jobID.String(),
				"error":  fmt.Sprint(r),
			})
			m.logger.Error("job processing panicked", "worker_id", workerID, "job_id", jobID, "panic", r)
		}
	}()
	if err := m.processJob(ctx, jobID); err != nil {
		m.events.Emit(constants.EventError, map[string]any{
			"job_id": jobID.String(),
			"error":  err.Error(),
		})
		m.logger.Error("job processing failed", "worker_id", workerID, "job_id", jobID, "error", err)
	}
}

// processJob drives one job end-to-end. No row lock is taken: the queue
// manager is the only mutator of queued/running jobs.
func (m *Manager) processJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := m.jobs.Load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		m.logger.Warn("skipping terminal job", "job_id", jobID, "status", job.Status)
		return nil
	}

	// Downstream components (activation, subprocess runs) correlate their
	// logs with the job through these context values.
	ctx = common.WithTraceID(ctx, job.TraceID)
	ctx = common.WithJobID(ctx, job.ID.String())
	ctx = common.WithWorkspaceID(ctx, job.WorkspaceID)

	mf, err := m.configs.GetManifest(ctx, job.ConfigVersionID)
	if err != nil {
		return m.failJob(ctx, job, fmt.Sprintf("load manifest: %v", err))
	}
	cfg, err := m.configs.GetPackagePath(ctx, job.ConfigVersionID)
	if err != nil {
		return m.failJob(ctx, job, fmt.Sprintf("load config package: %v", err))
	}

	resolved := make([]providers.ResolvedDocument, 0, len(job.DocumentIDs))
	for _, docID := range job.DocumentIDs {
		doc, err := m.docs.Resolve(ctx, docID)
		if err != nil {
			return m.failJob(ctx, job, fmt.Sprintf("resolve document %s: %v", docID, err))
		}
		if _, err := os.Stat(doc.Path); err != nil {
			return m.failJob(ctx, job, fmt.Sprintf("document %s missing on disk", docID))
		}
		resolved = append(resolved, *doc)
	}

	now := time.Now().UTC()
	if err := m.jobs.MarkRunning(ctx, job.ID, now); err != nil {
		return err
	}
	job.Status = constants.JobStatusRunning
	job.StartedAt = &now

	stopHeartbeat := m.startHeartbeat(ctx, job.ID)
	defer stopHeartbeat()

	timeout := mf.Defaults.Timeout()
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	paths := orchestrator.NewStoragePaths(m.dataRoot, job.ID, job.Attempt)
	// Staged inputs are removed regardless of outcome.
	defer func() {
		if err := os.RemoveAll(paths.StagingDir); err != nil {
			m.logger.Error("staging cleanup failed", "job_id", job.ID, "error", err)
		}
	}()

	result, runErr := m.runner.Run(ctx, orchestrator.Request{
		Job:      job,
		Config:   cfg,
		Manifest: mf,
		Inputs:   resolved,
		Timeout:  timeout,
		Paths:    paths,
	})

	final := repository.FinalState{
		LogsURI:       paths.EventLogPath,
		RunRequestURI: paths.RunRequestPath,
	}
	switch {
	case runErr != nil:
		final.Status = constants.JobStatusFailed
		final.ErrorMessage = runErr.Error()
	default:
		final.Status = result.Status
		final.ErrorMessage = result.ErrorMessage
		final.ArtifactURI = result.ArtifactPath
		final.OutputURI = result.OutputPath
		if result.TimedOut {
			final.ErrorMessage = result.ErrorMessage
		}
	}
	if err := m.jobs.Finish(ctx, job.ID, final); err != nil {
		return err
	}
	return runErr
}

func (m *Manager) failJob(ctx context.Context, job *entity.Job, msg string) error {
	m.logger.Error("job failed before execution", "job_id", job.ID, "error", msg)
	return m.jobs.Finish(ctx, job.ID, repository.FinalState{
		Status:       constants.JobStatusFailed,
		ErrorMessage: msg,
	})
}

// startHeartbeat refreshes the job heartbeat on an interval so external
// monitoring can spot stuck runs. Returns a stop function.
func (m *Manager) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(m.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.jobs.SetHeartbeat(ctx, jobID, time.Now().UTC()); err != nil {
					m.logger.Warn("heartbeat update failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// Shutdown sends each worker a stop sentinel and waits for the pool to
// drain, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) {
	for i := 0; i < m.maxConcurrency; i++ {
		select {
		case m.ch <- uuid.Nil:
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() { defer close(done); m.wg.Wait() }()

	select {
	case <-ctx.Done():
		m.logger.Warn("shutdown interrupted by context")
	case <-done:
		m.events.Emit(constants.EventExit, map[string]any{"reason": "shutdown"})
		m.logger.Info("queue drained, shutdown complete")
	}
}
