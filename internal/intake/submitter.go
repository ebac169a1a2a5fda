package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/rowforge/rowforge/internal/queue"
)

// Submission is the drop-file wire format: one JSON object per file.
type Submission struct {
	WorkspaceID     string   `json:"workspace_id"`
	ConfigVersionID string   `json:"config_version_id"`
	DocumentIDs     []string `json:"document_ids"`
	RequestedBy     string   `json:"requested_by,omitempty"`
	TraceID         string   `json:"trace_id,omitempty"`
}

// Result reports the outcome of one processed submission file.
type Result struct {
	SourcePath string
	JobID      uuid.UUID
	Rejected   bool
	Err        string
}

// Submitter turns dropped submission files into queued jobs. Processed files
// move to accepted/ or rejected/ next to the drop root so a crashed daemon
// never re-admits work it already accepted.
type Submitter struct {
	manager *queue.Manager
	root    string
	logger  *slog.Logger
}

func NewSubmitter(manager *queue.Manager, root string, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{manager: manager, root: root, logger: logger}
}

// Process reads, validates and submits one dropped file.
func (s *Submitter) Process(ctx context.Context, path string) Result {
	out := Result{SourcePath: path}

	b, err := os.ReadFile(path)
	if err != nil {
		// Renames race with the watcher; a vanished file is not an error.
		if errors.Is(err, os.ErrNotExist) {
			out.Rejected = true
			out.Err = "file vanished before processing"
			return out
		}
		return s.reject(path, out, fmt.Sprintf("read: %v", err))
	}

	var sub Submission
	if err := json.Unmarshal(b, &sub); err != nil {
		return s.reject(path, out, fmt.Sprintf("parse: %v", err))
	}
	if err := validate(sub); err != nil {
		return s.reject(path, out, err.Error())
	}

	jobID, err := s.manager.Submit(ctx, queue.SubmitRequest{
		WorkspaceID:     sub.WorkspaceID,
		ConfigVersionID: sub.ConfigVersionID,
		DocumentIDs:     sub.DocumentIDs,
		RequestedBy:     sub.RequestedBy,
		TraceID:         sub.TraceID,
	})
	if err != nil {
		var full *queue.QueueFullError
		if errors.As(err, &full) {
			// Leave the file in place: it is retried on the next scan.
			out.Rejected = true
			out.Err = err.Error()
			s.logger.Warn("queue full, submission deferred", "path", path)
			return out
		}
		return s.reject(path, out, err.Error())
	}

	out.JobID = jobID
	if err := s.archive(path, "accepted"); err != nil {
		s.logger.Error("failed to archive accepted submission", "path", path, "error", err)
	}
	s.logger.Info("submission accepted", "path", path, "job_id", jobID)
	return out
}

func (s *Submitter) reject(path string, out Result, reason string) Result {
	out.Rejected = true
	out.Err = reason
	s.logger.Warn("submission rejected", "path", path, "reason", reason)
	if err := s.archive(path, "rejected"); err != nil {
		s.logger.Error("failed to archive rejected submission", "path", path, "error", err)
	}
	return out
}

func (s *Submitter) archive(path, bucket string) error {
	dir := filepath.Join(s.root, "..", bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, filepath.Base(path)))
}

func validate(sub Submission) error {
	if strings.TrimSpace(sub.WorkspaceID) == "" {
		return errors.New("workspace_id is required")
	}
	if strings.TrimSpace(sub.ConfigVersionID) == "" {
		return errors.New("config_version_id is required")
	}
	if len(sub.DocumentIDs) == 0 {
		return errors.New("document_ids must not be empty")
	}
	return nil
}
