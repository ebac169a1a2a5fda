package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/rowforge/rowforge/constants"
)

// Job represents one extraction run for data transfer between layers.
// Its queued/running lifecycle has exactly one mutator: the queue manager.
type Job struct {
	ID              uuid.UUID           `json:"id"`
	WorkspaceID     string              `json:"workspace_id"`
	ConfigVersionID string              `json:"config_version_id"`
	DocumentIDs     []string            `json:"document_ids"`
	Status          constants.JobStatus `json:"status"`
	Attempt         int                 `json:"attempt"`
	QueuedAt        time.Time           `json:"queued_at"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	HeartbeatAt     *time.Time          `json:"heartbeat_at,omitempty"`
	ArtifactURI     string              `json:"artifact_uri,omitempty"`
	OutputURI       string              `json:"output_uri,omitempty"`
	LogsURI         string              `json:"logs_uri,omitempty"`
	RunRequestURI   string              `json:"run_request_uri,omitempty"`
	InputHash       string              `json:"input_hash"`
	TraceID         string              `json:"trace_id"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	RequestedBy     string              `json:"requested_by,omitempty"`
}

// RunResult is the terminal value produced by one pipeline run.
type RunResult struct {
	Status       constants.JobStatus `json:"status"`
	ArtifactPath string              `json:"artifact_path,omitempty"`
	OutputPath   string              `json:"output_path,omitempty"`
	Diagnostics  []string            `json:"diagnostics,omitempty"`
	TimedOut     bool                `json:"timed_out"`
	ErrorMessage string              `json:"error_message,omitempty"`
}
