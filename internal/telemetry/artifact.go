package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/entity"
)

// ArtifactJob is the job block embedded in the run artifact.
type ArtifactJob struct {
	JobID       string              `json:"job_id"`
	Status      constants.JobStatus `json:"status"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Outputs     []string            `json:"outputs,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// ArtifactConfig identifies the manifest the run executed against.
type ArtifactConfig struct {
	Schema          string `json:"schema,omitempty"`
	ManifestVersion string `json:"manifest_version"`
}

// Artifact is the authoritative record of one run's outcome.
type Artifact struct {
	Job    ArtifactJob              `json:"job"`
	Config ArtifactConfig           `json:"config"`
	Tables []*entity.FileExtraction `json:"tables"`
	Notes  []string                 `json:"notes,omitempty"`
}

// AddNote appends a free-form note to the artifact.
func (a *Artifact) AddNote(format string, args ...any) {
	a.Notes = append(a.Notes, fmt.Sprintf(format, args...))
}

// ArtifactSink persists the run artifact as JSON.
type ArtifactSink struct {
	Path string
}

// Write marshals the artifact and writes it atomically next to its final path.
func (s *ArtifactSink) Write(a *Artifact) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("artifact dir: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return os.Rename(tmp, s.Path)
}
