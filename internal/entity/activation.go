package entity

import (
	"os"
	"time"

	"github.com/rowforge/rowforge/constants"
)

// ActivationMetadata describes one activation-environment build. Persisted to
// disk (result.json) as the source of truth; loaded back on every ensure call.
type ActivationMetadata struct {
	Status          constants.ActivationStatus `json:"status"`
	StartedAt       time.Time                  `json:"started_at"`
	CompletedAt     *time.Time                 `json:"completed_at,omitempty"`
	Error           string                     `json:"error,omitempty"`
	VenvPath        string                     `json:"venv_path,omitempty"`
	InterpreterPath string                     `json:"python_executable,omitempty"`
	PackagesFile    string                     `json:"packages_file,omitempty"`
	InstallLog      string                     `json:"install_log,omitempty"`
	HooksFile       string                     `json:"hooks_file,omitempty"`
	Annotations     []string                   `json:"annotations,omitempty"`
	Diagnostics     []string                   `json:"diagnostics,omitempty"`
}

// Ready reports whether the environment can be reused without a rebuild:
// the build succeeded and the interpreter still exists on disk.
func (m *ActivationMetadata) Ready() bool {
	if m == nil || m.Status != constants.ActivationSucceeded || m.InterpreterPath == "" {
		return false
	}
	if _, err := os.Stat(m.InterpreterPath); err != nil {
		return false
	}
	return true
}
