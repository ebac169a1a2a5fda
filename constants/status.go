package constants

// JobStatus is the canonical status for rows in the jobs table.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued    JobStatus = "queued"    // admitted, waiting for a worker
	JobStatusRunning   JobStatus = "running"   // picked up by a worker
	JobStatusSucceeded JobStatus = "succeeded" // terminal success
	JobStatusFailed    JobStatus = "failed"    // terminal failure
	JobStatusCancelled JobStatus = "cancelled" // terminal, withdrawn before running
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ActivationStatus is the canonical status recorded in an activation result file.
type ActivationStatus string

const (
	ActivationPending   ActivationStatus = "pending"
	ActivationRunning   ActivationStatus = "running"
	ActivationSucceeded ActivationStatus = "succeeded"
	ActivationFailed    ActivationStatus = "failed"
)
