package queue

import (
	"fmt"

	"github.com/google/uuid"
)

// QueueFullError rejects an admission attempt synchronously; nothing is
// silently queued.
type QueueFullError struct {
	MaxSize        int
	QueueSize      int
	MaxConcurrency int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue full: %d/%d queued (max concurrency %d)", e.QueueSize, e.MaxSize, e.MaxConcurrency)
}

// JobExecutionError surfaces a submission that failed before its job could be
// enqueued.
type JobExecutionError struct {
	JobID uuid.UUID
	Cause error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Cause)
}

func (e *JobExecutionError) Unwrap() error { return e.Cause }
