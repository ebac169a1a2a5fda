package queue

import (
	"github.com/google/uuid"

	"github.com/rowforge/rowforge/constants"
)

// Reservation is an admission token: claimed queue capacity that is not yet a
// queued job. Exactly one of Commit or Release must be called.
type Reservation struct {
	m    *Manager
	done bool
}

// Commit converts the reservation into a queued job. Committing a job id
// that is already in flight is a no-op (the capacity is still released).
func (r *Reservation) Commit(jobID uuid.UUID, attempt int) {
	r.m.mu.Lock()
	if r.done {
		r.m.mu.Unlock()
		return
	}
	r.done = true
	r.m.reserved--
	if _, inflight := r.m.inflight[jobID]; inflight {
		r.m.mu.Unlock()
		r.m.logger.Warn("duplicate enqueue ignored", "job_id", jobID)
		return
	}
	r.m.inflight[jobID] = struct{}{}
	ch := r.m.ch
	r.m.mu.Unlock()

	if ch == nil {
		// Admitted before Start: the persisted row is picked up by the
		// startup rehydrate, so there is no channel to feed yet.
		r.m.logger.Info("job admitted before queue start", "job_id", jobID, "attempt", attempt)
	} else {
		// Capacity was held by the reservation, so this send never blocks.
		ch <- jobID
	}
	r.m.events.Emit(constants.EventEnqueue, map[string]any{
		"job_id":  jobID.String(),
		"attempt": attempt,
	})
	r.m.logger.Info("job enqueued", "job_id", jobID, "attempt", attempt)
}

// Release cancels an uncommitted reservation, e.g. when persisting the job
// row failed after admission.
func (r *Reservation) Release() {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	r.m.reserved--
}
