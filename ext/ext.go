package ext

import (
	"context"
	"time"

	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobScheduled is called after a job record is persisted with a new
// next-run time, whether freshly created or rescheduled.
type JobScheduled interface {
	OnJobScheduled(ctx context.Context, j *job.Job) error
}

// JobStarted is called when this process acquires a job's lock and
// begins executing its handler.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a job's handler returns without error.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job's handler returns an error, panics,
// or exceeds its timeout.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// LockReclaimed is called when this process takes over a lock whose
// holder went silent past the job's lock lifetime.
type LockReclaimed interface {
	OnLockReclaimed(ctx context.Context, j *job.Job, previousHolder string, heldFor time.Duration) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// JobCancelled is called after a job record is deleted through the
// scheduler API.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, jobID id.JobID, name string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
