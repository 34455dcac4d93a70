package job

import (
	"context"
	"time"

	"github.com/xraph/chrono/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Name filters by job name. Empty means all names.
	Name string
	// Disabled filters by the disabled flag. Nil means both.
	Disabled *bool
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Name filters by job name. Empty means all names.
	Name string
	// Locked filters on lock state. Nil means both.
	Locked *bool
}

// Store defines the persistence contract for jobs. Every coordination
// decision the engine makes flows through ClaimJob and ReleaseJob; the
// remaining operations are plain CRUD plus the due-job query.
type Store interface {
	// SaveJob persists a job. TypeNormal jobs are inserted; TypeSingle
	// jobs upsert the existing undisabled, unlocked record with the
	// same name, keeping its ID. On upsert the job's ID field is
	// updated in place to the persisted record's ID.
	SaveJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// DueJobs returns up to limit candidate jobs that are enabled, due
	// at now, and either unlocked or holding a lock older than
	// staleness. Ordered by priority descending, then NextRunAt
	// ascending. Candidates are not mutated; claiming is separate.
	DueJobs(ctx context.Context, now time.Time, staleness time.Duration, limit int) ([]*Job, error)

	// ClaimJob atomically acquires the processing lock on a job: in a
	// single conditional update it sets LockedAt=now and
	// LastModifiedBy=workerID if and only if the job exists, is not
	// disabled, is due at now, and is unlocked or stale per staleness.
	// Returns the claimed job, chrono.ErrLockHeld when the condition
	// fails on an existing record, or chrono.ErrJobNotFound.
	ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time, staleness time.Duration) (*Job, error)

	// ReleaseJob unconditionally clears the job's lock. Returns
	// chrono.ErrJobNotFound if the record no longer exists.
	ReleaseJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ListJobs returns jobs matching the given options, ordered by
	// creation time.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
