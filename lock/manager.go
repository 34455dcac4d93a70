// Package lock implements the processing-lock protocol over the job
// store's atomic claim primitive. The claim is a single conditional
// update against the backing store — never a read-then-write pair — so
// under concurrent attempts by multiple workers exactly one succeeds.
// A lock older than its lifetime is considered abandoned and is
// reclaimed by the next successful claim (crash recovery).
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// Result is the outcome of an acquisition attempt.
type Result int

const (
	// Locked means this worker now holds the processing lock.
	Locked Result = iota
	// AlreadyLocked means another worker holds a live lock. This is
	// the expected outcome of losing a claim race, not an error.
	AlreadyLocked
	// NotFound means the record does not exist or is no longer
	// claimable (disabled, not due, or deleted).
	NotFound
)

// String returns the result name for logging.
func (r Result) String() string {
	switch r {
	case Locked:
		return "locked"
	case AlreadyLocked:
		return "already_locked"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// LifetimeFunc resolves the lock staleness threshold for a job name.
type LifetimeFunc func(name string) time.Duration

// Manager acquires and releases processing locks on job records.
type Manager struct {
	store    job.Store
	workerID id.WorkerID
	lifetime LifetimeFunc
	logger   *slog.Logger
}

// NewManager creates a lock manager. lifetime resolves the per-name
// staleness threshold; it must never return zero.
func NewManager(store job.Store, workerID id.WorkerID, lifetime LifetimeFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		workerID: workerID,
		lifetime: lifetime,
		logger:   logger,
	}
}

// WorkerID returns the identifier this manager claims locks under.
func (m *Manager) WorkerID() id.WorkerID { return m.workerID }

// TryAcquire attempts to claim the processing lock on a job. On
// success it returns the claimed record as persisted. The claim
// condition — unlocked or stale, enabled, due — is evaluated atomically
// by the store.
func (m *Manager) TryAcquire(ctx context.Context, j *job.Job) (*job.Job, Result, error) {
	now := time.Now().UTC()
	staleness := m.lifetime(j.Name)

	reclaiming := j.LockStale(now, staleness)

	claimed, err := m.store.ClaimJob(ctx, j.ID, m.workerID, now, staleness)
	if err != nil {
		switch {
		case errors.Is(err, chrono.ErrLockHeld):
			return nil, AlreadyLocked, nil
		case errors.Is(err, chrono.ErrJobNotFound):
			return nil, NotFound, nil
		default:
			return nil, NotFound, err
		}
	}

	if reclaiming {
		// Informational: the previous holder crashed or lost its
		// release write, and this worker took the lock over.
		m.logger.Info("stale lock reclaimed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("worker_id", m.workerID.String()),
		)
	}

	return claimed, Locked, nil
}

// Release unconditionally clears the job's lock. A missing record is
// treated as success: the executor may have deleted it on completion,
// and either way there is no lock left to hold. Any other release
// failure is returned but non-fatal — the lock self-heals via
// staleness expiry.
func (m *Manager) Release(ctx context.Context, jobID id.JobID) error {
	err := m.store.ReleaseJob(ctx, jobID, m.workerID)
	if err != nil {
		if errors.Is(err, chrono.ErrJobNotFound) {
			return nil
		}
		m.logger.Warn("lock release failed, will expire by staleness",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
