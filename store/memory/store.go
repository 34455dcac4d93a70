// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development; it
// honors the same claim semantics as the durable backends, including
// stale-lock reclamation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// Ensure Store implements the job store contract at compile time.
var _ job.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// SaveJob persists a job. TypeSingle jobs upsert the existing
// undisabled, unlocked record with the same name.
func (m *Store) SaveJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.Type == job.TypeSingle {
		for _, existing := range m.jobs {
			if existing.Name != j.Name || existing.Type != job.TypeSingle {
				continue
			}
			if existing.Disabled || existing.LockedAt != nil {
				continue
			}
			// Keep the persisted record's identity and creation time.
			j.ID = existing.ID
			j.CreatedAt = existing.CreatedAt
			cp := *j
			cp.UpdatedAt = time.Now().UTC()
			m.jobs[existing.ID.String()] = &cp
			return nil
		}
	}

	cp := *j
	m.jobs[j.ID.String()] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, chrono.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return chrono.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return chrono.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// DueJobs returns up to limit enabled, due, claimable candidates
// ordered by priority descending then NextRunAt ascending.
func (m *Store) DueJobs(_ context.Context, now time.Time, staleness time.Duration, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !claimable(j, now, staleness) {
			continue
		}
		cp := *j
		candidates = append(candidates, &cp)
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].NextRunAt.Before(*candidates[k].NextRunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// ClaimJob atomically acquires the processing lock on a job. The
// store-wide mutex stands in for the durable backends' single
// conditional update.
func (m *Store) ClaimJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time, staleness time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, chrono.ErrJobNotFound
	}
	if !claimable(j, now, staleness) {
		if j.LockedAt != nil {
			return nil, chrono.ErrLockHeld
		}
		return nil, chrono.ErrJobNotFound
	}

	n := now
	j.LockedAt = &n
	j.LastModifiedBy = workerID.String()
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

// ReleaseJob unconditionally clears the job's lock.
func (m *Store) ReleaseJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return chrono.ErrJobNotFound
	}
	j.LockedAt = nil
	j.LastModifiedBy = workerID.String()
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// ListJobs returns jobs matching the given options.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Name != "" && j.Name != opts.Name {
			continue
		}
		if opts.Disabled != nil && j.Disabled != *opts.Disabled {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Name != "" && j.Name != opts.Name {
			continue
		}
		if opts.Locked != nil && (j.LockedAt != nil) != *opts.Locked {
			continue
		}
		count++
	}
	return count, nil
}

// claimable evaluates the shared claim condition: enabled, due, and
// unlocked or stale. Callers hold the store mutex.
func claimable(j *job.Job, now time.Time, staleness time.Duration) bool {
	if j.Disabled {
		return false
	}
	if j.NextRunAt == nil || j.NextRunAt.After(now) {
		return false
	}
	if j.LockedAt != nil && !j.LockedAt.Before(now.Add(-staleness)) {
		return false
	}
	return true
}
