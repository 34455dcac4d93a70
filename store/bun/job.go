package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// SaveJob persists a job. TypeSingle jobs upsert the live record with
// the same name through ON CONFLICT against the partial unique index,
// so concurrent saves cannot create duplicates; the caller's record
// adopts the persisted identity.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC()

	if j.Type != job.TypeSingle {
		if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("chrono/bun: save job: duplicate id %s: %w", m.ID, err)
			}
			return fmt.Errorf("chrono/bun: save job: %w", err)
		}
		return nil
	}

	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (name) WHERE type = 'single' AND NOT disabled AND locked_at IS NULL DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("priority = EXCLUDED.priority").
		Set("next_run_at = EXCLUDED.next_run_at").
		Set("repeat_interval = EXCLUDED.repeat_interval").
		Set("repeat_timezone = EXCLUDED.repeat_timezone").
		Set("last_modified_by = EXCLUDED.last_modified_by").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("chrono/bun: upsert single job: %w", err)
	}

	// A conflict keeps the old record's identity; reflect it back so
	// the caller holds the persisted ID.
	adopted, err := id.ParseJobID(m.ID)
	if err != nil {
		return fmt.Errorf("chrono/bun: parse upserted job id %q: %w", m.ID, err)
	}
	j.ID = adopted
	j.CreatedAt = m.CreatedAt
	j.UpdatedAt = m.UpdatedAt
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, chrono.ErrJobNotFound
		}
		return nil, fmt.Errorf("chrono/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("chrono/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		TableExpr("chrono_jobs").
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("chrono/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// DueJobs returns up to limit claimable candidates ordered by priority
// descending then NextRunAt ascending. The list is advisory — every
// entry must still win its atomic claim before running.
func (s *Store) DueJobs(ctx context.Context, t time.Time, staleness time.Duration, limit int) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("NOT disabled").
		Where("next_run_at IS NOT NULL").
		Where("next_run_at <= ?", t).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("locked_at IS NULL").
				WhereOr("locked_at < ?", t.Add(-staleness))
		}).
		OrderExpr("priority DESC, next_run_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("chrono/bun: due jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		converted, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("chrono/bun: due jobs convert: %w", convErr)
		}
		jobs = append(jobs, converted)
	}
	return jobs, nil
}

// ClaimJob atomically acquires the processing lock on a job. The claim
// condition and the lock write are a single conditional UPDATE, so
// under concurrent attempts exactly one worker's WHERE clause matches.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, t time.Time, staleness time.Duration) (*job.Job, error) {
	var m jobModel
	err := s.db.NewRaw(`
		UPDATE chrono_jobs
		SET locked_at = ?, last_modified_by = ?, updated_at = ?
		WHERE id = ?
		  AND NOT disabled
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= ?
		  AND (locked_at IS NULL OR locked_at < ?)
		RETURNING *`,
		t, workerID.String(), t,
		jobID.String(), t, t.Add(-staleness),
	).Scan(ctx, &m)
	if err == nil {
		return fromJobModel(&m)
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("chrono/bun: claim job: %w", err)
	}

	// The claim missed. A follow-up read distinguishes a live lock
	// from a vanished or no-longer-claimable record; informational
	// only, the claim itself already failed atomically.
	existing, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, chrono.ErrJobNotFound
	}
	if existing.LockedAt != nil && !existing.LockStale(t, staleness) {
		return nil, chrono.ErrLockHeld
	}
	return nil, chrono.ErrJobNotFound
}

// ReleaseJob unconditionally clears the job's lock.
func (s *Store) ReleaseJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().
		TableExpr("chrono_jobs").
		Set("locked_at = NULL").
		Set("last_modified_by = ?", workerID.String()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("chrono/bun: release job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching the given options, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if opts.Name != "" {
		q = q.Where("name = ?", opts.Name)
	}
	if opts.Disabled != nil {
		q = q.Where("disabled = ?", *opts.Disabled)
	}

	q = q.Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("chrono/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		converted, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("chrono/bun: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, converted)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().TableExpr("chrono_jobs")

	if opts.Name != "" {
		q = q.Where("name = ?", opts.Name)
	}
	if opts.Locked != nil {
		if *opts.Locked {
			q = q.Where("locked_at IS NOT NULL")
		} else {
			q = q.Where("locked_at IS NULL")
		}
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("chrono/bun: count jobs: %w", err)
	}
	return int64(count), nil
}
