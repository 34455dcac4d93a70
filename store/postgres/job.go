package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// SaveJob persists a job. TypeSingle jobs upsert the live record with
// the same name through ON CONFLICT against the partial unique index;
// the caller's record adopts the persisted identity.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	j.UpdatedAt = time.Now().UTC()

	if j.Type != job.TypeSingle {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO chrono_jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			jobArgs(j)...,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("chrono/postgres: save job: duplicate id %s: %w", j.ID, err)
			}
			return fmt.Errorf("chrono/postgres: save job: %w", err)
		}
		return nil
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO chrono_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (name) WHERE type = 'single' AND NOT disabled AND locked_at IS NULL
		DO UPDATE SET
			data             = EXCLUDED.data,
			priority         = EXCLUDED.priority,
			next_run_at      = EXCLUDED.next_run_at,
			repeat_interval  = EXCLUDED.repeat_interval,
			repeat_timezone  = EXCLUDED.repeat_timezone,
			last_modified_by = EXCLUDED.last_modified_by,
			updated_at       = EXCLUDED.updated_at
		RETURNING `+jobColumns,
		jobArgs(j)...,
	)

	persisted, err := scanJob(row)
	if err != nil {
		return fmt.Errorf("chrono/postgres: upsert single job: %w", err)
	}

	// A conflict keeps the old record's identity.
	j.ID = persisted.ID
	j.CreatedAt = persisted.CreatedAt
	j.UpdatedAt = persisted.UpdatedAt
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM chrono_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, chrono.ErrJobNotFound
		}
		return nil, fmt.Errorf("chrono/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	j.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		UPDATE chrono_jobs SET
			name = $2, data = $3, type = $4, priority = $5, disabled = $6,
			next_run_at = $7, repeat_interval = $8, repeat_timezone = $9,
			locked_at = $10, last_run_at = $11, last_finished_at = $12,
			fail_count = $13, fail_reason = $14, failed_at = $15,
			last_modified_by = $16, created_at = $17, updated_at = $18
		WHERE id = $1`,
		jobArgs(j)...,
	)
	if err != nil {
		return fmt.Errorf("chrono/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chrono_jobs WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("chrono/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// DueJobs returns up to limit claimable candidates ordered by priority
// descending then NextRunAt ascending. The list is advisory — every
// entry must still win its atomic claim before running.
func (s *Store) DueJobs(ctx context.Context, t time.Time, staleness time.Duration, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM chrono_jobs
		WHERE NOT disabled
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		  AND (locked_at IS NULL OR locked_at < $2)
		ORDER BY priority DESC, next_run_at ASC
		LIMIT $3`,
		t, t.Add(-staleness), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("chrono/postgres: due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("chrono/postgres: due jobs scan: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chrono/postgres: due jobs rows: %w", err)
	}
	return jobs, nil
}

// ClaimJob atomically acquires the processing lock on a job. The claim
// condition and the lock write are a single conditional UPDATE, so
// under concurrent attempts exactly one worker's WHERE clause matches.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, t time.Time, staleness time.Duration) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE chrono_jobs
		SET locked_at = $2, last_modified_by = $3, updated_at = $2
		WHERE id = $1
		  AND NOT disabled
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $2
		  AND (locked_at IS NULL OR locked_at < $4)
		RETURNING `+jobColumns,
		jobID.String(), t, workerID.String(), t.Add(-staleness),
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("chrono/postgres: claim job: %w", err)
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE chrono_jobs
		SET locked_at = NULL, last_modified_by = $2, updated_at = $3
		WHERE id = $1`,
		jobID.String(), workerID.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("chrono/postgres: release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching the given options, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM chrono_jobs WHERE TRUE`
	args := []any{}

	if opts.Name != "" {
		args = append(args, opts.Name)
		query += ` AND name = $` + strconv.Itoa(len(args))
	}
	if opts.Disabled != nil {
		args = append(args, *opts.Disabled)
		query += ` AND disabled = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY created_at ASC`

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chrono/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("chrono/postgres: list jobs scan: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chrono/postgres: list jobs rows: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM chrono_jobs WHERE TRUE`
	args := []any{}

	if opts.Name != "" {
		args = append(args, opts.Name)
		query += ` AND name = $` + strconv.Itoa(len(args))
	}
	if opts.Locked != nil {
		if *opts.Locked {
			query += ` AND locked_at IS NOT NULL`
		} else {
			query += ` AND locked_at IS NULL`
		}
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("chrono/postgres: count jobs: %w", err)
	}
	return count, nil
}
