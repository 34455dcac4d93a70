package postgres

import (
	"fmt"

	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// jobColumns is the canonical column order every job query selects and
// every scan reads.
const jobColumns = `id, name, data, type, priority, disabled, next_run_at,
	repeat_interval, repeat_timezone, locked_at, last_run_at,
	last_finished_at, fail_count, fail_reason, failed_at,
	last_modified_by, created_at, updated_at`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one job record in jobColumns order.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j     job.Job
		rawID string
		typ   string
	)

	err := row.Scan(
		&rawID, &j.Name, &j.Data, &typ, &j.Priority, &j.Disabled,
		&j.NextRunAt, &j.RepeatInterval, &j.RepeatTimezone, &j.LockedAt,
		&j.LastRunAt, &j.LastFinishedAt, &j.FailCount, &j.FailReason,
		&j.FailedAt, &j.LastModifiedBy, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("chrono/postgres: parse job id %q: %w", rawID, err)
	}
	j.ID = parsedID
	j.Type = job.Type(typ)
	return &j, nil
}

// jobArgs returns the insert/update argument list matching jobColumns.
func jobArgs(j *job.Job) []any {
	return []any{
		j.ID.String(), j.Name, j.Data, string(j.Type), j.Priority, j.Disabled,
		j.NextRunAt, j.RepeatInterval, j.RepeatTimezone, j.LockedAt,
		j.LastRunAt, j.LastFinishedAt, j.FailCount, j.FailReason,
		j.FailedAt, j.LastModifiedBy, j.CreatedAt, j.UpdatedAt,
	}
}
