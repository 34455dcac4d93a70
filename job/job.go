package job

import (
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
)

// Type discriminates how saving a job behaves.
type Type string

const (
	// TypeNormal jobs are inserted as new records every time.
	TypeNormal Type = "normal"
	// TypeSingle jobs keep at most one outstanding record per name;
	// saving one upserts the existing undisabled, unlocked record
	// instead of inserting a duplicate.
	TypeSingle Type = "single"
)

// Job represents a persisted unit of schedulable work and its run state.
type Job struct {
	chrono.Entity

	ID       id.JobID `json:"id"`
	Name     string   `json:"name"`
	Data     []byte   `json:"data,omitempty"`
	Type     Type     `json:"type"`
	Priority int      `json:"priority"`
	Disabled bool     `json:"disabled"`

	// Scheduling state. NextRunAt is nil when the job is not scheduled.
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	RepeatInterval string     `json:"repeat_interval,omitempty"`
	RepeatTimezone string     `json:"repeat_timezone,omitempty"`

	// Run state. LockedAt is the mutual-exclusion token: non-nil only
	// while a worker holds the processing lock.
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty"`

	// Failure bookkeeping.
	FailCount  int        `json:"fail_count"`
	FailReason string     `json:"fail_reason,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`

	// LastModifiedBy records the worker instance that last touched the
	// record. Diagnostic only; never used for coordination decisions.
	LastModifiedBy string `json:"last_modified_by,omitempty"`
}

// IsDue reports whether the job is eligible to run at t.
func (j *Job) IsDue(t time.Time) bool {
	return !j.Disabled && j.NextRunAt != nil && !j.NextRunAt.After(t)
}

// IsRepeating reports whether the job has a recurrence rule.
func (j *Job) IsRepeating() bool {
	return j.RepeatInterval != ""
}

// LockStale reports whether the job's lock, if any, is older than
// lifetime as of t and therefore reclaimable.
func (j *Job) LockStale(t time.Time, lifetime time.Duration) bool {
	return j.LockedAt != nil && j.LockedAt.Before(t.Add(-lifetime))
}
