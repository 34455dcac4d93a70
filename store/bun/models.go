package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:chrono_jobs"`

	ID             string     `bun:"id,pk"`
	Name           string     `bun:"name,notnull"`
	Data           []byte     `bun:"data"`
	Type           string     `bun:"type,notnull"`
	Priority       int        `bun:"priority,notnull"`
	Disabled       bool       `bun:"disabled,notnull"`
	NextRunAt      *time.Time `bun:"next_run_at"`
	RepeatInterval string     `bun:"repeat_interval,notnull,default:''"`
	RepeatTimezone string     `bun:"repeat_timezone,notnull,default:''"`
	LockedAt       *time.Time `bun:"locked_at"`
	LastRunAt      *time.Time `bun:"last_run_at"`
	LastFinishedAt *time.Time `bun:"last_finished_at"`
	FailCount      int        `bun:"fail_count,notnull"`
	FailReason     string     `bun:"fail_reason,notnull,default:''"`
	FailedAt       *time.Time `bun:"failed_at"`
	LastModifiedBy string     `bun:"last_modified_by,notnull,default:''"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:             j.ID.String(),
		Name:           j.Name,
		Data:           j.Data,
		Type:           string(j.Type),
		Priority:       j.Priority,
		Disabled:       j.Disabled,
		NextRunAt:      j.NextRunAt,
		RepeatInterval: j.RepeatInterval,
		RepeatTimezone: j.RepeatTimezone,
		LockedAt:       j.LockedAt,
		LastRunAt:      j.LastRunAt,
		LastFinishedAt: j.LastFinishedAt,
		FailCount:      j.FailCount,
		FailReason:     j.FailReason,
		FailedAt:       j.FailedAt,
		LastModifiedBy: j.LastModifiedBy,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("chrono/bun: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: chrono.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		Name:           m.Name,
		Data:           m.Data,
		Type:           job.Type(m.Type),
		Priority:       m.Priority,
		Disabled:       m.Disabled,
		NextRunAt:      m.NextRunAt,
		RepeatInterval: m.RepeatInterval,
		RepeatTimezone: m.RepeatTimezone,
		LockedAt:       m.LockedAt,
		LastRunAt:      m.LastRunAt,
		LastFinishedAt: m.LastFinishedAt,
		FailCount:      m.FailCount,
		FailReason:     m.FailReason,
		FailedAt:       m.FailedAt,
		LastModifiedBy: m.LastModifiedBy,
	}, nil
}
