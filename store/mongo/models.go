package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID             string     `bson:"_id"`
	Name           string     `bson:"name"`
	Data           []byte     `bson:"data,omitempty"`
	Type           string     `bson:"type"`
	Priority       int        `bson:"priority"`
	Disabled       bool       `bson:"disabled"`
	NextRunAt      *time.Time `bson:"next_run_at,omitempty"`
	RepeatInterval string     `bson:"repeat_interval,omitempty"`
	RepeatTimezone string     `bson:"repeat_timezone,omitempty"`
	LockedAt       *time.Time `bson:"locked_at"`
	LastRunAt      *time.Time `bson:"last_run_at,omitempty"`
	LastFinishedAt *time.Time `bson:"last_finished_at,omitempty"`
	FailCount      int        `bson:"fail_count"`
	FailReason     string     `bson:"fail_reason,omitempty"`
	FailedAt       *time.Time `bson:"failed_at,omitempty"`
	LastModifiedBy string     `bson:"last_modified_by,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
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
		return nil, fmt.Errorf("chrono/mongo: parse job id %q: %w", m.ID, err)
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
