// Package stream provides a real-time event broker for chrono
// lifecycle events. It bridges the ext.Extension system to connected
// clients via topic-based pub/sub, with an optional WebSocket
// transport in ws.go.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobScheduled  EventType = "job.scheduled"
	EventJobStarted    EventType = "job.started"
	EventJobSucceeded  EventType = "job.succeeded"
	EventJobFailed     EventType = "job.failed"
	EventJobCancelled  EventType = "job.cancelled"
	EventLockReclaimed EventType = "lock.reclaimed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID          string `json:"job_id"`
	JobName        string `json:"job_name"`
	Type           string `json:"job_type,omitempty"`
	NextRunAt      string `json:"next_run_at,omitempty"`
	RepeatInterval string `json:"repeat_interval,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
	Error          string `json:"error,omitempty"`
	FailCount      int    `json:"fail_count,omitempty"`
	PreviousHolder string `json:"previous_holder,omitempty"`
	HeldForMs      int64  `json:"held_for_ms,omitempty"`
}
