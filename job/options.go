package job

import "time"

// Options configures per-name behavior consulted at schedule and
// dispatch time.
type Options struct {
	// Priority determines ordering among due jobs. Higher runs first.
	Priority int

	// Timeout is the maximum duration the engine waits for a handler.
	// Zero means unlimited.
	Timeout time.Duration

	// Concurrency limits simultaneously running executions of this
	// job name within one worker process. Zero means unbounded (the
	// process-wide ceiling still applies).
	Concurrency int

	// LockLifetime is the staleness threshold for this name's locks.
	// A lock older than this is considered abandoned and may be
	// reclaimed by any worker. Zero means the engine default.
	LockLifetime time.Duration

	// Single makes the job TypeSingle: at most one outstanding record
	// per name, saved via upsert.
	Single bool

	// RemoveOnComplete deletes one-shot records after a successful run
	// instead of leaving them unscheduled.
	RemoveOnComplete bool

	// RepeatTimezone is the IANA zone cron expressions are evaluated
	// in. Empty means UTC. Ignored for fixed-duration intervals.
	RepeatTimezone string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority:    0,
		Timeout:     0,
		Concurrency: 0,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithPriority sets the job priority. Higher values run first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum duration the engine waits for the handler.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithConcurrency limits concurrent executions of this job name within
// one worker process.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		o.Concurrency = n
	}
}

// WithLockLifetime sets the staleness threshold for this name's locks.
func WithLockLifetime(d time.Duration) Option {
	return func(o *Options) {
		o.LockLifetime = d
	}
}

// WithSingle marks the job as TypeSingle (at most one outstanding
// record per name).
func WithSingle() Option {
	return func(o *Options) {
		o.Single = true
	}
}

// WithRemoveOnComplete deletes one-shot records after a successful run.
func WithRemoveOnComplete() Option {
	return func(o *Options) {
		o.RemoveOnComplete = true
	}
}

// WithRepeatTimezone sets the IANA zone cron expressions are evaluated in.
func WithRepeatTimezone(tz string) Option {
	return func(o *Options) {
		o.RepeatTimezone = tz
	}
}
