package chrono

import "time"

// Config holds configuration for the Scheduler.
type Config struct {
	// MaxConcurrency is the process-wide ceiling on simultaneously
	// running job handlers.
	MaxConcurrency int

	// ScanInterval is how often the scan loop queries for due jobs.
	ScanInterval time.Duration

	// BatchSize bounds how many due jobs a single scan may pick up.
	BatchSize int

	// DrainTimeout is the maximum time Stop waits for in-flight
	// handlers before abandoning them.
	DrainTimeout time.Duration

	// DefaultLockLifetime is the staleness threshold for job locks
	// when a definition does not override it. A lock older than its
	// lifetime is considered abandoned and reclaimable.
	DefaultLockLifetime time.Duration

	// ReevaluationInterval caps how long a single timer wait may be
	// for far-future jobs. Delays beyond the platform timer range are
	// decomposed into waits of at most this duration, each of which
	// re-reads the job before waiting again.
	ReevaluationInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:       20,
		ScanInterval:         5 * time.Second,
		BatchSize:            100,
		DrainTimeout:         30 * time.Second,
		DefaultLockLifetime:  10 * time.Minute,
		ReevaluationInterval: 24 * time.Hour,
	}
}
