// Package store defines the aggregate persistence interface. The job
// package defines the job store contract; the composite Store adds the
// lifecycle operations backends share. Backends: MongoDB, Bun
// (Postgres), and Memory.
package store

import (
	"context"

	"github.com/xraph/chrono/job"
)

// Store is the aggregate persistence interface a backend implements.
type Store interface {
	job.Store

	// Migrate creates collections/indexes or runs schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
