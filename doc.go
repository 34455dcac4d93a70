// Package chrono provides a database-coordinated job scheduling engine
// for Go. Multiple independent process instances share one storage
// backend (MongoDB or Postgres) and cooperatively execute scheduled,
// recurring, and immediate jobs without duplicate execution.
//
// Chrono is a library, not a service. Import it, configure a store,
// register job definitions as ordinary Go functions, and start the
// scheduler.
//
// # Quick Start
//
//	s, err := chrono.New(
//	    chrono.WithStore(mongoStore),
//	    chrono.WithMaxConcurrency(20),
//	)
//
// # Coordination model
//
// All cross-process coordination happens through the store's atomic
// conditional-update primitive: a worker claims a job by setting its
// lock timestamp in a single find-and-modify operation, and a lock
// older than its lifetime is considered abandoned and reclaimable by
// any other worker. There is no dedicated coordination service and no
// leader election.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package chrono
