package chrono

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("chrono: no store configured")
	ErrStoreClosed = errors.New("chrono: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("chrono: job not found")

	// Locking errors. ErrLockHeld is the expected outcome of losing a
	// claim race and is not logged as a failure anywhere in the engine.
	ErrLockHeld = errors.New("chrono: job lock held by another worker")

	// Execution errors.
	ErrNoSuchDefinition = errors.New("chrono: no definition registered for job name")
	ErrHandlerTimeout   = errors.New("chrono: job handler timed out")

	// Scheduling errors.
	ErrInvalidRepeat = errors.New("chrono: invalid repeat interval")
	ErrNotScheduled  = errors.New("chrono: job has no next run time")
)
