// Package ext defines the extension system for Chrono.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s succeeded in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Lifecycle Hooks
//
//   - [JobScheduled] — a job record was created or its next run moved
//   - [JobStarted] — this process locked the job and began executing it
//   - [JobSucceeded] — the handler returned without error
//   - [JobFailed] — the handler returned an error or timed out
//   - [LockReclaimed] — a stale lock left by a dead process was taken over
//   - [Shutdown] — the scheduler is draining and shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
