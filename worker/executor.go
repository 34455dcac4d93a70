// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware and persists the
// outcome, and a Scanner that polls the store for due jobs, acquires
// their locks, and dispatches them to worker goroutines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/ext"
	"github.com/xraph/chrono/job"
	"github.com/xraph/chrono/lock"
	"github.com/xraph/chrono/middleware"
	"github.com/xraph/chrono/recur"
)

// Executor runs a single locked job through middleware and the
// registered handler, then records the outcome, plans the next
// occurrence for repeating jobs, and clears the lock.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	locks      *lock.Manager
	planner    *recur.Planner
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	locks *lock.Manager,
	planner *recur.Planner,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		locks:      locks,
		planner:    planner,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job whose lock this process holds. On success it
// records the finish time, plans the next occurrence for repeating
// jobs, clears the lock, and emits JobSucceeded. On failure it records
// the failure fields, still plans the next occurrence, and emits
// JobFailed. The returned error is the handler's error, if any.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		// The record names a job this process never defined. Record
		// the failure so the record is not retried forever in silence.
		err := fmt.Errorf("%w: %q", chrono.ErrNoSuchDefinition, j.Name)
		start := time.Now().UTC()
		return e.finish(ctx, j, start, err)
	}

	opts := e.registry.Options(j.Name)
	start := time.Now().UTC()
	j.LastRunAt = &start

	// Make the run visible before invoking the handler. A failed
	// write is not fatal: the completion write carries the same field.
	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Warn("failed to record run start",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
	}

	err := e.invoke(ctx, j, handler, opts.Timeout)
	return e.finish(ctx, j, start, err)
}

// invoke runs the middleware chain and handler, enforcing the
// per-name timeout. On timeout the handler's context is cancelled and
// its goroutine abandoned; a handler that ignores cancellation keeps
// its goroutine until it returns on its own.
func (e *Executor) invoke(ctx context.Context, j *job.Job, handler job.HandlerFunc, timeout time.Duration) error {
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Data)
	}

	if timeout <= 0 {
		return e.mw(ctx, j, terminal)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.mw(runCtx, j, terminal)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		cancel()
		e.logger.Error("job handler timed out, abandoning",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Duration("timeout", timeout),
		)
		return fmt.Errorf("%w after %s", chrono.ErrHandlerTimeout, timeout)
	}
}

// finish records the execution outcome and plans the next run. The
// lock is cleared as part of the completion write; repeating jobs get
// their next occurrence regardless of outcome, so one failure never
// silences a schedule.
func (e *Executor) finish(ctx context.Context, j *job.Job, start time.Time, handlerErr error) error {
	now := time.Now().UTC()
	elapsed := now.Sub(start)
	opts := e.registry.Options(j.Name)

	j.LastFinishedAt = &now
	if handlerErr != nil {
		j.FailCount++
		j.FailReason = handlerErr.Error()
		j.FailedAt = &now
	}

	next, repeats, planErr := e.planner.Next(j, now, now)
	switch {
	case planErr != nil:
		// An unplannable interval behaves like a one-shot; the record
		// keeps its repeat fields for inspection.
		e.logger.Error("cannot plan next run",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("repeat_interval", j.RepeatInterval),
			slog.String("error", planErr.Error()),
		)
		j.NextRunAt = nil
	case repeats:
		j.NextRunAt = &next
	default:
		j.NextRunAt = nil
	}

	// Completed one-shots can be removed outright instead of lingering
	// as unscheduled records.
	if handlerErr == nil && !repeats && opts.RemoveOnComplete {
		if delErr := e.store.DeleteJob(ctx, j.ID); delErr != nil {
			e.logger.Error("failed to remove completed job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", delErr.Error()),
			)
		}
		e.extensions.EmitJobSucceeded(ctx, j, elapsed)
		return nil
	}

	// The completion write clears the lock along with the outcome
	// fields, so release is a single store round-trip.
	j.LockedAt = nil
	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to record job outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		// Best effort: try to at least drop the lock so the record is
		// not stuck until staleness expiry.
		_ = e.locks.Release(ctx, j.ID)
	}

	if handlerErr != nil {
		e.extensions.EmitJobFailed(ctx, j, handlerErr)
		return handlerErr
	}

	if repeats {
		e.extensions.EmitJobScheduled(ctx, j)
	}
	e.extensions.EmitJobSucceeded(ctx, j, elapsed)
	return nil
}
