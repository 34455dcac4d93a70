package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/chrono/ext"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobScheduled(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobScheduled")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobSucceeded")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnLockReclaimed(_ context.Context, _ *job.Job, _ string, _ time.Duration) error {
	e.calls = append(e.calls, "OnLockReclaimed")
	return nil
}

func (e *allHooksExt) OnJobCancelled(_ context.Context, _ id.JobID, _ string) error {
	e.calls = append(e.calls, "OnJobCancelled")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// startOnlyExt only implements the start hook.
type startOnlyExt struct {
	calls []string
}

func (e *startOnlyExt) Name() string { return "start-only" }

func (e *startOnlyExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_FansOutToAllHooks(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	e := &allHooksExt{}
	r.Register(e)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Name: "send"}

	r.EmitJobScheduled(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobSucceeded(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("handler error"))
	r.EmitLockReclaimed(ctx, j, "wkr_dead", 15*time.Minute)
	r.EmitJobCancelled(ctx, j.ID, j.Name)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobScheduled", "OnJobStarted", "OnJobSucceeded",
		"OnJobFailed", "OnLockReclaimed", "OnJobCancelled", "OnShutdown",
	}
	if len(e.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", e.calls, want)
	}
	for i, name := range want {
		if e.calls[i] != name {
			t.Errorf("calls[%d] = %q, want %q", i, e.calls[i], name)
		}
	}
}

func TestRegistry_OnlyNotifiesImplementers(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	e := &startOnlyExt{}
	r.Register(e)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Name: "send"}

	r.EmitJobScheduled(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobSucceeded(ctx, j, time.Second)
	r.EmitShutdown(ctx)

	if len(e.calls) != 1 || e.calls[0] != "OnJobStarted" {
		t.Errorf("calls = %v, want [OnJobStarted]", e.calls)
	}
}

func TestRegistry_HookErrorsDoNotPropagate(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&failingExt{})
	after := &startOnlyExt{}
	r.Register(after)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Name: "send"}

	// A failing hook must not stop later extensions from being called.
	r.EmitJobStarted(ctx, j)
	r.EmitShutdown(ctx)

	if len(after.calls) != 1 {
		t.Errorf("extension after a failing one got %v calls, want 1", after.calls)
	}
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	a := &allHooksExt{}
	b := &startOnlyExt{}
	r.Register(a)
	r.Register(b)

	exts := r.Extensions()
	if len(exts) != 2 {
		t.Fatalf("Extensions() len = %d, want 2", len(exts))
	}
	if exts[0].Name() != "all-hooks" || exts[1].Name() != "start-only" {
		t.Errorf("order = [%s %s], want [all-hooks start-only]", exts[0].Name(), exts[1].Name())
	}
}
