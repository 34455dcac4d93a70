package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/engine"
	"github.com/xraph/chrono/ext"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
	"github.com/xraph/chrono/middleware"
	"github.com/xraph/chrono/store/memory"
)

type testPayload struct {
	To string `json:"to"`
}

// harness wires a full engine over the in-memory store with a fast
// scan interval.
type harness struct {
	s     *chrono.Scheduler
	eng   *engine.Engine
	store *memory.Store
}

func newHarness(t *testing.T, opts ...engine.Option) *harness {
	t.Helper()

	st := memory.New()
	s, err := chrono.New(
		chrono.WithStore(st),
		chrono.WithLogger(slog.Default()),
		chrono.WithScanInterval(10*time.Millisecond),
		chrono.WithDrainTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	eng, err := engine.Build(s, opts...)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	return &harness{s: s, eng: eng, store: st}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.eng.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() {
		_ = h.eng.Stop(context.Background())
	})
}

// awaitTrue polls cond until it returns true or the deadline passes.
func awaitTrue(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBuild_RequiresStore(t *testing.T) {
	s, err := chrono.New()
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if _, err := engine.Build(s); !errors.Is(err, chrono.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestEngine_NowRunsJob(t *testing.T) {
	h := newHarness(t)

	var got atomic.Value
	engine.Register(h.eng, job.NewDefinition("send-email", func(_ context.Context, p testPayload) error {
		got.Store(p.To)
		return nil
	}))

	ctx := context.Background()
	j, err := engine.Now(ctx, h.eng, "send-email", testPayload{To: "ada@example.com"})
	if err != nil {
		t.Fatalf("now: %v", err)
	}

	h.start(t)

	awaitTrue(t, func() bool { return got.Load() != nil }, "job never ran")
	if to := got.Load().(string); to != "ada@example.com" {
		t.Errorf("payload to = %q, want ada@example.com", to)
	}

	// One-shot: the record stays, unscheduled and unlocked.
	awaitTrue(t, func() bool {
		stored, getErr := h.store.GetJob(ctx, j.ID)
		return getErr == nil && stored.NextRunAt == nil && stored.LockedAt == nil
	}, "record not settled after run")
}

func TestEngine_EveryRepeats(t *testing.T) {
	h := newHarness(t)

	var runs atomic.Int32
	engine.Register(h.eng, job.NewDefinition("heartbeat", func(_ context.Context, _ struct{}) error {
		runs.Add(1)
		return nil
	}))

	ctx := context.Background()
	if _, err := engine.Every(ctx, h.eng, "heartbeat", struct{}{}, "30ms"); err != nil {
		t.Fatalf("every: %v", err)
	}

	h.start(t)

	awaitTrue(t, func() bool { return runs.Load() >= 3 }, "repeating job did not keep running")
}

func TestEngine_EveryCoalescesByName(t *testing.T) {
	h := newHarness(t)

	engine.Register(h.eng, job.NewDefinition("nightly-report", func(_ context.Context, _ struct{}) error {
		return nil
	}))

	ctx := context.Background()
	first, err := engine.Every(ctx, h.eng, "nightly-report", struct{}{}, "@daily")
	if err != nil {
		t.Fatalf("first every: %v", err)
	}
	second, err := engine.Every(ctx, h.eng, "nightly-report", struct{}{}, "@daily")
	if err != nil {
		t.Fatalf("second every: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second id = %s, want adopted %s", second.ID, first.ID)
	}

	count, err := h.store.CountJobs(ctx, job.CountOpts{Name: "nightly-report"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestEngine_EveryRejectsInvalidInterval(t *testing.T) {
	h := newHarness(t)

	_, err := engine.Every(context.Background(), h.eng, "bad", struct{}{}, "soonish")
	if !errors.Is(err, chrono.ErrInvalidRepeat) {
		t.Fatalf("err = %v, want ErrInvalidRepeat", err)
	}
}

func TestEngine_ScheduleFarFutureDoesNotRun(t *testing.T) {
	h := newHarness(t)

	var ran atomic.Bool
	engine.Register(h.eng, job.NewDefinition("later", func(_ context.Context, _ struct{}) error {
		ran.Store(true)
		return nil
	}))

	ctx := context.Background()
	if _, err := engine.Schedule(ctx, h.eng, "later", struct{}{}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	h.start(t)

	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Fatal("far-future job ran early")
	}
}

func TestEngine_DisableEnable(t *testing.T) {
	h := newHarness(t)

	var runs atomic.Int32
	engine.Register(h.eng, job.NewDefinition("toggle", func(_ context.Context, _ struct{}) error {
		runs.Add(1)
		return nil
	}))

	ctx := context.Background()
	j, err := engine.Now(ctx, h.eng, "toggle", struct{}{})
	if err != nil {
		t.Fatalf("now: %v", err)
	}
	if err := h.eng.Disable(ctx, j.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}

	h.start(t)

	time.Sleep(100 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("disabled job ran")
	}

	if err := h.eng.Enable(ctx, j.ID); err != nil {
		t.Fatalf("enable: %v", err)
	}
	awaitTrue(t, func() bool { return runs.Load() == 1 }, "re-enabled job never ran")
}

func TestEngine_EnableSpentOneShot(t *testing.T) {
	h := newHarness(t)

	engine.Register(h.eng, job.NewDefinition("once", func(_ context.Context, _ struct{}) error {
		return nil
	}))

	ctx := context.Background()
	j, err := engine.Now(ctx, h.eng, "once", struct{}{})
	if err != nil {
		t.Fatalf("now: %v", err)
	}

	h.start(t)

	awaitTrue(t, func() bool {
		stored, getErr := h.store.GetJob(ctx, j.ID)
		return getErr == nil && stored.NextRunAt == nil
	}, "one-shot never completed")

	if err := h.eng.Disable(ctx, j.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := h.eng.Enable(ctx, j.ID); !errors.Is(err, chrono.ErrNotScheduled) {
		t.Fatalf("enable spent one-shot: err = %v, want ErrNotScheduled", err)
	}
}

func TestEngine_Cancel(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	j, err := h.eng.ScheduleRaw(ctx, "doomed", nil, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := h.eng.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := h.store.GetJob(ctx, j.ID); !errors.Is(err, chrono.ErrJobNotFound) {
		t.Fatalf("get after cancel: err = %v, want ErrJobNotFound", err)
	}
	if err := h.eng.Cancel(ctx, j.ID); !errors.Is(err, chrono.ErrJobNotFound) {
		t.Fatalf("second cancel: err = %v, want ErrJobNotFound", err)
	}
}

func TestEngine_CancelByName(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	at := time.Now().Add(time.Hour)
	for range 3 {
		if _, err := h.eng.ScheduleRaw(ctx, "bulk", nil, at); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	if _, err := h.eng.ScheduleRaw(ctx, "other", nil, at); err != nil {
		t.Fatalf("schedule other: %v", err)
	}

	removed, err := h.eng.CancelByName(ctx, "bulk")
	if err != nil {
		t.Fatalf("cancel by name: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	remaining, err := h.store.CountJobs(ctx, job.CountOpts{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
}

// eventLog records lifecycle hook invocations.
type eventLog struct {
	scheduled atomic.Int32
	started   atomic.Int32
	succeeded atomic.Int32
	cancelled atomic.Int32
	shutdown  atomic.Bool
}

func (e *eventLog) Name() string { return "event-log" }

func (e *eventLog) OnJobScheduled(context.Context, *job.Job) error {
	e.scheduled.Add(1)
	return nil
}

func (e *eventLog) OnJobStarted(context.Context, *job.Job) error {
	e.started.Add(1)
	return nil
}

func (e *eventLog) OnJobSucceeded(context.Context, *job.Job, time.Duration) error {
	e.succeeded.Add(1)
	return nil
}

func (e *eventLog) OnJobCancelled(context.Context, id.JobID, string) error {
	e.cancelled.Add(1)
	return nil
}

func (e *eventLog) OnShutdown(context.Context) error {
	e.shutdown.Store(true)
	return nil
}

var (
	_ ext.JobScheduled = (*eventLog)(nil)
	_ ext.JobStarted   = (*eventLog)(nil)
	_ ext.JobSucceeded = (*eventLog)(nil)
	_ ext.JobCancelled = (*eventLog)(nil)
	_ ext.Shutdown     = (*eventLog)(nil)
)

func TestEngine_ExtensionLifecycle(t *testing.T) {
	log := &eventLog{}
	h := newHarness(t, engine.WithExtension(log))

	engine.Register(h.eng, job.NewDefinition("observed", func(_ context.Context, _ struct{}) error {
		return nil
	}))

	ctx := context.Background()
	if _, err := engine.Now(ctx, h.eng, "observed", struct{}{}); err != nil {
		t.Fatalf("now: %v", err)
	}
	if err := h.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	awaitTrue(t, func() bool { return log.succeeded.Load() == 1 }, "success hook never fired")
	if log.scheduled.Load() == 0 {
		t.Error("scheduled hook never fired")
	}
	if log.started.Load() != 1 {
		t.Errorf("started = %d, want 1", log.started.Load())
	}

	doomed, err := h.eng.ScheduleRaw(ctx, "observed", nil, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := h.eng.Cancel(ctx, doomed.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if log.cancelled.Load() != 1 {
		t.Errorf("cancelled = %d, want 1", log.cancelled.Load())
	}

	if err := h.eng.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !log.shutdown.Load() {
		t.Error("shutdown hook never fired")
	}
}

func TestEngine_UserMiddlewareRuns(t *testing.T) {
	var sawMw atomic.Bool
	h := newHarness(t, engine.WithMiddleware(func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		sawMw.Store(true)
		return next(ctx)
	}))

	var ran atomic.Bool
	engine.Register(h.eng, job.NewDefinition("wrapped", func(_ context.Context, _ struct{}) error {
		ran.Store(true)
		return nil
	}))

	ctx := context.Background()
	if _, err := engine.Now(ctx, h.eng, "wrapped", struct{}{}); err != nil {
		t.Fatalf("now: %v", err)
	}

	h.start(t)

	awaitTrue(t, ran.Load, "job never ran")
	if !sawMw.Load() {
		t.Error("user middleware never ran")
	}
}

func TestEngine_PerNameOptionsApply(t *testing.T) {
	h := newHarness(t)

	engine.Register(h.eng, job.NewDefinition("ranked", func(_ context.Context, _ struct{}) error {
		return nil
	}, job.WithPriority(8)))

	ctx := context.Background()
	j, err := engine.Schedule(ctx, h.eng, "ranked", struct{}{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if j.Priority != 8 {
		t.Errorf("priority = %d, want definition default 8", j.Priority)
	}

	// Call-site options override the definition.
	j2, err := engine.Schedule(ctx, h.eng, "ranked", struct{}{}, time.Now().Add(time.Hour), job.WithPriority(1))
	if err != nil {
		t.Fatalf("schedule override: %v", err)
	}
	if j2.Priority != 1 {
		t.Errorf("priority = %d, want call-site 1", j2.Priority)
	}
}
