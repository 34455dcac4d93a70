package timer_test

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/chrono/timer"
)

// countdown is a RemainFunc backed by a mutable deadline.
type countdown struct {
	mu       sync.Mutex
	deadline time.Time
	ok       bool
	reads    int
}

func newCountdown(d time.Duration) *countdown {
	return &countdown{deadline: time.Now().Add(d), ok: true}
}

func (c *countdown) remain() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if !c.ok {
		return 0, false
	}
	return time.Until(c.deadline), true
}

func (c *countdown) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ok = false
}

func (c *countdown) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestScheduleWake_Fires(t *testing.T) {
	s := timer.NewScheduler(slog.Default())
	defer s.Stop()

	var fired atomic.Bool
	s.ScheduleWake(newCountdown(20*time.Millisecond).remain, func() { fired.Store(true) })

	waitFor(t, fired.Load, "wake did not fire")
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d after fire, want 0", got)
	}
}

func TestScheduleWake_ImmediateWhenAlreadyDue(t *testing.T) {
	s := timer.NewScheduler(slog.Default())
	defer s.Stop()

	var fired atomic.Bool
	s.ScheduleWake(newCountdown(-time.Second).remain, func() { fired.Store(true) })

	if !fired.Load() {
		t.Error("past-due wake should fire synchronously")
	}
}

func TestScheduleWake_ChainsLongWaits(t *testing.T) {
	// A tiny per-timer ceiling forces the wait to be split into many
	// links, each of which re-reads the remaining delay.
	s := timer.NewScheduler(slog.Default(), timer.WithMaxDelay(10*time.Millisecond))
	defer s.Stop()

	cd := newCountdown(80 * time.Millisecond)
	var fired atomic.Bool
	s.ScheduleWake(cd.remain, func() { fired.Store(true) })

	waitFor(t, fired.Load, "chained wake did not fire")
	if reads := cd.readCount(); reads < 4 {
		t.Errorf("remain read %d times, want several (one per link)", reads)
	}
}

func TestScheduleWake_ReevaluationCapsLinks(t *testing.T) {
	s := timer.NewScheduler(slog.Default(),
		timer.WithReevaluationInterval(10*time.Millisecond))
	defer s.Stop()

	// A wake a full day out must still re-read within the interval.
	cd := newCountdown(24 * time.Hour)
	h := s.ScheduleWake(cd.remain, func() { t.Error("must not fire") })
	defer h.Cancel()

	waitFor(t, func() bool { return cd.readCount() >= 3 },
		"remaining delay was not re-read within the re-evaluation interval")
}

func TestScheduleWake_DissolvesWhenNoLongerWanted(t *testing.T) {
	s := timer.NewScheduler(slog.Default(),
		timer.WithReevaluationInterval(5*time.Millisecond))
	defer s.Stop()

	cd := newCountdown(time.Hour)
	s.ScheduleWake(cd.remain, func() { t.Error("must not fire") })
	cd.drop()

	waitFor(t, func() bool { return s.Pending() == 0 },
		"wake did not dissolve after remain reported not-ok")
}

func TestHandle_CancelIdempotent(t *testing.T) {
	s := timer.NewScheduler(slog.Default())
	defer s.Stop()

	h := s.ScheduleWake(newCountdown(time.Hour).remain, func() { t.Error("must not fire") })
	h.Cancel()
	h.Cancel()

	time.Sleep(20 * time.Millisecond)
}

func TestStop_CancelsPending(t *testing.T) {
	s := timer.NewScheduler(slog.Default())

	for range 3 {
		s.ScheduleWake(newCountdown(time.Hour).remain, func() { t.Error("must not fire") })
	}
	if got := s.Pending(); got != 3 {
		t.Fatalf("Pending = %d, want 3", got)
	}

	s.Stop()
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d after Stop, want 0", got)
	}

	// New wakes after Stop are inert.
	h := s.ScheduleWake(newCountdown(-time.Second).remain, func() { t.Error("must not fire") })
	h.Cancel()
}
