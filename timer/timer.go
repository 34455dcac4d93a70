package timer

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// MaxDelay is the longest span a single underlying timer is allowed to
// cover. Waits past this horizon are broken into a chain of timers.
const MaxDelay = time.Duration(math.MaxInt32) * time.Millisecond

// DefaultReevaluationInterval bounds how long a chained wait may sleep
// before re-reading the remaining delay. Re-reading lets a wake notice
// that its job was rescheduled, disabled, or deleted while it slept.
const DefaultReevaluationInterval = 24 * time.Hour

// RemainFunc reports the delay still left before a wake should fire.
// ok is false when the wake is no longer wanted (the job was removed,
// disabled, or claimed by someone else).
type RemainFunc func() (remaining time.Duration, ok bool)

// ──────────────────────────────────────────────────────────────
// Handle
// ──────────────────────────────────────────────────────────────

// Handle refers to one pending wake. Cancel is idempotent and safe to
// call concurrently with the wake firing; a wake that already fired
// ignores the cancel.
type Handle struct {
	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

// Cancel stops the pending wake. It does not wait for an in-flight
// fire callback to return.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	if h.timer != nil {
		h.timer.Stop()
	}
}

// arm installs the next link in the timer chain. Returns false when
// the handle was cancelled in the meantime.
func (h *Handle) arm(d time.Duration, f func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.timer = time.AfterFunc(d, f)
	return true
}

// finish marks the handle complete so later Cancel calls are no-ops.
func (h *Handle) finish() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	return true
}

// ──────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────

// Scheduler owns the in-process wake timers. It is safe for concurrent
// use. Stop cancels every pending wake; it does not wait for fire
// callbacks already running.
type Scheduler struct {
	logger       *slog.Logger
	maxDelay     time.Duration
	reevaluation time.Duration

	mu      sync.Mutex
	pending map[*Handle]struct{}
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxDelay overrides the per-timer ceiling. Values above MaxDelay
// are clamped.
func WithMaxDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 && d <= MaxDelay {
			s.maxDelay = d
		}
	}
}

// WithReevaluationInterval overrides how often a long wait re-reads
// its remaining delay.
func WithReevaluationInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.reevaluation = d
		}
	}
}

// NewScheduler creates a Scheduler.
func NewScheduler(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger:       logger.With(slog.String("component", "timer")),
		maxDelay:     MaxDelay,
		reevaluation: DefaultReevaluationInterval,
		pending:      make(map[*Handle]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleWake registers a wake that calls fire once remain reports
// zero or less. The initial delay and every chained link are capped at
// the per-timer ceiling and the re-evaluation interval, so no single
// sleep outlives either bound. remain is consulted before each link
// and before firing; if it reports ok=false the wake dissolves
// silently.
func (s *Scheduler) ScheduleWake(remain RemainFunc, fire func()) *Handle {
	h := &Handle{}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		h.done = true
		return h
	}
	s.pending[h] = struct{}{}
	s.mu.Unlock()

	s.step(h, remain, fire)
	return h
}

// Stop cancels all pending wakes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	handles := make([]*Handle, 0, len(s.pending))
	for h := range s.pending {
		handles = append(handles, h)
	}
	s.pending = make(map[*Handle]struct{})
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Pending reports the number of wakes currently chained.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) step(h *Handle, remain RemainFunc, fire func()) {
	left, ok := remain()
	if !ok {
		s.forget(h)
		h.Cancel()
		return
	}

	if left <= 0 {
		if h.finish() {
			s.forget(h)
			fire()
		}
		return
	}

	wait := left
	if wait > s.reevaluation {
		wait = s.reevaluation
	}
	if wait > s.maxDelay {
		wait = s.maxDelay
	}

	if wait < left {
		s.logger.Debug("chaining long wait",
			slog.Duration("remaining", left),
			slog.Duration("link", wait),
		)
	}

	if !h.arm(wait, func() { s.step(h, remain, fire) }) {
		s.forget(h)
	}
}

func (s *Scheduler) forget(h *Handle) {
	s.mu.Lock()
	delete(s.pending, h)
	s.mu.Unlock()
}
