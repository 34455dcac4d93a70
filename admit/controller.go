// Package admit implements local admission control: per-job-name and
// process-wide ceilings on simultaneously running handlers, applied
// after a lock is acquired and before execution begins. Ceilings are
// soft back-pressure local to one worker process — fleet-wide mutual
// exclusion comes from per-record locking, not from this controller.
package admit

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// LimitFunc resolves the per-name concurrency ceiling for a job name.
// Zero means unbounded.
type LimitFunc func(name string) int

// Decision is the outcome of an admission attempt.
type Decision struct {
	Admitted bool
	// Reason explains a rejection; empty when admitted.
	Reason string
}

// Controller tracks in-flight executions against the configured
// ceilings. Counters reset when the controller is created (engine
// start) and are mutated only by TryAdmit/Release pairs.
// Safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	maxTotal int
	limit    LimitFunc
	limiter  *rate.Limiter

	total   int
	perName map[string]int
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithRateLimit applies a process-wide token-bucket limit on admissions
// per second, with the given burst. Zero disables rate limiting.
func WithRateLimit(perSecond float64, burst int) ControllerOption {
	return func(c *Controller) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewController creates a Controller. maxTotal is the process-wide
// ceiling (zero means unbounded); limit resolves per-name ceilings.
func NewController(maxTotal int, limit LimitFunc, opts ...ControllerOption) *Controller {
	c := &Controller{
		maxTotal: maxTotal,
		limit:    limit,
		perName:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TryAdmit checks the ceilings for the given job name. If admitted it
// increments the in-flight counters and the caller MUST call Release
// with the same name when execution completes. Rejection never leaves
// state behind.
func (c *Controller) TryAdmit(name string) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limiter != nil && !c.limiter.Allow() {
		return Decision{Reason: "rate limit exceeded"}
	}

	if c.maxTotal > 0 && c.total >= c.maxTotal {
		return Decision{Reason: fmt.Sprintf("process concurrency ceiling %d reached", c.maxTotal)}
	}

	if max := c.limit(name); max > 0 && c.perName[name] >= max {
		return Decision{Reason: fmt.Sprintf("concurrency ceiling %d for %q reached", max, name)}
	}

	c.total++
	c.perName[name]++
	return Decision{Admitted: true}
}

// Release decrements the in-flight counters for the given name.
func (c *Controller) Release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.total > 0 {
		c.total--
	}
	if c.perName[name] > 0 {
		c.perName[name]--
		if c.perName[name] == 0 {
			delete(c.perName, name)
		}
	}
}

// InFlight returns the current process-wide in-flight count.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// InFlightFor returns the current in-flight count for a job name.
func (c *Controller) InFlightFor(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perName[name]
}
