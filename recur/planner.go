package recur

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/job"
)

// Planner computes next-run times for repeating jobs. Parsed cron
// schedules are cached by expression; the cache only ever grows, which
// is acceptable because the set of distinct expressions is the set of
// defined jobs. Safe for concurrent use.
type Planner struct {
	logger *slog.Logger
	parser cron.Parser

	mu    sync.RWMutex
	cache map[string]cron.Schedule
}

// NewPlanner creates a Planner. The parser accepts standard five-field
// cron expressions and @-descriptors.
func NewPlanner(logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		logger: logger.With(slog.String("component", "recur")),
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		cache: make(map[string]cron.Schedule),
	}
}

// Next computes when the job should run again after completing at
// completedAt. ok is false for one-shot jobs. The result is always
// after now: occurrences that fell while the job was running, locked,
// or the process was down are skipped, not replayed.
func (p *Planner) Next(j *job.Job, completedAt, now time.Time) (time.Time, bool, error) {
	if !j.IsRepeating() {
		return time.Time{}, false, nil
	}

	loc, err := p.location(j.RepeatTimezone)
	if err != nil {
		return time.Time{}, false, err
	}

	if sched, ok := p.schedule(j.RepeatInterval); ok {
		next := sched.Next(completedAt.In(loc))
		for !next.IsZero() && !next.After(now) {
			skipped := next
			next = sched.Next(next)
			p.logger.Debug("skipping missed occurrence",
				slog.String("job_name", j.Name),
				slog.Time("missed", skipped),
			)
		}
		if next.IsZero() {
			return time.Time{}, false, fmt.Errorf("%w: %q has no future occurrence",
				chrono.ErrInvalidRepeat, j.RepeatInterval)
		}
		return next.UTC(), true, nil
	}

	d, err := time.ParseDuration(j.RepeatInterval)
	if err != nil || d <= 0 {
		return time.Time{}, false, fmt.Errorf("%w: %q is neither a cron expression nor a positive duration",
			chrono.ErrInvalidRepeat, j.RepeatInterval)
	}

	next := completedAt.Add(d)
	if !next.After(now) {
		// Jump over all missed periods in one step.
		periods := now.Sub(next)/d + 1
		next = next.Add(periods * d)
	}
	return next.UTC(), true, nil
}

// Validate reports whether expr is a usable repeat interval. Used at
// definition and schedule time so malformed expressions are rejected
// before a job record is persisted.
func (p *Planner) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	if _, ok := p.schedule(expr); ok {
		return nil
	}
	if d, err := time.ParseDuration(expr); err == nil && d > 0 {
		return nil
	}
	return fmt.Errorf("%w: %q is neither a cron expression nor a positive duration",
		chrono.ErrInvalidRepeat, expr)
}

// schedule returns the cached cron schedule for expr, parsing and
// caching it on first use. ok is false when expr is not a cron
// expression.
func (p *Planner) schedule(expr string) (cron.Schedule, bool) {
	p.mu.RLock()
	sched, ok := p.cache[expr]
	p.mu.RUnlock()
	if ok {
		return sched, true
	}

	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, false
	}

	p.mu.Lock()
	p.cache[expr] = sched
	p.mu.Unlock()
	return sched, true
}

func (p *Planner) location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", chrono.ErrInvalidRepeat, name)
	}
	return loc, nil
}
