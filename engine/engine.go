package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/admit"
	"github.com/xraph/chrono/backoff"
	"github.com/xraph/chrono/ext"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
	"github.com/xraph/chrono/lock"
	mw "github.com/xraph/chrono/middleware"
	"github.com/xraph/chrono/observability"
	"github.com/xraph/chrono/recur"
	"github.com/xraph/chrono/timer"
	"github.com/xraph/chrono/worker"
)

// Engine wraps a Scheduler with the wired subsystems and exposes the
// scheduling operations. Use Build() to create one.
type Engine struct {
	s          *chrono.Scheduler
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	locks      *lock.Manager
	admission  *admit.Controller
	timers     *timer.Scheduler
	planner    *recur.Planner
	executor   *worker.Executor
	scanner    *worker.Scanner
	logger     *slog.Logger

	mws []mw.Middleware
	bo  backoff.Strategy

	ratePerSecond float64
	rateBurst     int

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers a lifecycle extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware appends middleware to the engine's execution chain,
// after the built-in recover/tracing/metrics/logging stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithOutageBackoff sets the retry pacing the scan loop uses while the
// store is unreachable. If not set, backoff.DefaultStrategy()
// (exponential with jitter) is used.
func WithOutageBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithAdmissionRateLimit applies a process-wide token-bucket limit on
// dispatches per second, with the given burst. Zero disables it.
func WithAdmissionRateLimit(perSecond float64, burst int) Option {
	return func(eng *Engine) {
		eng.ratePerSecond = perSecond
		eng.rateBurst = burst
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability
// extension use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Scheduler and wires the
// scan loop back into it. The Scheduler's store must implement
// job.Store.
func Build(s *chrono.Scheduler, opts ...Option) (*Engine, error) {
	logger := s.Logger()
	store := s.Store()

	if store == nil {
		return nil, chrono.ErrNoStore
	}
	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("chrono: store does not implement job.Store")
	}

	eng := &Engine{
		s:          s,
		store:      js,
		registry:   job.NewRegistry(),
		extensions: ext.NewRegistry(logger),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	config := s.Config()

	// Per-name lock lifetime, falling back to the engine default. Both
	// the lock manager and the scanner's due query judge staleness
	// through this one function.
	lifetime := func(name string) time.Duration {
		if lt := eng.registry.Options(name).LockLifetime; lt > 0 {
			return lt
		}
		return config.DefaultLockLifetime
	}

	eng.locks = lock.NewManager(js, id.NewWorkerID(), lifetime, logger)

	admitOpts := []admit.ControllerOption{}
	if eng.ratePerSecond > 0 {
		admitOpts = append(admitOpts, admit.WithRateLimit(eng.ratePerSecond, eng.rateBurst))
	}
	eng.admission = admit.NewController(config.MaxConcurrency, func(name string) int {
		return eng.registry.Options(name).Concurrency
	}, admitOpts...)

	eng.timers = timer.NewScheduler(logger,
		timer.WithReevaluationInterval(config.ReevaluationInterval),
	)
	eng.planner = recur.NewPlanner(logger)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/chrono")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/chrono")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/chrono/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws = append(allMws, eng.mws...)

	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, js, eng.locks, eng.planner, logger, allMws...)

	eng.scanner = worker.NewScanner(
		config,
		js,
		eng.registry,
		eng.locks,
		eng.admission,
		eng.executor,
		eng.timers,
		eng.extensions,
		lifetime,
		logger,
		worker.WithOutageBackoff(eng.bo),
	)

	// Wire back into the Scheduler.
	s.SetScanner(eng.scanner)
	s.SetObservers(eng.extensions)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Start begins job processing.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.s.Start(ctx)
}

// Stop gracefully shuts down the engine, draining in-flight handlers
// up to the configured drain timeout.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.s.Stop(ctx)
}

// ── Scheduling operations ─────────────────────────────────────────

// Schedule creates a job that runs once at the given time.
func Schedule[T any](ctx context.Context, eng *Engine, name string, payload T, at time.Time, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.ScheduleRaw(ctx, name, data, at, opts...)
}

// Now creates a job that runs as soon as a worker picks it up.
func Now[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	return Schedule(ctx, eng, name, payload, time.Now().UTC(), opts...)
}

// Every creates a repeating job. interval is either a fixed duration
// ("5m", "1h30m") or a cron expression ("0 9 * * MON-FRI", "@daily").
// Repeating jobs are TypeSingle: scheduling the same name again
// coalesces onto the live record instead of creating a duplicate.
func Every[T any](ctx context.Context, eng *Engine, name string, payload T, interval string, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.EveryRaw(ctx, name, data, interval, opts...)
}

// ScheduleRaw creates a one-shot job with a pre-serialized payload.
func (eng *Engine) ScheduleRaw(ctx context.Context, name string, data []byte, at time.Time, opts ...job.Option) (*job.Job, error) {
	j := eng.newJob(name, data, opts...)
	at = at.UTC()
	j.NextRunAt = &at

	if err := eng.store.SaveJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobScheduled(ctx, j)
	eng.armWake(j)
	return j, nil
}

// EveryRaw creates a repeating job with a pre-serialized payload.
func (eng *Engine) EveryRaw(ctx context.Context, name string, data []byte, interval string, opts ...job.Option) (*job.Job, error) {
	if err := eng.planner.Validate(interval); err != nil {
		return nil, err
	}

	j := eng.newJob(name, data, opts...)
	j.Type = job.TypeSingle
	j.RepeatInterval = interval

	// First occurrence, planned the same way post-run occurrences are.
	now := time.Now().UTC()
	next, ok, err := eng.planner.Next(j, now, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q yields no occurrence", chrono.ErrInvalidRepeat, interval)
	}
	j.NextRunAt = &next

	if err := eng.store.SaveJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobScheduled(ctx, j)
	eng.armWake(j)
	return j, nil
}

// Disable stops a job from being picked up until it is re-enabled.
// A running execution is not interrupted.
func (eng *Engine) Disable(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Disabled {
		return nil
	}
	j.Disabled = true
	return eng.store.UpdateJob(ctx, j)
}

// Enable re-activates a disabled job. A repeating job whose schedule
// lapsed while disabled gets its next occurrence replanned; a one-shot
// with no pending run cannot be re-enabled.
func (eng *Engine) Enable(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if j.NextRunAt == nil {
		if !j.IsRepeating() {
			return chrono.ErrNotScheduled
		}
		next, ok, planErr := eng.planner.Next(j, now, now)
		if planErr != nil {
			return planErr
		}
		if !ok {
			return chrono.ErrNotScheduled
		}
		j.NextRunAt = &next
	}

	j.Disabled = false
	if err := eng.store.UpdateJob(ctx, j); err != nil {
		return err
	}

	eng.extensions.EmitJobScheduled(ctx, j)
	eng.armWake(j)
	return nil
}

// Cancel deletes a job record. A running execution is not interrupted;
// its completion write simply finds the record gone.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := eng.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	eng.extensions.EmitJobCancelled(ctx, jobID, j.Name)
	return nil
}

// CancelByName deletes every job record with the given name and
// returns how many were removed.
func (eng *Engine) CancelByName(ctx context.Context, name string) (int, error) {
	jobs, err := eng.store.ListJobs(ctx, job.ListOpts{Name: name})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, j := range jobs {
		if delErr := eng.store.DeleteJob(ctx, j.ID); delErr != nil {
			continue
		}
		eng.extensions.EmitJobCancelled(ctx, j.ID, j.Name)
		removed++
	}
	return removed, nil
}

// newJob builds a record from the definition's registered options
// overlaid with call-site options.
func (eng *Engine) newJob(name string, data []byte, opts ...job.Option) *job.Job {
	o := eng.registry.Options(name)
	for _, opt := range opts {
		opt(&o)
	}

	j := &job.Job{
		Entity:         chrono.NewEntity(),
		ID:             id.NewJobID(),
		Name:           name,
		Data:           data,
		Type:           job.TypeNormal,
		Priority:       o.Priority,
		RepeatTimezone: o.RepeatTimezone,
		LastModifiedBy: eng.locks.WorkerID().String(),
	}
	if o.Single {
		j.Type = job.TypeSingle
	}
	return j
}

// armWake nudges the scan loop for near-term jobs and arms a chained
// timer wake for jobs beyond the scan horizon.
func (eng *Engine) armWake(j *job.Job) {
	if j.NextRunAt == nil {
		return
	}
	if time.Until(*j.NextRunAt) <= eng.s.Config().ScanInterval {
		eng.scanner.Wake()
		return
	}
	eng.scanner.ScheduleJobWake(j.ID)
}

// ── Accessors ─────────────────────────────────────────────────────

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Scheduler returns the underlying Scheduler.
func (eng *Engine) Scheduler() *chrono.Scheduler { return eng.s }

// WorkerID returns the identifier this process claims locks under.
func (eng *Engine) WorkerID() id.WorkerID { return eng.locks.WorkerID() }
