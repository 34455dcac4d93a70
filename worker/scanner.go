package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/admit"
	"github.com/xraph/chrono/backoff"
	"github.com/xraph/chrono/ext"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
	"github.com/xraph/chrono/lock"
	"github.com/xraph/chrono/timer"
)

// Scanner is the polling loop at the heart of a worker process. On
// every tick — or sooner, when woken — it asks the store for due jobs,
// tries to take each one's lock, passes admission control, and hands
// admitted jobs to worker goroutines for execution. Multiple processes
// run their scanners against the same store without coordination; the
// lock claim decides who runs what.
type Scanner struct {
	config     chrono.Config
	store      job.Store
	registry   *job.Registry
	locks      *lock.Manager
	admission  *admit.Controller
	executor   *Executor
	timers     *timer.Scheduler
	extensions *ext.Registry
	lifetime   lock.LifetimeFunc
	backoff    backoff.Strategy
	logger     *slog.Logger

	stopCh chan struct{}
	wakeCh chan struct{}

	execCtx    context.Context
	execCancel context.CancelFunc

	loopWG   sync.WaitGroup
	inflight sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithOutageBackoff sets the retry strategy used when the store
// becomes unreachable mid-scan.
func WithOutageBackoff(s backoff.Strategy) ScannerOption {
	return func(sc *Scanner) { sc.backoff = s }
}

// NewScanner creates a Scanner. lifetime must match the LifetimeFunc
// the lock manager claims with, so staleness is judged consistently.
func NewScanner(
	config chrono.Config,
	store job.Store,
	registry *job.Registry,
	locks *lock.Manager,
	admission *admit.Controller,
	executor *Executor,
	timers *timer.Scheduler,
	extensions *ext.Registry,
	lifetime lock.LifetimeFunc,
	logger *slog.Logger,
	opts ...ScannerOption,
) *Scanner {
	s := &Scanner{
		config:     config,
		store:      store,
		registry:   registry,
		locks:      locks,
		admission:  admission,
		executor:   executor,
		timers:     timers,
		extensions: extensions,
		lifetime:   lifetime,
		backoff:    backoff.DefaultStrategy(),
		logger:     logger,
		stopCh:     make(chan struct{}),
		wakeCh:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scan loop. It returns immediately.
func (s *Scanner) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true
	s.execCtx, s.execCancel = context.WithCancel(context.Background())

	s.logger.Info("scanner starting",
		slog.String("worker_id", s.locks.WorkerID().String()),
		slog.Duration("scan_interval", s.config.ScanInterval),
		slog.Int("batch_size", s.config.BatchSize),
	)

	s.loopWG.Add(1)
	go s.loop()
	return nil
}

// Stop halts the scan loop, cancels pending timer wakes, and drains
// in-flight executions up to Config.DrainTimeout. Handlers still
// running at the deadline have their contexts cancelled and are
// abandoned; their locks expire by staleness.
func (s *Scanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scanner stopping", slog.String("worker_id", s.locks.WorkerID().String()))

	close(s.stopCh)
	s.timers.Stop()
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scanner stopped, all handlers drained")
	case <-time.After(s.config.DrainTimeout):
		s.logger.Warn("drain timeout exceeded, abandoning in-flight handlers",
			slog.Duration("drain_timeout", s.config.DrainTimeout))
		s.execCancel()
	case <-ctx.Done():
		s.logger.Warn("shutdown context expired, abandoning in-flight handlers")
		s.execCancel()
	}

	s.execCancel()
	return nil
}

// Wake nudges the scan loop to run ahead of its next tick. Safe to
// call from any goroutine; redundant wakes coalesce.
func (s *Scanner) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// ScheduleJobWake arms a timer wake for a job whose next run lies
// beyond the scan horizon. The wake re-reads the record before firing,
// so a job that was meanwhile rescheduled, disabled, or deleted
// dissolves the wake instead of triggering a useless scan.
func (s *Scanner) ScheduleJobWake(jobID id.JobID) *timer.Handle {
	return s.timers.ScheduleWake(func() (time.Duration, bool) {
		j, err := s.store.GetJob(context.Background(), jobID)
		if err != nil {
			return 0, false
		}
		if j.Disabled || j.NextRunAt == nil {
			return 0, false
		}
		return time.Until(*j.NextRunAt), true
	}, s.Wake)
}

// loop runs until Stop. Each iteration scans once, then waits for the
// ticker, a wake, or shutdown.
func (s *Scanner) loop() {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	outageAttempt := 0
	for {
		if err := s.scan(); err != nil {
			outageAttempt++
			delay := s.backoff.Delay(outageAttempt)
			s.logger.Warn("scan failed, backing off",
				slog.Int("attempt", outageAttempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			select {
			case <-time.After(delay):
			case <-s.stopCh:
				return
			}
			continue
		}
		outageAttempt = 0

		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		case <-s.wakeCh:
		}
	}
}

// scan fetches one batch of due jobs and dispatches each claimable
// one. Returns an error only for store failures; individual jobs that
// cannot be claimed or admitted are skipped, not errors.
func (s *Scanner) scan() error {
	now := time.Now().UTC()
	due, err := s.store.DueJobs(context.Background(), now, s.config.DefaultLockLifetime, s.config.BatchSize)
	if err != nil {
		return err
	}

	for _, j := range due {
		select {
		case <-s.stopCh:
			return nil
		default:
		}
		s.dispatch(j, now)
	}
	return nil
}

// dispatch claims, admits, and launches one due job.
func (s *Scanner) dispatch(j *job.Job, now time.Time) {
	// Records defined by other processes are not ours to run.
	if _, ok := s.registry.Get(j.Name); !ok {
		return
	}

	wasStale := j.LockStale(now, s.lifetime(j.Name))
	previousHolder := j.LastModifiedBy
	var heldFor time.Duration
	if wasStale && j.LockedAt != nil {
		heldFor = now.Sub(*j.LockedAt)
	}

	claimed, res, err := s.locks.TryAcquire(context.Background(), j)
	if err != nil {
		s.logger.Warn("lock acquisition error",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if res != lock.Locked {
		// Lost the race or the record went away. Routine under
		// concurrent workers.
		s.logger.Debug("job not claimed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("result", res.String()),
		)
		return
	}

	if wasStale {
		s.extensions.EmitLockReclaimed(context.Background(), claimed, previousHolder, heldFor)
	}

	if d := s.admission.TryAdmit(claimed.Name); !d.Admitted {
		// Over a ceiling. Drop the lock immediately so another
		// process can pick the job up this scan round.
		s.logger.Debug("admission rejected, releasing lock",
			slog.String("job_id", claimed.ID.String()),
			slog.String("job_name", claimed.Name),
			slog.String("reason", d.Reason),
		)
		if relErr := s.locks.Release(context.Background(), claimed.ID); relErr != nil {
			s.logger.Warn("failed to release lock after admission rejection",
				slog.String("job_id", claimed.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.admission.Release(claimed.Name)

		s.extensions.EmitJobStarted(s.execCtx, claimed)
		if execErr := s.executor.Execute(s.execCtx, claimed); execErr != nil {
			s.logger.Debug("job execution failed",
				slog.String("job_id", claimed.ID.String()),
				slog.String("job_name", claimed.Name),
				slog.String("error", execErr.Error()),
			)
		}
	}()
}
