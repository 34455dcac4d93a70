package chrono

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Scheduler.
type Option func(*Scheduler) error

// Storer is the minimal store interface held by the Scheduler. It
// covers lifecycle operations only; the full composite interface
// (store.Store) is used by the subsystem layers, which would create
// import cycles if referenced here.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// scanRunner is an internal interface for the scan loop lifecycle.
type scanRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// observerEmitter is an internal interface for observer shutdown events.
type observerEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Scheduler is the root handle for the job processing engine. Create
// one with New() and functional options, then wire the subsystems with
// engine.Build. The Scheduler holds subsystem references through
// internal interfaces to avoid import cycles.
type Scheduler struct {
	config    Config
	logger    *slog.Logger
	store     Storer
	scanner   scanRunner
	observers observerEmitter

	started bool
}

// New creates a new Scheduler with the given options.
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() *slog.Logger { return s.logger }

// Store returns the scheduler's store.
func (s *Scheduler) Store() Storer { return s.store }

// Config returns a copy of the scheduler's configuration.
func (s *Scheduler) Config() Config { return s.config }

// SetScanner sets the scan loop runner (called by engine.Build).
func (s *Scheduler) SetScanner(r scanRunner) { s.scanner = r }

// SetObservers sets the observer emitter (called by engine.Build).
func (s *Scheduler) SetObservers(o observerEmitter) { s.observers = o }

// Start begins job processing.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.scanner == nil {
		return ErrNoStore
	}
	if err := s.scanner.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the scheduler. In-flight handlers are
// drained up to Config.DrainTimeout; stragglers are abandoned and
// their locks left to expire by staleness.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.scanner != nil && s.started {
		if err := s.scanner.Stop(ctx); err != nil {
			s.logger.Error("scanner stop error", "error", err)
		}
	}
	if s.observers != nil {
		s.observers.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithMaxConcurrency sets the process-wide ceiling on concurrently
// running job handlers.
func WithMaxConcurrency(n int) Option {
	return func(s *Scheduler) error {
		s.config.MaxConcurrency = n
		return nil
	}
}

// WithScanInterval sets how often the scan loop polls for due jobs.
func WithScanInterval(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.ScanInterval = d
		return nil
	}
}

// WithBatchSize bounds how many due jobs one scan may pick up.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) error {
		s.config.BatchSize = n
		return nil
	}
}

// WithDrainTimeout sets the maximum graceful-shutdown wait.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.DrainTimeout = d
		return nil
	}
}

// WithDefaultLockLifetime sets the default lock staleness threshold.
func WithDefaultLockLifetime(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.DefaultLockLifetime = d
		return nil
	}
}

// WithReevaluationInterval caps single timer waits for far-future jobs.
func WithReevaluationInterval(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.ReevaluationInterval = d
		return nil
	}
}

// WithLogger sets the structured logger for the scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the scheduler. The store
// must implement Storer at minimum; typically it is a store.Store.
func WithStore(st Storer) Option {
	return func(s *Scheduler) error {
		s.store = st
		return nil
	}
}
