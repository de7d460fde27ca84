// Package scheduler runs listener registrations on background workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

const logPrefix = "scheduler:scheduler"

// Sentinel errors for the scheduler package.
var (
	// ErrAlreadyRunning is returned when Start is called on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler: already running")

	// ErrNotRunning is returned when work is submitted to a stopped scheduler.
	ErrNotRunning = errors.New("scheduler: not running")

	// ErrQueueFull is returned when the target worker queue cannot accept more work.
	ErrQueueFull = errors.New("scheduler: queue full")
)

// RegistrationObserver records processed registrations.
type RegistrationObserver interface {
	ObserveRegistration(listen bool, err error)
}

// Scheduler executes registrations against an EventSource on a fixed worker pool.
// Registrations sharing a listener/event key always land on the same worker and run
// in submission order, so the last submission for a key wins.
type Scheduler struct {
	source   dispatcher.EventSource
	observer RegistrationObserver

	workerCount int
	queueSize   int
	timeout     time.Duration

	mu      sync.RWMutex // guards queues against close during Submit
	queues  []chan dispatcher.Registration
	running atomic.Bool
	wg      sync.WaitGroup

	submitted atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	panicked  atomic.Uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithQueueSize sets the per-worker queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithTaskTimeout bounds each Register/Unregister call. Zero disables the bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// WithObserver sets the registration observer.
func WithObserver(o RegistrationObserver) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// New creates a stopped Scheduler for source.
func New(source dispatcher.EventSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:      source,
		workerCount: 4,
		queueSize:   256,
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the workers.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}
	s.queues = make([]chan dispatcher.Registration, s.workerCount)
	for i := range s.queues {
		s.queues[i] = make(chan dispatcher.Registration, s.queueSize)
		s.wg.Add(1)
		go s.worker(s.queues[i])
	}
	s.running.Store(true)
	slog.Info(fmt.Sprintf("%s - Started %d workers (queue %d each)", logPrefix, s.workerCount, s.queueSize))
	return nil
}

// Stop closes the queues and waits for queued work to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running.Store(false)
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info(fmt.Sprintf("%s - Stopped", logPrefix))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues reg without blocking.
func (s *Scheduler) Submit(reg dispatcher.Registration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running.Load() {
		return ErrNotRunning
	}
	q := s.queues[s.shard(reg)]
	select {
	case q <- reg:
		s.submitted.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *Scheduler) shard(reg dispatcher.Registration) int {
	return int(xxhash.Sum64String(reg.Key()) % uint64(len(s.queues)))
}

func (s *Scheduler) worker(q <-chan dispatcher.Registration) {
	defer s.wg.Done()
	for reg := range q {
		s.execute(reg)
	}
}

func (s *Scheduler) execute(reg dispatcher.Registration) {
	s.processed.Add(1)

	var err error
	defer func() {
		if r := recover(); r != nil {
			s.panicked.Add(1)
			err = fmt.Errorf("panic: %v", r)
			slog.Error(fmt.Sprintf("%s - registration panicked event=%s connection=%s: %v", logPrefix, reg.Event, reg.Listener.ConnectionID, r))
		}
		if err != nil {
			s.failed.Add(1)
		}
		if s.observer != nil {
			s.observer.ObserveRegistration(reg.Listen, err)
		}
	}()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err = s.apply(ctx, reg)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - registration failed event=%s listen=%t connection=%s: %v",
			logPrefix, reg.Event, reg.Listen, reg.Listener.ConnectionID, err))
	}
}

func (s *Scheduler) apply(ctx context.Context, reg dispatcher.Registration) error {
	if reg.Listen {
		return s.source.Register(ctx, reg.Listener, reg.Event)
	}
	if reg.WholeConnection {
		if cs, ok := s.source.(dispatcher.ConnectionSource); ok {
			return cs.UnregisterConnection(ctx, reg.Listener.ConnectionID, reg.Event)
		}
	}
	return s.source.Unregister(ctx, reg.Listener, reg.Event)
}

// QueueDepth returns the number of registrations waiting across all workers.
func (s *Scheduler) QueueDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running.Load() {
		return 0
	}
	depth := 0
	for _, q := range s.queues {
		depth += len(q)
	}
	return depth
}

// IsRunning reports whether the scheduler accepts work.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Stats holds scheduler counters.
type Stats struct {
	Submitted  uint64
	Processed  uint64
	Failed     uint64
	Dropped    uint64
	Panicked   uint64
	QueueDepth int
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Submitted:  s.submitted.Load(),
		Processed:  s.processed.Load(),
		Failed:     s.failed.Load(),
		Dropped:    s.dropped.Load(),
		Panicked:   s.panicked.Load(),
		QueueDepth: s.QueueDepth(),
	}
}
