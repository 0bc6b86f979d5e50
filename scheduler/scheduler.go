// Package scheduler admits a bounded number of concurrently active
// interpreter runs, queues the rest in submission order, and special-cases a
// batched sampling workload for simple graphs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxActive is the default cap on simultaneously active runs.
const DefaultMaxActive = 4

// Config configures a Scheduler.
type Config struct {
	// MaxActive caps how many runs step simultaneously. Zero means
	// DefaultMaxActive.
	MaxActive int

	// Logger receives diagnostic output. Defaults to slog.Default().
	Logger *slog.Logger
}

// Scheduler bounds concurrent run execution. Admission is FIFO: a run
// submitted while the scheduler is at capacity waits until an active run
// finalizes.
type Scheduler struct {
	maxActive int
	logger    *slog.Logger

	mu      sync.Mutex
	active  int
	pending []*Run
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = DefaultMaxActive
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		maxActive: cfg.MaxActive,
		logger:    cfg.Logger,
	}
}

// Run is one scheduled unit of work.
type Run struct {
	id     string
	fn     func(ctx context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	finalizeOnce sync.Once
	sched        *Scheduler
}

// ID returns the run's identifier.
func (r *Run) ID() string { return r.id }

// Done is closed when the run has finished and been finalized.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel requests cooperative cancellation. A run that is mid-call finishes
// that call before observing the cancelled context; a queued run is
// finalized without ever starting.
func (r *Run) Cancel() {
	r.cancel()
}

// Wait blocks until the run has finalized.
func (r *Run) Wait() {
	<-r.done
}

// Submit schedules fn for execution. If capacity allows it starts
// immediately on its own goroutine; otherwise it joins the FIFO queue. The
// returned Run can be waited on or cancelled. fn must honor ctx.
func (s *Scheduler) Submit(ctx context.Context, fn func(ctx context.Context)) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		id:     uuid.New().String(),
		fn:     fn,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		sched:  s,
	}

	s.mu.Lock()
	if s.active < s.maxActive {
		s.active++
		s.mu.Unlock()
		s.start(r)
	} else {
		s.pending = append(s.pending, r)
		s.mu.Unlock()
		s.logger.Debug("run queued", "run_id", r.id)
	}
	return r
}

// Active returns the number of currently active runs.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Queued returns the number of runs waiting for capacity.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// start launches the run goroutine. The caller has already counted it
// against the active limit.
func (s *Scheduler) start(r *Run) {
	go func() {
		defer r.finalize()
		if r.ctx.Err() != nil {
			// Cancelled while queued.
			return
		}
		r.fn(r.ctx)
	}()
}

// finalize runs exactly once per run: it releases the run's admission slot
// and starts the next queued run if capacity allows.
func (r *Run) finalize() {
	r.finalizeOnce.Do(func() {
		close(r.done)
		r.sched.dequeueNext()
	})
}

func (s *Scheduler) dequeueNext() {
	s.mu.Lock()
	s.active--
	var next *Run
	if len(s.pending) > 0 && s.active < s.maxActive {
		next = s.pending[0]
		s.pending = s.pending[1:]
		s.active++
	}
	s.mu.Unlock()

	if next != nil {
		s.start(next)
	}
}
