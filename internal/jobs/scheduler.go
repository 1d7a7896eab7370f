package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// DefaultTickInterval matches a 20 ticks/s game loop.
	DefaultTickInterval = 50 * time.Millisecond

	// DefaultRetention is how long a terminal job stays queryable.
	DefaultRetention = 10 * time.Minute
)

// ErrSchedulerStopped is returned by calls made after Run returned.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// SchedulerConfig configures a new scheduler.
type SchedulerConfig struct {
	Logger       *slog.Logger
	TickInterval time.Duration
	Retention    time.Duration
}

// Scheduler owns every extraction job and ticks them from a single
// goroutine. Other goroutines reach the jobs only through its mailbox, so
// job state is never shared.
type Scheduler struct {
	logger       *slog.Logger
	tickInterval time.Duration
	retention    time.Duration

	jobs     map[string]*Job // touched only by the Run goroutine
	requests chan func()
	stopped  chan struct{}
}

// NewScheduler creates a new scheduler. Call Run to start ticking.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Scheduler{
		logger:       logger,
		tickInterval: tick,
		retention:    retention,
		jobs:         make(map[string]*Job),
		requests:     make(chan func()),
		stopped:      make(chan struct{}),
	}
}

// Run ticks all jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.logger.Debug("scheduler started", "tick", s.tickInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("scheduler stopped", "jobs", len(s.jobs))
			return
		case fn := <-s.requests:
			fn()
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	for id, job := range s.jobs {
		if !job.Terminal() {
			job.Tick()
			continue
		}
		if now.Sub(job.FinishedAt()) > s.retention {
			delete(s.jobs, id)
			s.logger.Debug("job evicted", "job_id", id)
		}
	}
}

// call runs fn on the scheduler goroutine and hands its result back over a
// channel. On error the zero value is returned and nothing fn touches is
// read by the caller.
func call[T any](ctx context.Context, s *Scheduler, fn func() T) (T, error) {
	var zero T
	out := make(chan T, 1)
	select {
	case s.requests <- func() { out <- fn() }:
	case <-s.stopped:
		return zero, ErrSchedulerStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-out:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Submit registers a job. It is ticked from the next scheduler tick.
func (s *Scheduler) Submit(ctx context.Context, job *Job) error {
	id, target := job.ID(), job.Spec().TargetID
	total, err := call(ctx, s, func() int {
		s.jobs[id] = job
		_, n := job.Progress()
		return n
	})
	if err != nil {
		return err
	}
	s.logger.Info("job submitted", "job_id", id, "target", target, "regions", total)
	return nil
}

// Status returns a snapshot of a job. Unknown or evicted jobs report
// Found false.
func (s *Scheduler) Status(ctx context.Context, id string) (JobStatus, error) {
	return call(ctx, s, func() JobStatus {
		if job, ok := s.jobs[id]; ok {
			return job.Status()
		}
		return JobStatus{}
	})
}

// Active returns how many jobs are still running.
func (s *Scheduler) Active(ctx context.Context) (int, error) {
	return call(ctx, s, func() int {
		n := 0
		for _, job := range s.jobs {
			if !job.Terminal() {
				n++
			}
		}
		return n
	})
}

// Exec runs fn on the scheduler goroutine, serialized with ticks. World
// access that must not race job ticks goes through here.
func (s *Scheduler) Exec(ctx context.Context, fn func()) error {
	_, err := call(ctx, s, func() struct{} {
		fn()
		return struct{}{}
	})
	return err
}
