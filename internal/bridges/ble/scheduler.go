package ble

import (
	"context"
	"sync"
	"time"
)

type intervalJob struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// Scheduler runs periodic jobs until its context is cancelled, then runs
// shutdown hooks.
//
// Each job has its own goroutine and is called synchronously from it, so a
// slow call delays that job's next tick instead of overlapping with it.
type Scheduler struct {
	mu       sync.Mutex
	jobs     []intervalJob
	shutdown []func()
	started  bool

	logger Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{logger: noopLogger{}}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// OnInterval registers fn to run every d. Jobs with a non-positive interval
// are ignored. Registration after Run has started is ignored.
func (s *Scheduler) OnInterval(name string, d time.Duration, fn func(ctx context.Context)) {
	if d <= 0 || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.jobs = append(s.jobs, intervalJob{name: name, interval: d, fn: fn})
}

// OnShutdown registers fn to run after all jobs have returned.
// Hooks run in reverse registration order.
func (s *Scheduler) OnShutdown(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.shutdown = append(s.shutdown, fn)
	s.mu.Unlock()
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	jobs := append([]intervalJob(nil), s.jobs...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job intervalJob) {
			defer wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
	<-ctx.Done()
	wg.Wait()

	s.mu.Lock()
	hooks := append([]func(){}, s.shutdown...)
	s.mu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	s.logger.Info("scheduler stopped", "jobs", len(jobs))
}

func (s *Scheduler) runJob(ctx context.Context, job intervalJob) {
	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	s.logger.Debug("scheduled job started", "job", job.name, "interval", job.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.call(ctx, job)
		}
	}
}

// call runs one job invocation, keeping a panic from taking down the process.
func (s *Scheduler) call(ctx context.Context, job intervalJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "job", job.name, "panic", r)
		}
	}()
	job.fn(ctx)
}
