// Package scheduler runs the agent's periodic maintenance jobs: the health
// sampling cadence and the position-memory snapshot. The broker's liveness
// sweep does not use it; it runs on the hub's own ticker. Jobs are
// registered programmatically; there is no durable job store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"deskctl/pkg/logger"
)

// Sentinel errors for scheduler operations.
var (
	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrJobExists indicates a job with the same name already exists.
	ErrJobExists = errors.New("scheduler: job already exists")
)

// Func is one maintenance task body. A returned error is recorded in the
// job's history and retried per its policy; it never stops the schedule.
type Func func(ctx context.Context) error

// Job pairs a registered maintenance task with its schedule and policy.
type Job struct {
	Name     string
	Interval time.Duration
	Retry    RetryPolicy

	fn      Func
	entryID cron.EntryID
}

// Scheduler wraps robfig/cron with named jobs, retry, and an in-memory
// run history.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*Job
	history *History
	running bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty scheduler. historyPerJob bounds how many runs are
// remembered per job.
func New(historyPerJob int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		jobs:    make(map[string]*Job),
		history: NewHistory(historyPerJob),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddEvery registers a job that runs every interval. Must be called with
// a unique name; the cron schedule truncates the interval to whole seconds
// and raises anything below one second to one second.
func (s *Scheduler) AddEvery(name string, interval time.Duration, fn Func) error {
	return s.AddJob(&Job{Name: name, Interval: interval}, fn)
}

// AddJob registers a fully specified job.
func (s *Scheduler) AddJob(job *Job, fn Func) error {
	if job.Name == "" {
		return fmt.Errorf("scheduler: job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("scheduler: job %s has no interval", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}

	job.fn = fn
	spec := fmt.Sprintf("@every %s", job.Interval)
	id, err := s.cron.AddFunc(spec, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", job.Name, err)
	}
	job.entryID = id
	s.jobs[job.Name] = job

	logger.Debug().Str("job", job.Name).Dur("interval", job.Interval).Msg("maintenance job registered")
	return nil
}

// RemoveJob deregisters a job. In-flight runs finish.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.cron.Remove(job.entryID)
	delete(s.jobs, name)
	return nil
}

// Start begins scheduling. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	logger.Info().Int("jobs", len(s.jobs)).Msg("maintenance scheduler started")
}

// Stop halts scheduling and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logger.Info().Msg("maintenance scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule. The run is
// recorded in history like a scheduled one.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.execute(job)
	entry := s.history.Latest(name)
	if entry != nil && entry.Err != "" {
		return fmt.Errorf("scheduler: job %s: %s", name, entry.Err)
	}
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// History exposes the run history for introspection handlers.
func (s *Scheduler) History() *History { return s.history }

// execute runs one job with retry, recording the outcome.
func (s *Scheduler) execute(job *Job) {
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	var err error
	attempt := 0
	for {
		err = s.runOnce(job)
		if err == nil || !job.Retry.ShouldRetry(attempt, err) {
			break
		}
		delay := job.Retry.NextDelay(attempt)
		attempt++
		logger.Warn().
			Str("job", job.Name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("maintenance job failed, retrying")
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	entry := RunEntry{
		Job:      job.Name,
		Started:  start,
		Duration: time.Since(start),
		Attempts: attempt + 1,
	}
	if err != nil {
		entry.Err = err.Error()
		logger.Error().Str("job", job.Name).Err(err).Msg("maintenance job failed")
	}
	s.history.Record(entry)
}

// runOnce invokes the job body, converting a panic into an error so one
// bad tick cannot kill the scheduler goroutine.
func (s *Scheduler) runOnce(job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("scheduler: job %s panicked: %v", job.Name, rec)
		}
	}()
	return job.fn(s.ctx)
}
