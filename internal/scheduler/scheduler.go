package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"modelmux/internal/observability/metrics"
	"modelmux/internal/resilience/retry"
)

// historyLimit bounds the per-job execution history ring.
const historyLimit = 50

// avgSmoothing is the EWMA weight applied to the newest execution duration.
const avgSmoothing = 0.2

// ErrUnknownJob is returned by administrative operations for an unknown id.
var ErrUnknownJob = errors.New("unknown job")

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time { return time.Now() }

// Options configures a Scheduler.
type Options struct {
	// Tick is the scheduling tick interval; the default is 2s.
	Tick time.Duration

	// FreshnessWindow is how recently a dependency must have succeeded
	// for a dependent job to run; the default is 24h.
	FreshnessWindow time.Duration

	// Clock is injectable for tests; nil uses the system clock.
	Clock Clock

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

type runningExec struct {
	job       *Job
	exec      *Execution
	cancel    context.CancelFunc
	finalized bool
}

// Scheduler owns the registered jobs and drives them from a single tick
// loop. All exported methods are safe for concurrent use.
type Scheduler struct {
	mu        sync.Mutex
	clock     Clock
	logger    *slog.Logger
	tick      time.Duration
	freshness time.Duration

	jobs    map[string]*Job
	order   []string
	sems    map[Priority]*semaphore.Weighted
	running map[string]*runningExec
	history map[string][]Execution
	active  map[Priority]int
}

// New creates a Scheduler with no jobs registered.
func New(opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = 2 * time.Second
	}
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sems := make(map[Priority]*semaphore.Weighted, len(priorities))
	for _, p := range priorities {
		sems[p] = semaphore.NewWeighted(queueCeilings[p])
	}

	return &Scheduler{
		clock:     opts.Clock,
		logger:    opts.Logger,
		tick:      opts.Tick,
		freshness: opts.FreshnessWindow,
		jobs:      make(map[string]*Job),
		sems:      sems,
		running:   make(map[string]*runningExec),
		history:   make(map[string][]Execution),
		active:    make(map[Priority]int),
	}
}

// Register adds a job definition. The schedule must be a standard five-field
// cron expression or an @every interval descriptor.
func (s *Scheduler) Register(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("scheduler: job with empty id")
	}
	if job.Handler == nil {
		return fmt.Errorf("scheduler: job %q has no handler", job.ID)
	}
	sched, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %q has invalid schedule %q: %w", job.ID, job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("scheduler: job %q already registered", job.ID)
	}
	job.schedule = sched
	job.nextRun = sched.Next(s.clock.Now())
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return nil
}

// Run drives the tick loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		slog.Duration("tick", s.tick),
		slog.Int("jobs", len(s.order)))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduling pass: it reaps executions that exceeded their
// timeout, then starts ready jobs per priority queue while ceiling slots are
// free. Exported so tests can drive time deterministically.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.reapTimeoutsLocked(now)

	for _, prio := range priorities {
		for _, id := range s.order {
			job := s.jobs[id]
			if job.Priority != prio || job.running {
				continue
			}
			if !job.triggered {
				if !job.Enabled || job.nextRun.IsZero() || job.nextRun.After(now) {
					continue
				}
			}
			if !s.dependenciesFreshLocked(job, now) {
				job.triggered = false
				job.nextRun = job.schedule.Next(now)
				metrics.JobsSkippedTotal.WithLabelValues(job.ID).Inc()
				s.logger.Warn("job skipped, dependency not fresh",
					slog.String("job", job.ID),
					slog.Time("rescheduled", job.nextRun))
				continue
			}
			if !s.sems[prio].TryAcquire(1) {
				// Queue ceiling reached; lower-priority jobs in the
				// same queue wait for the next tick.
				break
			}
			s.startLocked(ctx, job, now)
		}
	}
}

// startLocked creates the execution record and launches the handler.
// Caller must hold s.mu and have acquired a queue slot.
func (s *Scheduler) startLocked(ctx context.Context, job *Job, now time.Time) {
	exec := &Execution{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		Start:      now,
		Status:     StatusRunning,
		RetryCount: job.attempt,
	}

	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, job.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}

	job.running = true
	job.triggered = false
	s.running[exec.ID] = &runningExec{job: job, exec: exec, cancel: cancel}
	s.active[job.Priority]++
	metrics.JobsRunning.WithLabelValues(job.Priority.String()).Set(float64(s.active[job.Priority]))

	s.logger.Info("job started",
		slog.String("job", job.ID),
		slog.String("execution", exec.ID),
		slog.Int("retry", exec.RetryCount))

	go func() {
		defer cancel()
		err := job.Handler(runCtx)
		s.finish(exec.ID, err)
	}()
}

// finish finalizes an execution when its handler returns, unless the timeout
// reaper already finalized it.
func (s *Scheduler) finish(execID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	re, ok := s.running[execID]
	if !ok || re.finalized {
		return
	}
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
	}
	s.finalizeLocked(re, status, err)
}

// reapTimeoutsLocked marks executions past their job's timeout. The handler
// goroutine may keep running unobserved; the scheduler just stops waiting.
// Caller must hold s.mu.
func (s *Scheduler) reapTimeoutsLocked(now time.Time) {
	for _, re := range s.running {
		if re.finalized || re.job.Timeout <= 0 {
			continue
		}
		if now.Sub(re.exec.Start) > re.job.Timeout {
			re.cancel()
			s.finalizeLocked(re, StatusTimeout, context.DeadlineExceeded)
		}
	}
}

// finalizeLocked updates job statistics, schedules the next run or retry,
// releases the queue slot, and archives the execution. Caller must hold s.mu.
func (s *Scheduler) finalizeLocked(re *runningExec, status ExecutionStatus, err error) {
	re.finalized = true
	job := re.job
	exec := re.exec

	now := s.clock.Now()
	exec.End = now
	exec.Status = status
	if err != nil {
		exec.Error = err.Error()
	}

	duration := now.Sub(exec.Start)
	job.executions++
	if job.avgDuration == 0 {
		job.avgDuration = duration
	} else {
		job.avgDuration = time.Duration(
			(1-avgSmoothing)*float64(job.avgDuration) + avgSmoothing*float64(duration))
	}

	if status == StatusCompleted {
		job.successes++
		job.lastSuccess = now
		job.attempt = 0
		job.nextRun = job.schedule.Next(now)
	} else {
		job.failures++
		if job.attempt < job.Retry.MaxRetries {
			job.attempt++
			delay := retry.DelayFor(job.Retry.Delay, job.attempt, 0)
			job.nextRun = now.Add(delay)
			s.logger.Warn("job failed, retry scheduled",
				slog.String("job", job.ID),
				slog.Int("attempt", job.attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err))
		} else {
			// Retry budget exhausted; wait for the natural schedule.
			job.attempt = 0
			job.nextRun = job.schedule.Next(now)
			s.logger.Error("job retry budget exhausted",
				slog.String("job", job.ID),
				slog.Time("next_run", job.nextRun),
				slog.Any("error", err))
		}
	}

	job.running = false
	delete(s.running, exec.ID)
	s.sems[job.Priority].Release(1)
	s.active[job.Priority]--
	metrics.JobsRunning.WithLabelValues(job.Priority.String()).Set(float64(s.active[job.Priority]))
	metrics.JobRunsTotal.WithLabelValues(job.ID, string(status)).Inc()
	metrics.JobDuration.WithLabelValues(job.ID).Observe(duration.Seconds())

	hist := append(s.history[job.ID], *exec)
	if len(hist) > historyLimit {
		hist = hist[len(hist)-historyLimit:]
	}
	s.history[job.ID] = hist

	s.logger.Info("job finished",
		slog.String("job", job.ID),
		slog.String("execution", exec.ID),
		slog.String("status", string(status)),
		slog.Duration("duration", duration))
}

// dependenciesFreshLocked reports whether every dependency of job last
// succeeded within the freshness window. Caller must hold s.mu.
func (s *Scheduler) dependenciesFreshLocked(job *Job, now time.Time) bool {
	for _, depID := range job.DependsOn {
		dep, ok := s.jobs[depID]
		if !ok {
			return false
		}
		if dep.lastSuccess.IsZero() || now.Sub(dep.lastSuccess) > s.freshness {
			return false
		}
	}
	return true
}

// Jobs returns administrative snapshots of all registered jobs in
// registration order.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.infoLocked(s.jobs[id]))
	}
	return out
}

// JobByID returns the administrative snapshot of one job.
func (s *Scheduler) JobByID(id string) (JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return JobInfo{}, fmt.Errorf("%w: %q", ErrUnknownJob, id)
	}
	return s.infoLocked(job), nil
}

// Enable turns a job on and schedules its next natural run.
func (s *Scheduler) Enable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, id)
	}
	job.Enabled = true
	job.nextRun = job.schedule.Next(s.clock.Now())
	return nil
}

// Disable turns a job off. A currently running execution is not preempted.
func (s *Scheduler) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, id)
	}
	job.Enabled = false
	return nil
}

// Trigger marks a job for immediate execution on the next tick, bypassing
// its schedule and enabled flag but not the overlap guard, dependency gate,
// or queue ceiling.
func (s *Scheduler) Trigger(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, id)
	}
	job.triggered = true
	return nil
}

// History returns the bounded execution history for a job, oldest first.
func (s *Scheduler) History(id string) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, id)
	}
	return append([]Execution(nil), s.history[id]...), nil
}

// infoLocked builds a JobInfo snapshot. Caller must hold s.mu.
func (s *Scheduler) infoLocked(job *Job) JobInfo {
	return JobInfo{
		ID:          job.ID,
		Schedule:    job.Schedule,
		Priority:    job.Priority.String(),
		DependsOn:   append([]string(nil), job.DependsOn...),
		Enabled:     job.Enabled,
		Running:     job.running,
		NextRun:     job.nextRun,
		Executions:  job.executions,
		Successes:   job.successes,
		Failures:    job.failures,
		AvgDuration: job.avgDuration,
		LastSuccess: job.lastSuccess,
	}
}
