// Package scheduler runs the periodic maintenance jobs of the routing
// service: cache cleanup, metrics hygiene, health probing, load rebalancing,
// and data consolidation.
//
// Jobs are statically defined with a cron schedule, a priority class with a
// fixed concurrency ceiling, an optional dependency list gated by a freshness
// window, a timeout, and a bounded retry policy with exponential backoff.
// A single tick loop driven by an injectable clock starts ready jobs and
// reaps executions that exceeded their timeout, so time-dependent behavior
// is deterministically testable.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Priority classifies jobs into queues, each with its own fixed concurrency
// ceiling. Lower values are serviced first on every tick.
type Priority int

const (
	// PriorityCritical jobs keep the routing core safe to operate.
	PriorityCritical Priority = iota
	// PriorityHigh jobs feed routing decisions, such as health probes.
	PriorityHigh
	// PriorityMedium jobs do routine maintenance.
	PriorityMedium
	// PriorityLow jobs are housekeeping that can wait.
	PriorityLow
)

// priorities in service order.
var priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// queueCeilings are the fixed per-queue concurrency ceilings.
var queueCeilings = map[Priority]int64{
	PriorityCritical: 2,
	PriorityHigh:     3,
	PriorityMedium:   2,
	PriorityLow:      1,
}

// String returns the lowercase queue name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// RetryPolicy bounds how a failed job is retried before waiting for its next
// natural schedule. The delay before retry n is Delay × 2^(n−1).
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// Handler is the work a job performs. It must honor ctx cancellation.
type Handler func(ctx context.Context) error

// Job is a statically defined background job plus its scheduler-owned
// runtime state. Definition fields are set before Register and not mutated
// afterwards; runtime fields are guarded by the Scheduler's lock.
type Job struct {
	ID        string
	Schedule  string
	Priority  Priority
	DependsOn []string
	Timeout   time.Duration
	Retry     RetryPolicy
	Enabled   bool
	Handler   Handler

	schedule    cron.Schedule
	nextRun     time.Time
	running     bool
	triggered   bool
	attempt     int
	executions  int64
	successes   int64
	failures    int64
	avgDuration time.Duration
	lastSuccess time.Time
}

// ExecutionStatus is the lifecycle state of one job execution.
type ExecutionStatus string

const (
	// StatusRunning means the handler has started and not yet finished.
	StatusRunning ExecutionStatus = "running"
	// StatusCompleted means the handler returned nil.
	StatusCompleted ExecutionStatus = "completed"
	// StatusFailed means the handler returned an error.
	StatusFailed ExecutionStatus = "failed"
	// StatusTimeout means the scheduler stopped waiting on the handler.
	StatusTimeout ExecutionStatus = "timeout"
)

// Execution is the bookkeeping record of one job run.
type Execution struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end,omitempty"`
	Status     ExecutionStatus `json:"status"`
	RetryCount int             `json:"retry_count"`
	Error      string          `json:"error,omitempty"`
}

// JobInfo is the administrative snapshot of a job.
type JobInfo struct {
	ID          string        `json:"id"`
	Schedule    string        `json:"schedule"`
	Priority    string        `json:"priority"`
	DependsOn   []string      `json:"depends_on,omitempty"`
	Enabled     bool          `json:"enabled"`
	Running     bool          `json:"running"`
	NextRun     time.Time     `json:"next_run"`
	Executions  int64         `json:"executions"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	AvgDuration time.Duration `json:"avg_duration"`
	LastSuccess time.Time     `json:"last_success,omitempty"`
}
