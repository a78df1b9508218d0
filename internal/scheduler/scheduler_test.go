package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClock is a controllable clock safe for concurrent use; handler
// goroutines read it while the test advances it.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func newTestScheduler(freshness time.Duration) (*Scheduler, *mockClock) {
	clock := &mockClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := New(Options{
		Tick:            time.Second,
		FreshnessWindow: freshness,
		Clock:           clock,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, clock
}

// countingHandler returns a handler and a thread-safe call counter.
func countingHandler(err error) (Handler, func() int) {
	var mu sync.Mutex
	calls := 0
	h := func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return err
	}
	return h, func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
}

// blockingHandler returns a handler that blocks until release is closed.
func blockingHandler() (Handler, chan struct{}, func() int) {
	var mu sync.Mutex
	calls := 0
	release := make(chan struct{})
	h := func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return nil
	}
	return h, release, func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
}

func waitNotRunning(t *testing.T, s *Scheduler, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := s.JobByID(id)
		return err == nil && !info.Running
	}, 2*time.Second, 5*time.Millisecond)
}

func waitExecutions(t *testing.T, s *Scheduler, id string, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := s.JobByID(id)
		return err == nil && info.Executions >= n && !info.Running
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegister_Validation(t *testing.T) {
	s, _ := newTestScheduler(0)
	h, _ := countingHandler(nil)

	assert.Error(t, s.Register(&Job{Schedule: "@every 1m", Handler: h}), "empty id")
	assert.Error(t, s.Register(&Job{ID: "x", Schedule: "@every 1m"}), "nil handler")
	assert.Error(t, s.Register(&Job{ID: "x", Schedule: "whenever", Handler: h}), "bad schedule")

	require.NoError(t, s.Register(&Job{ID: "x", Schedule: "@every 1m", Handler: h}))
	assert.Error(t, s.Register(&Job{ID: "x", Schedule: "@every 1m", Handler: h}), "duplicate id")
}

func TestTick_RunsDueJob(t *testing.T) {
	s, clock := newTestScheduler(0)
	h, calls := countingHandler(nil)
	require.NoError(t, s.Register(&Job{
		ID: "probe", Schedule: "@every 1m", Priority: PriorityHigh, Enabled: true, Handler: h,
	}))

	s.Tick(context.Background())
	assert.Equal(t, 0, calls(), "not due yet")

	clock.Advance(61 * time.Second)
	s.Tick(context.Background())
	waitExecutions(t, s, "probe", 1)

	assert.Equal(t, 1, calls())
	info, err := s.JobByID("probe")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Successes)
	assert.Equal(t, clock.Now(), info.LastSuccess)
	assert.True(t, info.NextRun.After(clock.Now()), "next natural run scheduled")
}

func TestTick_DisabledJobDoesNotRun(t *testing.T) {
	s, clock := newTestScheduler(0)
	h, calls := countingHandler(nil)
	require.NoError(t, s.Register(&Job{
		ID: "off", Schedule: "@every 1m", Enabled: false, Handler: h,
	}))

	clock.Advance(time.Hour)
	s.Tick(context.Background())

	assert.Equal(t, 0, calls())
}

func TestTrigger_BypassesScheduleAndEnabled(t *testing.T) {
	s, _ := newTestScheduler(0)
	h, calls := countingHandler(nil)
	require.NoError(t, s.Register(&Job{
		ID: "off", Schedule: "@every 1h", Enabled: false, Handler: h,
	}))

	require.NoError(t, s.Trigger("off"))
	s.Tick(context.Background())
	waitExecutions(t, s, "off", 1)

	assert.Equal(t, 1, calls())
}

func TestTrigger_UnknownJob(t *testing.T) {
	s, _ := newTestScheduler(0)

	assert.ErrorIs(t, s.Trigger("ghost"), ErrUnknownJob)
	assert.ErrorIs(t, s.Enable("ghost"), ErrUnknownJob)
	assert.ErrorIs(t, s.Disable("ghost"), ErrUnknownJob)
	_, err := s.JobByID("ghost")
	assert.ErrorIs(t, err, ErrUnknownJob)
	_, err = s.History("ghost")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestTick_NoOverlappingExecutions(t *testing.T) {
	s, _ := newTestScheduler(0)
	h, release, calls := blockingHandler()
	require.NoError(t, s.Register(&Job{
		ID: "slow", Schedule: "@every 1h", Priority: PriorityMedium, Handler: h,
	}))

	require.NoError(t, s.Trigger("slow"))
	s.Tick(context.Background())
	require.Eventually(t, func() bool { return calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Trigger("slow"))
	s.Tick(context.Background())
	s.Tick(context.Background())

	assert.Equal(t, 1, calls(), "running job must not start a second execution")

	close(release)
	waitNotRunning(t, s, "slow")
}

func TestTick_QueueCeilingBoundsConcurrency(t *testing.T) {
	s, _ := newTestScheduler(0)

	// The low queue admits a single concurrent execution.
	h1, release1, calls1 := blockingHandler()
	h2, _, calls2 := blockingHandler()
	require.NoError(t, s.Register(&Job{
		ID: "low-1", Schedule: "@every 1h", Priority: PriorityLow, Handler: h1,
	}))
	require.NoError(t, s.Register(&Job{
		ID: "low-2", Schedule: "@every 1h", Priority: PriorityLow, Handler: h2,
	}))

	require.NoError(t, s.Trigger("low-1"))
	require.NoError(t, s.Trigger("low-2"))
	s.Tick(context.Background())
	require.Eventually(t, func() bool { return calls1() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, calls2(), "second low job waits for the queue slot")

	// Releasing the slot lets the still-triggered job start on a later tick.
	close(release1)
	waitNotRunning(t, s, "low-1")
	s.Tick(context.Background())
	require.Eventually(t, func() bool { return calls2() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTick_DependencyFreshnessGate(t *testing.T) {
	s, clock := newTestScheduler(time.Hour)
	depH, _ := countingHandler(nil)
	jobH, jobCalls := countingHandler(nil)
	require.NoError(t, s.Register(&Job{
		ID: "dep", Schedule: "@every 1m", Priority: PriorityLow, Handler: depH,
	}))
	require.NoError(t, s.Register(&Job{
		ID: "consolidate", Schedule: "@every 1m", Priority: PriorityMedium,
		DependsOn: []string{"dep"}, Handler: jobH,
	}))

	// Dependency has never succeeded: the job is skipped and rescheduled.
	require.NoError(t, s.Trigger("consolidate"))
	s.Tick(context.Background())
	assert.Equal(t, 0, jobCalls())
	info, err := s.JobByID("consolidate")
	require.NoError(t, err)
	assert.True(t, info.NextRun.After(clock.Now()), "skipped job waits for its next natural run")

	// A fresh dependency success opens the gate.
	require.NoError(t, s.Trigger("dep"))
	s.Tick(context.Background())
	waitExecutions(t, s, "dep", 1)

	require.NoError(t, s.Trigger("consolidate"))
	s.Tick(context.Background())
	waitExecutions(t, s, "consolidate", 1)
	assert.Equal(t, 1, jobCalls())
}

func TestTick_StaleDependencyBlocksJob(t *testing.T) {
	s, clock := newTestScheduler(time.Hour)
	depH, _ := countingHandler(nil)
	jobH, jobCalls := countingHandler(nil)
	require.NoError(t, s.Register(&Job{
		ID: "dep", Schedule: "@every 100h", Priority: PriorityLow, Handler: depH,
	}))
	require.NoError(t, s.Register(&Job{
		ID: "job", Schedule: "@every 1m", Priority: PriorityMedium,
		DependsOn: []string{"dep"}, Handler: jobH,
	}))

	require.NoError(t, s.Trigger("dep"))
	s.Tick(context.Background())
	waitExecutions(t, s, "dep", 1)

	// The dependency's success ages past the freshness window.
	clock.Advance(2 * time.Hour)
	require.NoError(t, s.Trigger("job"))
	s.Tick(context.Background())

	assert.Equal(t, 0, jobCalls())
}

func TestTick_ReapsTimedOutExecution(t *testing.T) {
	s, clock := newTestScheduler(0)
	h, release, calls := blockingHandler()
	require.NoError(t, s.Register(&Job{
		ID: "hang", Schedule: "@every 1h", Priority: PriorityMedium,
		Timeout: time.Minute, Handler: h,
	}))
	defer close(release)

	require.NoError(t, s.Trigger("hang"))
	s.Tick(context.Background())
	require.Eventually(t, func() bool { return calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	clock.Advance(2 * time.Minute)
	s.Tick(context.Background())

	info, err := s.JobByID("hang")
	require.NoError(t, err)
	assert.False(t, info.Running, "reaped execution frees the job")
	assert.Equal(t, int64(1), info.Failures)

	hist, err := s.History("hang")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusTimeout, hist[0].Status)
	assert.Contains(t, hist[0].Error, "deadline exceeded")
}

func TestTick_RetryBackoffThenNaturalSchedule(t *testing.T) {
	s, clock := newTestScheduler(0)
	h, calls := countingHandler(errors.New("boom"))
	require.NoError(t, s.Register(&Job{
		ID: "flaky", Schedule: "@every 1h", Priority: PriorityMedium, Enabled: true,
		Retry:   RetryPolicy{MaxRetries: 2, Delay: 30 * time.Second},
		Handler: h,
	}))

	runOnce := func(wantCalls int) JobInfo {
		t.Helper()
		s.Tick(context.Background())
		require.Eventually(t, func() bool {
			info, err := s.JobByID("flaky")
			return err == nil && !info.Running && calls() == wantCalls
		}, 2*time.Second, 5*time.Millisecond)
		info, err := s.JobByID("flaky")
		require.NoError(t, err)
		return info
	}

	clock.Advance(61 * time.Minute)

	// First failure: retry after the base delay.
	info := runOnce(1)
	assert.Equal(t, clock.Now().Add(30*time.Second), info.NextRun)

	// Second failure: delay doubles.
	clock.Advance(31 * time.Second)
	info = runOnce(2)
	assert.Equal(t, clock.Now().Add(60*time.Second), info.NextRun)

	// Third failure exhausts the budget; back to the natural schedule.
	clock.Advance(61 * time.Second)
	info = runOnce(3)
	assert.Equal(t, int64(3), info.Failures)
	assert.Equal(t, clock.Now().Add(time.Hour), info.NextRun)

	hist, err := s.History("flaky")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, 0, hist[0].RetryCount)
	assert.Equal(t, 1, hist[1].RetryCount)
	assert.Equal(t, 2, hist[2].RetryCount)
	for _, e := range hist {
		assert.Equal(t, StatusFailed, e.Status)
		assert.Equal(t, "boom", e.Error)
	}
}

func TestEnableReschedulesNextRun(t *testing.T) {
	s, clock := newTestScheduler(0)
	h, calls := countingHandler(nil)
	require.NoError(t, s.Register(&Job{
		ID: "toggled", Schedule: "@every 1m", Enabled: false, Handler: h,
	}))

	clock.Advance(10 * time.Minute)
	require.NoError(t, s.Enable("toggled"))

	info, err := s.JobByID("toggled")
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.True(t, info.NextRun.After(clock.Now()))

	s.Tick(context.Background())
	assert.Equal(t, 0, calls(), "enable schedules the next run, it does not fire immediately")

	clock.Advance(61 * time.Second)
	s.Tick(context.Background())
	waitExecutions(t, s, "toggled", 1)
}

func TestJobs_ReturnsRegistrationOrder(t *testing.T) {
	s, _ := newTestScheduler(0)
	h, _ := countingHandler(nil)
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Register(&Job{ID: id, Schedule: "@every 1m", Handler: h}))
	}

	infos := s.Jobs()
	require.Len(t, infos, 3)
	assert.Equal(t, "c", infos[0].ID)
	assert.Equal(t, "a", infos[1].ID)
	assert.Equal(t, "b", infos[2].ID)
}
