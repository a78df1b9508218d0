package ratebudget

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

func (m *mockClock) Advance(d time.Duration) { m.now = m.now.Add(d) }

func newTestTracker(limits Limits) (*Tracker, *mockClock) {
	clock := &mockClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewTrackerWithClock(map[string]Limits{"claude": limits}, clock), clock
}

func TestTracker_BlockedAtMinuteLimit(t *testing.T) {
	tr, _ := newTestTracker(Limits{PerMinute: 3})

	for i := 0; i < 2; i++ {
		require.True(t, tr.WouldAdmit("claude"))
		tr.Record("claude")
	}
	require.True(t, tr.WouldAdmit("claude"), "count below limit must admit")

	tr.Record("claude")

	assert.False(t, tr.WouldAdmit("claude"), "count at limit must block")
	assert.Equal(t, StatusBlocked, tr.Status("claude"))
}

func TestTracker_ApproachingAtEightyPercent(t *testing.T) {
	tr, _ := newTestTracker(Limits{PerMinute: 10})

	for i := 0; i < 7; i++ {
		tr.Record("claude")
	}
	assert.Equal(t, StatusOK, tr.Status("claude"))

	tr.Record("claude") // 8 of 10

	assert.Equal(t, StatusApproaching, tr.Status("claude"))
	assert.True(t, tr.WouldAdmit("claude"), "approaching still admits")
}

func TestTracker_WouldAdmitIsPure(t *testing.T) {
	tr, _ := newTestTracker(Limits{PerMinute: 2})

	for i := 0; i < 100; i++ {
		require.True(t, tr.WouldAdmit("claude"))
	}
	assert.Equal(t, 0, tr.UsageFor("claude").Minute.Count)
}

func TestTracker_WindowSlides(t *testing.T) {
	tr, clock := newTestTracker(Limits{PerMinute: 2})

	tr.Record("claude")
	tr.Record("claude")
	require.False(t, tr.WouldAdmit("claude"))

	clock.Advance(61 * time.Second)

	assert.True(t, tr.WouldAdmit("claude"), "stamps outside the minute window no longer count")
	assert.Equal(t, 0, tr.UsageFor("claude").Minute.Count)
}

func TestTracker_HourLimitOutlivesMinuteWindow(t *testing.T) {
	tr, clock := newTestTracker(Limits{PerMinute: 10, PerHour: 3})

	for i := 0; i < 3; i++ {
		tr.Record("claude")
	}
	clock.Advance(5 * time.Minute)

	u := tr.UsageFor("claude")
	assert.Equal(t, 0, u.Minute.Count)
	assert.Equal(t, 3, u.Hour.Count)
	assert.Equal(t, StatusBlocked, u.Worst)
	assert.False(t, tr.WouldAdmit("claude"))
}

func TestTracker_ZeroLimitMeansUnlimited(t *testing.T) {
	tr, _ := newTestTracker(Limits{})

	for i := 0; i < 500; i++ {
		tr.Record("claude")
	}

	assert.True(t, tr.WouldAdmit("claude"))
	assert.Equal(t, StatusOK, tr.Status("claude"))
}

func TestTracker_UnknownProviderAdmits(t *testing.T) {
	tr, _ := newTestTracker(Limits{PerMinute: 1})

	assert.True(t, tr.WouldAdmit("no-such-provider"))
}

func TestTracker_Reset(t *testing.T) {
	tr, _ := newTestTracker(Limits{PerMinute: 1})

	tr.Record("claude")
	require.False(t, tr.WouldAdmit("claude"))

	tr.Reset("claude")

	assert.True(t, tr.WouldAdmit("claude"))
	assert.Equal(t, 0, tr.UsageFor("claude").Minute.Count)
}

func TestTracker_ResetAtReportsOldestStampPlusWindow(t *testing.T) {
	tr, clock := newTestTracker(Limits{PerMinute: 5})

	first := clock.now
	tr.Record("claude")
	clock.Advance(10 * time.Second)
	tr.Record("claude")

	u := tr.UsageFor("claude")
	assert.Equal(t, first.Add(time.Minute), u.Minute.ResetAt)
}

func TestTracker_CompactDropsQuietProviders(t *testing.T) {
	tr, clock := newTestTracker(Limits{PerMinute: 5})

	tr.Record("claude")
	clock.Advance(25 * time.Hour)
	tr.Compact()

	u := tr.UsageFor("claude")
	assert.Equal(t, 0, u.Day.Count)
}

func TestTracker_UsageForFullSnapshot(t *testing.T) {
	tr, clock := newTestTracker(Limits{PerMinute: 4, PerHour: 100})

	tr.Record("claude")
	tr.Record("claude")

	want := Usage{
		Provider: "claude",
		Minute: WindowUsage{
			Window: "minute", Count: 2, Limit: 4,
			Status: StatusOK, ResetAt: clock.now.Add(time.Minute),
		},
		Hour: WindowUsage{
			Window: "hour", Count: 2, Limit: 100,
			Status: StatusOK, ResetAt: clock.now.Add(time.Hour),
		},
		Day: WindowUsage{
			Window: "day", Count: 2,
			Status: StatusOK, ResetAt: clock.now.Add(DayWindow),
		},
		Worst: StatusOK,
	}

	if diff := cmp.Diff(want, tr.UsageFor("claude")); diff != "" {
		t.Errorf("UsageFor() mismatch (-want +got):\n%s", diff)
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "approaching", StatusApproaching.String())
	assert.Equal(t, "blocked", StatusBlocked.String())
}
