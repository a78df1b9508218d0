// Package ratebudget tracks per-provider request volume over sliding
// minute, hour, and day windows and reports whether a provider's configured
// rate budget admits another request.
//
// The tracker stores individual request timestamps and prunes them as the
// windows slide, which gives accurate counts without fixed-window burst
// artifacts. Recording happens only on actual call attempts; admission checks
// are pure reads so speculative checks are never double counted.
package ratebudget

import (
	"sync"
	"time"

	"modelmux/internal/observability/metrics"
)

// Window durations for the three tracked budgets.
const (
	MinuteWindow = time.Minute
	HourWindow   = time.Hour
	DayWindow    = 24 * time.Hour
)

// approachingFraction is the utilization at which a window reports Approaching.
const approachingFraction = 0.8

// Status reports how much of a rate budget has been consumed.
type Status int

const (
	// StatusOK means the window is comfortably under its limit.
	StatusOK Status = iota
	// StatusApproaching means the window is at or above 80% of its limit.
	StatusApproaching
	// StatusBlocked means the window has reached its limit.
	StatusBlocked
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusApproaching:
		return "approaching"
	case StatusBlocked:
		return "blocked"
	default:
		return "ok"
	}
}

// Limits holds the per-window request ceilings for one provider.
// A limit of zero or below disables enforcement for that window.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// WindowUsage describes the state of a single window for a provider.
type WindowUsage struct {
	Window  string
	Count   int
	Limit   int
	Status  Status
	ResetAt time.Time
}

// Usage is the per-window usage of one provider, worst status first.
type Usage struct {
	Provider string
	Minute   WindowUsage
	Hour     WindowUsage
	Day      WindowUsage
	Worst    Status
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time { return time.Now() }

// Tracker records request timestamps per provider and answers admission
// checks against the configured limits. All methods are safe for concurrent
// use.
type Tracker struct {
	mu     sync.Mutex
	clock  Clock
	limits map[string]Limits
	stamps map[string][]time.Time
}

// NewTracker creates a Tracker for the given per-provider limits using the
// system clock.
func NewTracker(limits map[string]Limits) *Tracker {
	return NewTrackerWithClock(limits, SystemClock{})
}

// NewTrackerWithClock creates a Tracker with an injectable clock for tests.
func NewTrackerWithClock(limits map[string]Limits, clock Clock) *Tracker {
	if clock == nil {
		clock = SystemClock{}
	}
	l := make(map[string]Limits, len(limits))
	for provider, lim := range limits {
		l[provider] = lim
	}
	return &Tracker{
		clock:  clock,
		limits: l,
		stamps: make(map[string][]time.Time),
	}
}

// Record notes one attempted call against the provider's budget and prunes
// timestamps that have slid out of the largest window.
func (t *Tracker) Record(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	pruned := prune(t.stamps[provider], now.Add(-DayWindow))
	t.stamps[provider] = append(pruned, now)

	u := t.usageLocked(provider, now)
	metrics.RateBudgetStatus.WithLabelValues(provider).Set(float64(u.Worst))
}

// WouldAdmit reports whether the provider's budget admits another request.
// It is a pure check and records nothing.
func (t *Tracker) WouldAdmit(provider string) bool {
	return t.UsageFor(provider).Worst != StatusBlocked
}

// Status returns the worst-case status across the provider's windows.
func (t *Tracker) Status(provider string) Status {
	return t.UsageFor(provider).Worst
}

// UsageFor returns the detailed per-window usage for the provider.
func (t *Tracker) UsageFor(provider string) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.usageLocked(provider, t.clock.Now())
}

// Reset clears all recorded usage for the provider. Administrative use only.
func (t *Tracker) Reset(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.stamps, provider)
	metrics.RateBudgetStatus.WithLabelValues(provider).Set(float64(StatusOK))
}

// Compact prunes timestamps outside the day window for all providers.
// It is invoked by the periodic metrics-reset job to keep memory bounded
// for providers that have gone quiet.
func (t *Tracker) Compact() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().Add(-DayWindow)
	for provider, stamps := range t.stamps {
		pruned := prune(stamps, cutoff)
		if len(pruned) == 0 {
			delete(t.stamps, provider)
			continue
		}
		t.stamps[provider] = pruned
	}
}

// Providers returns the ids of all providers with configured limits.
func (t *Tracker) Providers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.limits))
	for provider := range t.limits {
		out = append(out, provider)
	}
	return out
}

func (t *Tracker) usageLocked(provider string, now time.Time) Usage {
	lim := t.limits[provider]
	stamps := t.stamps[provider]

	u := Usage{
		Provider: provider,
		Minute:   windowUsage("minute", stamps, now, MinuteWindow, lim.PerMinute),
		Hour:     windowUsage("hour", stamps, now, HourWindow, lim.PerHour),
		Day:      windowUsage("day", stamps, now, DayWindow, lim.PerDay),
	}
	u.Worst = worst(u.Minute.Status, u.Hour.Status, u.Day.Status)
	return u
}

func windowUsage(name string, stamps []time.Time, now time.Time, window time.Duration, limit int) WindowUsage {
	cutoff := now.Add(-window)
	count := 0
	var oldest time.Time
	for _, ts := range stamps {
		if ts.After(cutoff) {
			if count == 0 {
				oldest = ts
			}
			count++
		}
	}

	u := WindowUsage{Window: name, Count: count, Limit: limit, Status: StatusOK}
	if count > 0 {
		u.ResetAt = oldest.Add(window)
	}
	if limit <= 0 {
		return u
	}
	switch {
	case count >= limit:
		u.Status = StatusBlocked
	case float64(count) >= approachingFraction*float64(limit):
		u.Status = StatusApproaching
	}
	return u
}

func worst(statuses ...Status) Status {
	w := StatusOK
	for _, s := range statuses {
		if s > w {
			w = s
		}
	}
	return w
}

// prune returns the suffix of stamps newer than cutoff.
// Timestamps are appended in order, so the first retained index is a scan.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[idx:]...)
}
