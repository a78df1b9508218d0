// Package health tracks rolling health and latency statistics per provider.
//
// The tracker owns all mutation of health state; the routing engine and the
// background scheduler only read snapshots from it. Latency is smoothed with
// an exponential moving average, and consecutive errors drive the healthy
// flag: three or more consecutive errors mark a provider unhealthy, and each
// success works the counter back down rather than resetting it.
package health

import (
	"sync"
	"time"

	"modelmux/internal/observability/metrics"
)

const (
	// latencySmoothing is the EWMA weight applied to the newest latency sample.
	latencySmoothing = 0.1

	// unhealthyThreshold is the consecutive-error count at which a provider
	// is considered unhealthy.
	unhealthyThreshold = 3
)

// Snapshot is a point-in-time view of one provider's health.
type Snapshot struct {
	Provider          string
	Known             bool
	Healthy           bool
	AvgLatency        time.Duration
	SuccessCount      int64
	ErrorCount        int64
	ConsecutiveErrors int
	LastError         time.Time
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time { return time.Now() }

type providerState struct {
	avgLatency        time.Duration
	successCount      int64
	errorCount        int64
	consecutiveErrors int
	lastError         time.Time
}

// Tracker records call outcomes and exposes health snapshots per provider.
// All methods are safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	state map[string]*providerState
	clock Clock
}

// NewTracker creates a Tracker using the system clock.
func NewTracker() *Tracker {
	return NewTrackerWithClock(SystemClock{})
}

// NewTrackerWithClock creates a Tracker with an injectable clock for tests.
func NewTrackerWithClock(clock Clock) *Tracker {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Tracker{
		state: make(map[string]*providerState),
		clock: clock,
	}
}

// RecordOutcome folds one call outcome into the provider's rolling state.
//
// Latency is folded into the smoothed average with weight 0.1. The
// consecutive-error counter is incremented on failure and decremented on
// success, floored at zero; it is never reset outright, so a provider that
// alternates failures and successes recovers gradually.
func (t *Tracker) RecordOutcome(provider string, latency time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.state[provider]
	if !ok {
		s = &providerState{}
		t.state[provider] = s
	}

	if s.avgLatency == 0 {
		s.avgLatency = latency
	} else {
		s.avgLatency = time.Duration(
			(1-latencySmoothing)*float64(s.avgLatency) + latencySmoothing*float64(latency))
	}

	if success {
		s.successCount++
		if s.consecutiveErrors > 0 {
			s.consecutiveErrors--
		}
	} else {
		s.errorCount++
		s.consecutiveErrors++
		s.lastError = t.clock.Now()
	}

	t.export(provider, s)
}

// Snapshot returns the health snapshot for one provider.
// Never-seen providers return a default snapshot with Known=false so
// callers can decide how to treat the absence of data.
func (t *Tracker) Snapshot(provider string) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.state[provider]
	if !ok {
		return Snapshot{Provider: provider}
	}
	return snapshotOf(provider, s)
}

// All returns snapshots for every provider the tracker has seen.
func (t *Tracker) All() map[string]Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Snapshot, len(t.state))
	for provider, s := range t.state {
		out[provider] = snapshotOf(provider, s)
	}
	return out
}

// Reset clears all recorded state for the provider. Administrative use only.
func (t *Tracker) Reset(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.state, provider)
	metrics.ProviderHealthy.WithLabelValues(provider).Set(0)
	metrics.ProviderConsecutiveErrors.WithLabelValues(provider).Set(0)
}

func snapshotOf(provider string, s *providerState) Snapshot {
	return Snapshot{
		Provider:          provider,
		Known:             true,
		Healthy:           s.consecutiveErrors < unhealthyThreshold,
		AvgLatency:        s.avgLatency,
		SuccessCount:      s.successCount,
		ErrorCount:        s.errorCount,
		ConsecutiveErrors: s.consecutiveErrors,
		LastError:         s.lastError,
	}
}

// export mirrors the provider's state into Prometheus gauges.
// Caller must hold t.mu.
func (t *Tracker) export(provider string, s *providerState) {
	healthy := 0.0
	if s.consecutiveErrors < unhealthyThreshold {
		healthy = 1.0
	}
	metrics.ProviderHealthy.WithLabelValues(provider).Set(healthy)
	metrics.ProviderConsecutiveErrors.WithLabelValues(provider).Set(float64(s.consecutiveErrors))
	metrics.ProviderSmoothedLatency.WithLabelValues(provider).Set(s.avgLatency.Seconds())
}
