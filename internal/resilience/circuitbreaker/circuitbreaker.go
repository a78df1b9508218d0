// Package circuitbreaker provides per-provider circuit breakers for upstream
// model provider calls. It uses the github.com/sony/gobreaker library to
// prevent cascading failures: after a run of consecutive failures the circuit
// opens, calls are rejected for a reset timeout, then a single trial call is
// admitted half-open before the circuit closes again or reopens.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"modelmux/internal/observability/metrics"
)

// Config holds the configuration for one provider's circuit breaker.
type Config struct {
	// Name is the breaker name for logging and metrics, normally the
	// provider id.
	Name string

	// FailureThreshold is the number of consecutive failures that trips
	// the circuit.
	FailureThreshold uint32

	// ResetTimeout is how long the circuit stays open before a half-open
	// trial call is permitted.
	ResetTimeout time.Duration
}

// DefaultConfig returns the default breaker configuration for a provider:
// five consecutive failures trip the circuit, which stays open for a minute.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// errRecordedFailure marks a failure reported through RecordResult so the
// underlying breaker counts it.
var errRecordedFailure = errors.New("recorded failure")

// Breaker wraps gobreaker.CircuitBreaker with an administrative forced-open
// deadline. While forced open, admission is denied regardless of the organic
// breaker state; once the deadline passes the organic state applies again.
type Breaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string

	mu          sync.Mutex
	forcedUntil time.Time
}

// New creates a circuit breaker with the given configuration. The half-open
// state admits exactly one trial call; its success closes the circuit and its
// failure reopens it.
func New(cfg Config) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultConfig(cfg.Name).FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}

	return &Breaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs fn through the circuit breaker, recording its outcome.
// While the circuit is open (organically or by ForceOpen) it returns
// gobreaker.ErrOpenState without invoking fn.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	if b.forcedOpen() {
		return nil, gobreaker.ErrOpenState
	}
	return b.breaker.Execute(fn)
}

// RecordResult feeds a call outcome into the breaker without wrapping the
// call itself. Used when the outcome is observed elsewhere, such as health
// probes replayed into breaker state in tests.
func (b *Breaker) RecordResult(success bool) {
	_, _ = b.breaker.Execute(func() (interface{}, error) {
		if success {
			return nil, nil
		}
		return nil, errRecordedFailure
	})
}

// Allow reports whether a call may be attempted: the circuit is closed, or
// half-open with its trial slot free.
func (b *Breaker) Allow() bool {
	return !b.IsOpen()
}

// IsOpen returns true while the circuit rejects calls, either because the
// organic state is open or because an administrative cooldown is active.
func (b *Breaker) IsOpen() bool {
	if b.forcedOpen() {
		return true
	}
	return b.breaker.State() == gobreaker.StateOpen
}

// ForceOpen rejects all calls for the given duration, independent of organic
// failures. Passing a non-positive duration clears a pending cooldown.
func (b *Breaker) ForceOpen(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d <= 0 {
		b.forcedUntil = time.Time{}
		return
	}
	b.forcedUntil = time.Now().Add(d)
	slog.Warn("circuit breaker forced open",
		slog.String("circuit", b.name),
		slog.Duration("duration", d))
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(stateValue(gobreaker.StateOpen))
}

// State returns "closed", "half-open", or "open". A forced cooldown reports
// as open.
func (b *Breaker) State() string {
	if b.forcedOpen() {
		return gobreaker.StateOpen.String()
	}
	return b.breaker.State().String()
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) forcedOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return time.Now().Before(b.forcedUntil)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
