// Package routing implements the provider routing and fallback engine.
//
// Route consults the rate budget tracker, circuit breakers, and health
// tracker to pick a candidate provider per the category's strategy, executes
// the call, records the outcome back into the shared trackers, and falls back
// through the remaining preferred and fallback providers on failure. When
// every candidate is exhausted it returns a graceful degradation response
// rather than an error.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"modelmux/internal/cache"
	"modelmux/internal/config"
	"modelmux/internal/health"
	"modelmux/internal/observability/metrics"
	"modelmux/internal/observability/tracing"
	"modelmux/internal/provider"
	"modelmux/internal/ratebudget"
	"modelmux/internal/resilience/circuitbreaker"
)

// defaultMaxTokens bounds responses when the caller does not specify a limit.
const defaultMaxTokens = 1024

// latencyNormCeiling is the smoothed latency treated as fully loaded (1.0)
// in the least-used load factor.
const latencyNormCeiling = 5 * time.Second

// Load factor weights: recent-minute volume dominates, then hourly volume,
// then latency.
const (
	loadWeightMinute  = 0.5
	loadWeightHour    = 0.3
	loadWeightLatency = 0.2
)

// Service is the routing engine. One instance owns the per-category
// round-robin cursors and in-flight counters; the health tracker, rate
// budget, breaker set, and cache are shared with the background scheduler.
type Service struct {
	categories map[string]config.Category
	providers  map[string]config.Provider

	registry *provider.Registry
	health   *health.Tracker
	budget   *ratebudget.Tracker
	breakers *circuitbreaker.Set
	cache    *cache.Cache
	logger   *slog.Logger

	mu       sync.Mutex
	rrCursor map[string]int
	inFlight map[string]int
}

// NewService constructs the routing engine over the shared state trackers.
func NewService(
	cfg *config.Config,
	registry *provider.Registry,
	healthTracker *health.Tracker,
	budget *ratebudget.Tracker,
	breakers *circuitbreaker.Set,
	responseCache *cache.Cache,
	logger *slog.Logger,
) *Service {
	categories := make(map[string]config.Category, len(cfg.Categories))
	for _, cat := range cfg.Categories {
		categories[cat.Name] = cat
	}
	providers := make(map[string]config.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.ID] = p
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		categories: categories,
		providers:  providers,
		registry:   registry,
		health:     healthTracker,
		budget:     budget,
		breakers:   breakers,
		cache:      responseCache,
		logger:     logger,
		rrCursor:   make(map[string]int),
		inFlight:   make(map[string]int),
	}
}

// Route serves one request for the category. It never returns an error for
// provider-side failures; the only error is ErrUnknownCategory.
func (s *Service) Route(ctx context.Context, category string, req Request) (*Result, error) {
	cat, ok := s.categories[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	ctx, span := tracing.Tracer().Start(ctx, "routing.Route")
	defer span.End()
	span.SetAttributes(attribute.String("category", category))

	started := time.Now()

	fp := cache.Fingerprint(category+"/"+req.ConsumerID, req.Prompt, req.Params)
	if payload, hit := s.cache.Get(fp); hit {
		metrics.RouteRequestsTotal.WithLabelValues(category, "cached").Inc()
		span.SetAttributes(attribute.Bool("cached", true))
		return &Result{
			Content:      payload.Content,
			ProviderUsed: payload.ProviderUsed,
			TierUsed:     payload.TierUsed,
			Cached:       true,
			TokensUsed:   provider.TokenUsage{Input: payload.TokensInput, Output: payload.TokensOutput},
			LatencyMs:    time.Since(started).Milliseconds(),
		}, nil
	}

	var lastErr error
	lists := []struct {
		ids      []string
		fallback bool
	}{
		{ids: cat.Preferred},
		{ids: cat.Fallback, fallback: true},
	}

	tried := make(map[string]bool)
	for _, list := range lists {
		for {
			// Candidate state may have shifted during the previous
			// attempt, so re-filter each pass instead of trusting a
			// stale snapshot.
			candidates := s.filterCandidates(list.ids, tried)
			if len(candidates) == 0 {
				break
			}
			id := s.selectCandidate(category, cat.Strategy, candidates)
			tried[id] = true

			resp, latency, err := s.attempt(ctx, id, req)
			if err != nil {
				lastErr = fmt.Errorf("%s: %w", id, err)
				s.logger.Warn("provider attempt failed",
					slog.String("category", category),
					slog.String("provider", id),
					slog.Bool("fallback_list", list.fallback),
					slog.Any("error", err))
				continue
			}

			s.cache.Set(fp, cache.Payload{
				Content:      resp.Content,
				ProviderUsed: id,
				TierUsed:     s.providers[id].Tier,
				TokensInput:  resp.TokensUsed.Input,
				TokensOutput: resp.TokensUsed.Output,
			}, cat.CacheTTL.Std())

			fallbackUsed := list.fallback
			reason := ""
			if lastErr != nil {
				reason = lastErr.Error()
			}
			if fallbackUsed {
				metrics.FallbacksTotal.WithLabelValues(category, "provider").Inc()
			}
			metrics.RouteRequestsTotal.WithLabelValues(category, "served").Inc()
			span.SetAttributes(attribute.String("provider", id))

			return &Result{
				Content:      resp.Content,
				ProviderUsed: id,
				TierUsed:     s.providers[id].Tier,
				TokensUsed:   resp.TokensUsed,
				LatencyMs:    latency.Milliseconds(),
				FallbackUsed: fallbackUsed,
				Reason:       reason,
			}, nil
		}
	}

	metrics.RouteRequestsTotal.WithLabelValues(category, "degraded").Inc()
	metrics.FallbacksTotal.WithLabelValues(category, "degraded").Inc()
	return s.degrade(category, started, lastErr), nil
}

// filterCandidates returns the ids from list that are simultaneously
// untried, rate-admissible, circuit-admissible, below their concurrency
// ceiling, and not known-unhealthy. Never-probed providers are routable;
// only a provider with a recorded bad streak is excluded. Health filtering
// is relaxed entirely when every configured provider is known-unhealthy, so
// the system degrades to attempting calls instead of deadlocking.
func (s *Service) filterCandidates(list []string, tried map[string]bool) []string {
	relaxHealth := s.noneHealthy()

	out := make([]string, 0, len(list))
	for _, id := range list {
		if tried[id] {
			continue
		}
		if _, ok := s.registry.Get(id); !ok {
			continue
		}
		if !s.budget.WouldAdmit(id) {
			continue
		}
		if !s.breakers.For(id).Allow() {
			continue
		}
		if !relaxHealth {
			if snap := s.health.Snapshot(id); snap.Known && !snap.Healthy {
				continue
			}
		}
		if !s.belowConcurrencyCeiling(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// noneHealthy reports whether every configured provider is known-unhealthy.
func (s *Service) noneHealthy() bool {
	for id := range s.providers {
		snap := s.health.Snapshot(id)
		if !snap.Known || snap.Healthy {
			return false
		}
	}
	return true
}

// attempt executes one provider call through its circuit breaker and records
// the outcome in the rate budget, health tracker, and metrics.
func (s *Service) attempt(ctx context.Context, id string, req Request) (*provider.CallResponse, time.Duration, error) {
	p, ok := s.registry.Get(id)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", errNotRegistered, id)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	callReq := provider.CallRequest{
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	s.addInFlight(id, 1)
	defer s.addInFlight(id, -1)

	start := time.Now()
	out, err := s.breakers.For(id).Execute(func() (interface{}, error) {
		// Usage is recorded only once the breaker admits the call, never
		// for rejected attempts or the pure WouldAdmit filter checks.
		s.budget.Record(id)
		return p.Call(ctx, callReq)
	})
	latency := time.Since(start)

	if err != nil {
		// A breaker rejection means no call happened, so it must not
		// count against the provider's health.
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, latency, fmt.Errorf("circuit breaker rejected call: %w", err)
		}
		s.health.RecordOutcome(id, latency, false)
		metrics.ObserveProviderCall(id, latency, false)
		return nil, latency, err
	}

	resp := out.(*provider.CallResponse)
	s.health.RecordOutcome(id, latency, true)
	metrics.ObserveProviderCall(id, latency, true)
	metrics.TokensUsedTotal.WithLabelValues(id, "input").Add(float64(resp.TokensUsed.Input))
	metrics.TokensUsedTotal.WithLabelValues(id, "output").Add(float64(resp.TokensUsed.Output))
	return resp, latency, nil
}

func (s *Service) belowConcurrencyCeiling(id string) bool {
	ceiling := s.providers[id].MaxConcurrency
	if ceiling <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[id] < ceiling
}

func (s *Service) addInFlight(id string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight[id] += delta
	if s.inFlight[id] < 0 {
		s.inFlight[id] = 0
	}
}

// Categories returns the configured category names.
func (s *Service) Categories() []string {
	out := make([]string, 0, len(s.categories))
	for name := range s.categories {
		out = append(out, name)
	}
	return out
}
