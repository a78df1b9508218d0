package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"modelmux/internal/cache"
	"modelmux/internal/health"
	"modelmux/internal/observability/metrics"
	"modelmux/internal/provider"
	"modelmux/internal/ratebudget"
	"modelmux/internal/routing"
)

// probesPerSecond paces health probes so a large provider set does not burst.
const probesPerSecond = 5

// MaintenanceDeps carries the shared state the default jobs operate on.
type MaintenanceDeps struct {
	Cache           *cache.Cache
	CacheMaxEntries int
	Budget          *ratebudget.Tracker
	Health          *health.Tracker
	Registry        *provider.Registry
	Router          *routing.Service
	Logger          *slog.Logger
}

// DefaultJobs returns the standard maintenance job set. Each job is
// independently toggleable and manually triggerable through the scheduler's
// administrative API.
func DefaultJobs(d MaintenanceDeps) []*Job {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return []*Job{
		{
			ID:       "cache-cleanup",
			Schedule: "@every 5m",
			Priority: PriorityMedium,
			Timeout:  30 * time.Second,
			Retry:    RetryPolicy{MaxRetries: 1, Delay: 5 * time.Second},
			Enabled:  true,
			Handler:  cacheCleanup(d, logger),
		},
		{
			ID:       "metrics-reset",
			Schedule: "@every 1h",
			Priority: PriorityLow,
			Timeout:  30 * time.Second,
			Retry:    RetryPolicy{MaxRetries: 2, Delay: 10 * time.Second},
			Enabled:  true,
			Handler:  metricsReset(d, logger),
		},
		{
			ID:       "health-probe",
			Schedule: "@every 1m",
			Priority: PriorityHigh,
			Timeout:  45 * time.Second,
			Retry:    RetryPolicy{MaxRetries: 1, Delay: 5 * time.Second},
			Enabled:  true,
			Handler:  healthProbe(d, logger),
		},
		{
			ID:       "load-rebalance",
			Schedule: "@every 5m",
			Priority: PriorityMedium,
			Timeout:  15 * time.Second,
			Retry:    RetryPolicy{MaxRetries: 1, Delay: 5 * time.Second},
			Enabled:  true,
			Handler:  loadRebalance(d, logger),
		},
		{
			ID:        "data-consolidation",
			Schedule:  "30 0 * * *",
			Priority:  PriorityLow,
			DependsOn: []string{"metrics-reset"},
			Timeout:   2 * time.Minute,
			Retry:     RetryPolicy{MaxRetries: 3, Delay: 30 * time.Second},
			Enabled:   true,
			Handler:   dataConsolidation(d, logger),
		},
	}
}

// cacheCleanup sweeps expired cache entries and trims the cache to its
// configured entry cap.
func cacheCleanup(d MaintenanceDeps, logger *slog.Logger) Handler {
	return func(_ context.Context) error {
		swept := d.Cache.Sweep()
		trimmed := d.Cache.TrimTo(d.CacheMaxEntries)
		stats := d.Cache.Stats()
		logger.Info("cache cleanup completed",
			slog.Int("swept", swept),
			slog.Int("trimmed", trimmed),
			slog.Int("entries", stats.Entries),
			slog.Int64("approx_bytes", stats.ApproxBytes))
		return nil
	}
}

// metricsReset compacts the rate budget timestamp stores and refreshes the
// per-provider budget gauges.
func metricsReset(d MaintenanceDeps, logger *slog.Logger) Handler {
	return func(_ context.Context) error {
		d.Budget.Compact()
		for _, id := range d.Budget.Providers() {
			usage := d.Budget.UsageFor(id)
			metrics.RateBudgetStatus.WithLabelValues(id).Set(float64(usage.Worst))
		}
		logger.Info("rate budget compacted")
		return nil
	}
}

// healthProbe fans a health check out to every registered provider, paced by
// a token-bucket limiter, and feeds the results into the health tracker.
func healthProbe(d MaintenanceDeps, logger *slog.Logger) Handler {
	limiter := rate.NewLimiter(rate.Limit(probesPerSecond), 1)

	return func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)

		for id, p := range d.Registry.All() {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			g.Go(func() error {
				start := time.Now()
				status, err := p.HealthCheck(gctx)
				latency := time.Since(start)

				healthy := err == nil && status != nil && status.Healthy
				if status != nil && status.Latency > 0 {
					latency = status.Latency
				}
				d.Health.RecordOutcome(id, latency, healthy)

				if !healthy {
					msg := ""
					if status != nil {
						msg = status.Message
					}
					logger.Warn("health probe failed",
						slog.String("provider", id),
						slog.String("message", msg),
						slog.Any("error", err))
				}
				return nil
			})
		}

		return g.Wait()
	}
}

// loadRebalance recomputes the per-provider load factors so the least-used
// strategy and operators see fresh balance data.
func loadRebalance(d MaintenanceDeps, logger *slog.Logger) Handler {
	return func(_ context.Context) error {
		var minLoad, maxLoad float64
		first := true
		for _, id := range d.Registry.IDs() {
			load := d.Router.LoadFactor(id)
			metrics.ProviderLoadFactor.WithLabelValues(id).Set(load)
			if first {
				minLoad, maxLoad = load, load
				first = false
				continue
			}
			if load < minLoad {
				minLoad = load
			}
			if load > maxLoad {
				maxLoad = load
			}
		}
		logger.Info("load rebalance completed",
			slog.Float64("min_load", minLoad),
			slog.Float64("max_load", maxLoad),
			slog.Float64("skew", maxLoad-minLoad))
		return nil
	}
}

// dataConsolidation aggregates the day's per-provider outcomes into one
// summary log record for the external metrics sink.
func dataConsolidation(d MaintenanceDeps, logger *slog.Logger) Handler {
	return func(_ context.Context) error {
		var successes, errors int64
		for id, snap := range d.Health.All() {
			successes += snap.SuccessCount
			errors += snap.ErrorCount
			usage := d.Budget.UsageFor(id)
			logger.Info("provider daily summary",
				slog.String("provider", id),
				slog.Int64("successes", snap.SuccessCount),
				slog.Int64("errors", snap.ErrorCount),
				slog.Duration("avg_latency", snap.AvgLatency),
				slog.Int("day_requests", usage.Day.Count))
		}
		logger.Info("data consolidation completed",
			slog.Int64("total_successes", successes),
			slog.Int64("total_errors", errors))
		return nil
	}
}
